package pipeline

import "encoding/binary"

// PCMFromBytes decodes little-endian 16-bit samples. A trailing odd byte is ignored.
func PCMFromBytes(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

// PCMToBytes encodes samples as little-endian 16-bit.
func PCMToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// Resample converts mono PCM between rates with linear interpolation.
func Resample(pcm []int16, from, to int) []int16 {
	if from == to || len(pcm) == 0 {
		return pcm
	}
	n := len(pcm) * to / from
	out := make([]int16, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= len(pcm)-1 {
			out[i] = pcm[len(pcm)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = int16(float64(pcm[idx])*(1-frac) + float64(pcm[idx+1])*frac)
	}
	return out
}
