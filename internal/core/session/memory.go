package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry keeps live calls in process when Redis is not configured.
type MemoryRegistry struct {
	mu    sync.RWMutex
	podID string
	calls map[string]CallInfo
}

func NewMemoryRegistry(podID string) *MemoryRegistry {
	return &MemoryRegistry{podID: podID, calls: make(map[string]CallInfo)}
}

func (r *MemoryRegistry) Register(_ context.Context, info CallInfo) error {
	info.PodID = r.podID
	if info.StartTime.IsZero() {
		info.StartTime = time.Now()
	}
	r.mu.Lock()
	r.calls[info.RoomName] = info
	r.mu.Unlock()
	return nil
}

func (r *MemoryRegistry) UpdateState(_ context.Context, roomName, state string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.calls[roomName]; ok {
		info.State = state
		r.calls[roomName] = info
	}
	return nil
}

func (r *MemoryRegistry) Unregister(_ context.Context, roomName string) error {
	r.mu.Lock()
	delete(r.calls, roomName)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRegistry) List(context.Context) ([]CallInfo, error) {
	r.mu.RLock()
	calls := make([]CallInfo, 0, len(r.calls))
	for _, c := range r.calls {
		calls = append(calls, c)
	}
	r.mu.RUnlock()

	sort.Slice(calls, func(i, j int) bool { return calls[i].StartTime.Before(calls[j].StartTime) })
	return calls, nil
}
