package model

import (
	"context"
	"fmt"

	"github.com/ClareAI/astra-outbound-caller/internal/config"
	"github.com/ClareAI/astra-outbound-caller/internal/core/model/deepgram"
	"github.com/ClareAI/astra-outbound-caller/internal/core/model/gemini"
	"github.com/ClareAI/astra-outbound-caller/internal/core/model/openai"
	"github.com/ClareAI/astra-outbound-caller/internal/core/pipeline"
)

// Engines are the three model backends a conversational session needs.
type Engines struct {
	Listener    pipeline.Listener
	Thinker     pipeline.Thinker
	Synthesizer pipeline.Synthesizer
}

// SessionFactory builds one pipeline session per call.
type SessionFactory interface {
	NewSession() pipeline.Session
}

// DefaultSessionFactory shares the engine clients across calls.
type DefaultSessionFactory struct {
	engines Engines
	opts    pipeline.Options
}

// NewEngines creates the speech, language and voice clients from configuration.
func NewEngines(ctx context.Context, cfg config.ModelConfig) (Engines, error) {
	listener, err := deepgram.NewListener(deepgram.Config{
		APIKey:      cfg.DeepgramAPIKey,
		BaseURL:     cfg.DeepgramBaseURL,
		Model:       cfg.STTModel,
		Language:    cfg.STTLanguage,
		Endpointing: cfg.STTEndpointing,
	})
	if err != nil {
		return Engines{}, fmt.Errorf("speech recognition: %w", err)
	}

	thinker, err := gemini.NewLLM(ctx, gemini.Config{
		APIKey:           cfg.GoogleAPIKey,
		Model:            cfg.LLMModel,
		Temperature:      cfg.LLMTemperature,
		MaxOutputTokens:  cfg.LLMMaxTokens,
		PresencePenalty:  cfg.LLMPresencePen,
		FrequencyPenalty: cfg.LLMFrequencyPen,
	})
	if err != nil {
		return Engines{}, fmt.Errorf("language model: %w", err)
	}

	synth, err := openai.NewTTS(openai.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.TTSModel,
		Voice:   cfg.TTSVoice,
		Speed:   cfg.TTSSpeed,
	})
	if err != nil {
		return Engines{}, fmt.Errorf("speech synthesis: %w", err)
	}

	return Engines{Listener: listener, Thinker: thinker, Synthesizer: synth}, nil
}

// SessionOptions maps the tuning knobs onto pipeline options.
func SessionOptions(cfg config.ModelConfig) pipeline.Options {
	opts := pipeline.DefaultOptions()
	if cfg.MaxToolSteps > 0 {
		opts.MaxToolSteps = cfg.MaxToolSteps
	}
	if cfg.MinInterruptWords > 0 {
		opts.MinInterruptionWords = cfg.MinInterruptWords
	}
	if cfg.MinInterruptDur > 0 {
		opts.MinInterruptionDuration = cfg.MinInterruptDur
	}
	return opts
}

func NewSessionFactory(engines Engines, opts pipeline.Options) *DefaultSessionFactory {
	return &DefaultSessionFactory{engines: engines, opts: opts}
}

func (f *DefaultSessionFactory) NewSession() pipeline.Session {
	return pipeline.NewAgentSession(f.engines.Listener, f.engines.Thinker, f.engines.Synthesizer, f.opts)
}
