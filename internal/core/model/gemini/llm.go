package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ClareAI/astra-outbound-caller/internal/core/pipeline"
	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Config tunes generation.
type Config struct {
	APIKey           string
	BaseURL          string // optional override, used by tests
	Model            string
	Temperature      float32
	MaxOutputTokens  int32
	PresencePenalty  float32
	FrequencyPenalty float32
}

// LLM implements pipeline.Thinker on the Gemini API.
type LLM struct {
	client *genai.Client
	cfg    Config
}

// NewLLM creates a Gemini-backed model client.
func NewLLM(ctx context.Context, cfg Config) (*LLM, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("Gemini API key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("Gemini model is required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}

	logger.Base().Info("Gemini LLM initialized", zap.String("model", cfg.Model))
	return &LLM{client: client, cfg: cfg}, nil
}

// Respond runs one generation over the conversation history.
func (l *LLM) Respond(ctx context.Context, turn pipeline.Turn) (pipeline.Response, error) {
	contents := BuildContents(turn)
	if len(contents) == 0 {
		return pipeline.Response{}, errors.New("nothing to respond to")
	}

	resp, err := l.client.Models.GenerateContent(ctx, l.cfg.Model, contents, l.generateConfig(turn))
	if err != nil {
		return pipeline.Response{}, fmt.Errorf("gemini generate: %w", err)
	}

	out := pipeline.Response{Text: strings.TrimSpace(resp.Text())}
	for _, fc := range resp.FunctionCalls() {
		id := fc.ID
		if id == "" {
			id = uuid.NewString()
		}
		args, err := encodeArgs(fc.Args)
		if err != nil {
			return pipeline.Response{}, fmt.Errorf("encode %s arguments: %w", fc.Name, err)
		}
		out.ToolCalls = append(out.ToolCalls, pipeline.ToolCall{ID: id, Name: fc.Name, Arguments: args})
	}

	logger.Debug(ctx, "Gemini response",
		zap.Int("text_len", len(out.Text)),
		zap.Int("tool_calls", len(out.ToolCalls)))
	return out, nil
}

func (l *LLM) generateConfig(turn pipeline.Turn) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(l.cfg.Temperature),
		MaxOutputTokens:  l.cfg.MaxOutputTokens,
		PresencePenalty:  genai.Ptr(l.cfg.PresencePenalty),
		FrequencyPenalty: genai.Ptr(l.cfg.FrequencyPenalty),
	}
	if turn.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(turn.SystemPrompt, genai.RoleUser)
	}
	if len(turn.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(turn.Tools))
		for _, t := range turn.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}
