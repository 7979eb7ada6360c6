package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ClareAI/astra-outbound-caller/internal/core/pipeline"
	"github.com/ClareAI/astra-outbound-caller/internal/core/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestBuildContents(t *testing.T) {
	turn := pipeline.Turn{
		History: []pipeline.Message{
			{Role: pipeline.RoleUser, Text: "not interested"},
			{Role: pipeline.RoleAssistant, Text: "Understood.", ToolCalls: []pipeline.ToolCall{
				{ID: "1", Name: tool.ToolNameEndCall, Arguments: `{}`},
			}},
			{Role: pipeline.RoleTool, ToolResult: &pipeline.ToolResult{CallID: "1", Name: tool.ToolNameEndCall, Output: "ended"}},
			{Role: pipeline.RoleTool},
		},
		Instructions: "say goodbye",
	}

	contents := BuildContents(turn)
	require.Len(t, contents, 4)

	assert.Equal(t, genai.RoleUser, contents[0].Role)
	assert.Equal(t, "not interested", contents[0].Parts[0].Text)

	assert.Equal(t, genai.RoleModel, contents[1].Role)
	require.Len(t, contents[1].Parts, 2)
	require.NotNil(t, contents[1].Parts[1].FunctionCall)
	assert.Equal(t, tool.ToolNameEndCall, contents[1].Parts[1].FunctionCall.Name)

	require.NotNil(t, contents[2].Parts[0].FunctionResponse)
	assert.Equal(t, "ended", contents[2].Parts[0].FunctionResponse.Response["output"])

	assert.Equal(t, "say goodbye", contents[3].Parts[0].Text)
}

func TestBuildContentsErrorResult(t *testing.T) {
	contents := BuildContents(pipeline.Turn{History: []pipeline.Message{
		{Role: pipeline.RoleTool, ToolResult: &pipeline.ToolResult{Name: "transfer_call", Output: "boom", IsError: true}},
	}})
	require.Len(t, contents, 1)
	assert.Equal(t, "boom", contents[0].Parts[0].FunctionResponse.Response["error"])
}

func TestArgsRoundTrip(t *testing.T) {
	s, err := encodeArgs(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", s)
	assert.Empty(t, decodeArgs(""))
	assert.Empty(t, decodeArgs("not json"))
	assert.Equal(t, map[string]any{"a": "b"}, decodeArgs(`{"a":"b"}`))
}

func TestNewLLMValidation(t *testing.T) {
	_, err := NewLLM(context.Background(), Config{Model: "m"})
	assert.Error(t, err)
	_, err = NewLLM(context.Background(), Config{APIKey: "k"})
	assert.Error(t, err)
}

func TestRespondParsesTextAndFunctionCalls(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":generateContent"), r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[
			{"text":"One moment please."},
			{"functionCall":{"name":"transfer_call","args":{}}}
		]}}]}`)
	}))
	defer srv.Close()

	llm, err := NewLLM(context.Background(), Config{
		APIKey:          "test",
		BaseURL:         srv.URL,
		Model:           "gemini-2.0-flash-001",
		Temperature:     0.7,
		MaxOutputTokens: 128,
	})
	require.NoError(t, err)

	resp, err := llm.Respond(context.Background(), pipeline.Turn{
		SystemPrompt: "You are a representative.",
		History:      []pipeline.Message{{Role: pipeline.RoleUser, Text: "put me through to a person"}},
		Tools: []tool.ToolDefinition{{
			Name:        tool.ToolNameTransferCall,
			Description: "transfer",
			Parameters:  tool.EmptySchema,
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, "One moment please.", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, tool.ToolNameTransferCall, resp.ToolCalls[0].Name)
	assert.Equal(t, "{}", resp.ToolCalls[0].Arguments)
	assert.NotEmpty(t, resp.ToolCalls[0].ID)

	assert.Contains(t, body, "systemInstruction")
	assert.Contains(t, body, "tools")
}

func TestRespondNothingToSay(t *testing.T) {
	llm := &LLM{cfg: Config{Model: "m"}}
	_, err := llm.Respond(context.Background(), pipeline.Turn{})
	assert.Error(t, err)
}
