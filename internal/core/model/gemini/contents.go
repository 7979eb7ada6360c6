package gemini

import (
	"encoding/json"

	"github.com/ClareAI/astra-outbound-caller/internal/core/pipeline"
	"google.golang.org/genai"
)

// BuildContents maps the conversation history to Gemini contents. One-off instructions are
// appended as a final user turn so they steer only this generation.
func BuildContents(turn pipeline.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turn.History)+1)

	for _, m := range turn.History {
		switch m.Role {
		case pipeline.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Text, genai.RoleUser))

		case pipeline.RoleAssistant:
			var parts []*genai.Part
			if m.Text != "" {
				parts = append(parts, genai.NewPartFromText(m.Text))
			}
			for _, call := range m.ToolCalls {
				parts = append(parts, genai.NewPartFromFunctionCall(call.Name, decodeArgs(call.Arguments)))
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}

		case pipeline.RoleTool:
			if m.ToolResult == nil {
				continue
			}
			key := "output"
			if m.ToolResult.IsError {
				key = "error"
			}
			part := genai.NewPartFromFunctionResponse(m.ToolResult.Name, map[string]any{key: m.ToolResult.Output})
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		}
	}

	if turn.Instructions != "" {
		contents = append(contents, genai.NewContentFromText(turn.Instructions, genai.RoleUser))
	}
	return contents
}

func decodeArgs(raw string) map[string]any {
	args := map[string]any{}
	if raw == "" {
		return args
	}
	_ = json.Unmarshal([]byte(raw), &args)
	return args
}

func encodeArgs(args map[string]any) (string, error) {
	if len(args) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
