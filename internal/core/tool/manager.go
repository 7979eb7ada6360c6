package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	"go.uber.org/zap"
)

// Tool name constants
const (
	ToolNameTransferCall = "transfer_call"
	ToolNameEndCall      = "end_call"
)

// EmptySchema is the parameter schema of tools that take no arguments.
var EmptySchema = map[string]interface{}{
	"type":       "object",
	"properties": map[string]interface{}{},
}

var ErrUnknownTool = errors.New("unknown tool")

// ToolExecutorFunc executes one tool call. The returned string is handed back to the model.
type ToolExecutorFunc func(ctx context.Context, argumentsJSON string) (string, error)

// ToolDefinition defines a tool with its metadata and execution logic
type ToolDefinition struct {
	Name        string                 // Tool name (e.g., "transfer_call")
	Description string                 // Tool description shown to the model
	Parameters  map[string]interface{} // JSON schema of the arguments
	Executor    ToolExecutorFunc
}

// ToolManager is a closed dispatch table: only registered names can be executed.
type ToolManager struct {
	registry map[string]*ToolDefinition
}

// NewToolManager creates a tool manager holding the given tools
func NewToolManager(tools ...*ToolDefinition) (*ToolManager, error) {
	m := &ToolManager{
		registry: make(map[string]*ToolDefinition),
	}
	for _, t := range tools {
		if err := m.RegisterTool(t); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RegisterTool registers a tool. Names must be unique and carry an executor.
func (m *ToolManager) RegisterTool(tool *ToolDefinition) error {
	if tool == nil || tool.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Executor == nil {
		return fmt.Errorf("tool %s has no executor", tool.Name)
	}
	if _, exists := m.registry[tool.Name]; exists {
		return fmt.Errorf("tool %s already registered", tool.Name)
	}
	if tool.Parameters == nil {
		tool.Parameters = EmptySchema
	}
	m.registry[tool.Name] = tool
	logger.Base().Debug("Registered tool", zap.String("name", tool.Name))
	return nil
}

// Definitions returns the registered tools sorted by name.
func (m *ToolManager) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(m.registry))
	for _, t := range m.registry {
		defs = append(defs, *t)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// ExecuteTool routes a model tool call to its executor
func (m *ToolManager) ExecuteTool(ctx context.Context, toolName string, argumentsJSON string) (string, error) {
	tool, exists := m.registry[toolName]
	if !exists {
		logger.Warn(ctx, "Model requested unregistered tool", zap.String("tool_name", toolName))
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, toolName)
	}

	if argumentsJSON != "" && !json.Valid([]byte(argumentsJSON)) {
		return "", fmt.Errorf("tool %s: arguments are not valid JSON", toolName)
	}

	logger.Info(ctx, "Executing tool", zap.String("tool_name", toolName))
	return tool.Executor(ctx, argumentsJSON)
}
