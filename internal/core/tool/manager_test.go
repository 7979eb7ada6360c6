package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo(result string) ToolExecutorFunc {
	return func(context.Context, string) (string, error) { return result, nil }
}

func TestExecuteToolRoutesByName(t *testing.T) {
	m, err := NewToolManager(
		&ToolDefinition{Name: ToolNameTransferCall, Description: "transfer", Executor: echo("transferred")},
		&ToolDefinition{Name: ToolNameEndCall, Description: "end", Executor: echo("ended")},
	)
	require.NoError(t, err)

	got, err := m.ExecuteTool(context.Background(), ToolNameEndCall, "{}")
	require.NoError(t, err)
	assert.Equal(t, "ended", got)

	got, err = m.ExecuteTool(context.Background(), ToolNameTransferCall, "")
	require.NoError(t, err)
	assert.Equal(t, "transferred", got)
}

func TestExecuteToolRejectsUnknownAndBadArgs(t *testing.T) {
	m, err := NewToolManager(&ToolDefinition{Name: ToolNameEndCall, Executor: echo("ok")})
	require.NoError(t, err)

	_, err = m.ExecuteTool(context.Background(), "send_sms", "{}")
	assert.ErrorIs(t, err, ErrUnknownTool)

	_, err = m.ExecuteTool(context.Background(), ToolNameEndCall, "{not json")
	assert.Error(t, err)
}

func TestRegisterToolValidation(t *testing.T) {
	_, err := NewToolManager(&ToolDefinition{Name: "x"})
	assert.Error(t, err)

	_, err = NewToolManager(
		&ToolDefinition{Name: "x", Executor: echo("")},
		&ToolDefinition{Name: "x", Executor: echo("")},
	)
	assert.Error(t, err)
}

func TestDefinitionsSortedWithDefaultSchema(t *testing.T) {
	m, err := NewToolManager(
		&ToolDefinition{Name: ToolNameTransferCall, Executor: echo("")},
		&ToolDefinition{Name: ToolNameEndCall, Executor: echo("")},
	)
	require.NoError(t, err)

	defs := m.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, ToolNameEndCall, defs[0].Name)
	assert.Equal(t, EmptySchema, defs[1].Parameters)
}
