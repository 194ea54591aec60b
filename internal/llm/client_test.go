package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentos/agentos/internal/tool"
)

func TestTurnBuilders(t *testing.T) {
	turn := UserText("do the thing")
	assert.Equal(t, RoleUser, turn.Role)
	require.Len(t, turn.Blocks, 1)
	assert.Equal(t, BlockText, turn.Blocks[0].Type)

	results := ToolResultsTurn([]ToolResult{
		{ToolUseID: "t1", Content: "ok"},
		{ToolUseID: "t2", Content: "boom", IsError: true},
	})
	assert.Equal(t, RoleUser, results.Role)
	require.Len(t, results.Blocks, 2)
	assert.Equal(t, "t2", results.Blocks[1].ToolResult.ToolUseID)
	assert.True(t, results.Blocks[1].ToolResult.IsError)
}

func TestResponseAccessors(t *testing.T) {
	resp := &Response{Content: []Block{
		{Type: BlockText, Text: "thinking out loud"},
		{Type: BlockToolUse, ToolUse: &ToolUse{ID: "t1", Name: "shell.execute"}},
		{Type: BlockText, Text: "done"},
	}}

	assert.Equal(t, "thinking out loud\ndone", resp.Text())
	uses := resp.ToolUses()
	require.Len(t, uses, 1)
	assert.Equal(t, "shell.execute", uses[0].Name)
}

func TestConvertTools(t *testing.T) {
	schemas := []tool.Schema{{
		Name:        "file.read",
		Description: "Read a file",
		Parameters: []tool.Parameter{
			{Name: "path", Type: "string", Description: "File path", Required: true},
			{Name: "max_bytes", Type: "integer", Description: "Cap", Default: 100000},
		},
	}}

	tools, err := convertTools(schemas)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "file.read", tools[0].OfTool.Name)

	props, ok := tools[0].OfTool.InputSchema.Properties.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "path")
	assert.Contains(t, props, "max_bytes")
}

func TestConvertMessagesRejectsEmptyPayloads(t *testing.T) {
	_, err := convertMessages([]Turn{{Role: RoleAssistant, Blocks: []Block{{Type: BlockToolUse}}}})
	assert.Error(t, err)
}

func TestDecodeToolInput(t *testing.T) {
	input, err := decodeToolInput(map[string]any{"command": "ls", "timeout": 5})
	require.NoError(t, err)
	assert.Equal(t, "ls", input["command"])
	assert.Equal(t, float64(5), input["timeout"], "JSON round-trip normalizes numbers")
}
