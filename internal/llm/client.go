// Package llm defines the inference-service contract used by the agent
// runtime, plus the Anthropic-backed implementation. The runtime only sees
// the types in this file, never provider SDK types.
package llm

import (
	"context"

	"github.com/agentos/agentos/internal/tool"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType classifies a content block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ToolUse is a tool invocation requested by the model.
type ToolUse struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult feeds a tool's outcome back into the conversation.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`
}

// Block is one unit of conversation content.
type Block struct {
	Type       BlockType   `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolUse    *ToolUse    `json:"tool_use,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// Turn is one conversation message: a role plus content blocks.
type Turn struct {
	Role   Role    `json:"role"`
	Blocks []Block `json:"blocks"`
}

// UserText builds a user turn containing a single text block.
func UserText(text string) Turn {
	return Turn{Role: RoleUser, Blocks: []Block{{Type: BlockText, Text: text}}}
}

// AssistantTurn builds an assistant turn from response blocks.
func AssistantTurn(blocks []Block) Turn {
	return Turn{Role: RoleAssistant, Blocks: blocks}
}

// ToolResultsTurn builds the user turn that carries tool results back to
// the model.
func ToolResultsTurn(results []ToolResult) Turn {
	blocks := make([]Block, len(results))
	for i := range results {
		blocks[i] = Block{Type: BlockToolResult, ToolResult: &results[i]}
	}
	return Turn{Role: RoleUser, Blocks: blocks}
}

// Request asks the inference service for the next assistant turn.
type Request struct {
	Model     string        `json:"model"`
	MaxTokens int64         `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []Turn        `json:"messages"`
	Tools     []tool.Schema `json:"tools,omitempty"`
}

// Response is the model's reply: text and/or tool-use blocks.
type Response struct {
	Content    []Block `json:"content"`
	StopReason string  `json:"stop_reason,omitempty"`
}

// ToolUses returns the tool invocations requested in the response.
func (r *Response) ToolUses() []*ToolUse {
	var uses []*ToolUse
	for i := range r.Content {
		if r.Content[i].Type == BlockToolUse && r.Content[i].ToolUse != nil {
			uses = append(uses, r.Content[i].ToolUse)
		}
	}
	return uses
}

// Text concatenates the text blocks of the response.
func (r *Response) Text() string {
	var out string
	for _, b := range r.Content {
		if b.Type == BlockText {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}

// Client is the inference-service collaborator. Implementations must be
// safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
