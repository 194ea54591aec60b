package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentos/agentos/internal/tool"
)

const defaultMaxTokens = 4096

// AnthropicClient implements Client against the Anthropic Messages API.
// Responses are non-streaming; the runtime consumes complete turns.
type AnthropicClient struct {
	client anthropic.Client
}

// NewAnthropicClient creates a client. The API key falls back to the
// ANTHROPIC_API_KEY environment variable when empty; baseURL is optional.
func NewAnthropicClient(apiKey, baseURL string) *AnthropicClient {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicClient{client: anthropic.NewClient(opts...)}
}

// Complete sends the conversation and returns the model's next turn.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: message request failed: %w", err)
	}

	resp := &Response{StopReason: string(message.StopReason)}
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			text := block.AsText()
			resp.Content = append(resp.Content, Block{Type: BlockText, Text: text.Text})
		case "tool_use":
			tu := block.AsToolUse()
			input, err := decodeToolInput(tu.Input)
			if err != nil {
				return nil, fmt.Errorf("anthropic: invalid tool input for %s: %w", tu.Name, err)
			}
			resp.Content = append(resp.Content, Block{
				Type:    BlockToolUse,
				ToolUse: &ToolUse{ID: tu.ID, Name: tu.Name, Input: input},
			})
		}
	}
	return resp, nil
}

// decodeToolInput normalizes the SDK's tool input into a plain map by
// round-tripping through JSON.
func decodeToolInput(input any) (map[string]any, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func convertMessages(turns []Turn) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(turns))
	for _, turn := range turns {
		var content []anthropic.ContentBlockParamUnion
		for _, block := range turn.Blocks {
			switch block.Type {
			case BlockText:
				content = append(content, anthropic.NewTextBlock(block.Text))
			case BlockToolUse:
				if block.ToolUse == nil {
					return nil, fmt.Errorf("tool_use block without payload")
				}
				content = append(content, anthropic.NewToolUseBlock(
					block.ToolUse.ID, block.ToolUse.Input, block.ToolUse.Name))
			case BlockToolResult:
				if block.ToolResult == nil {
					return nil, fmt.Errorf("tool_result block without payload")
				}
				content = append(content, anthropic.NewToolResultBlock(
					block.ToolResult.ToolUseID, block.ToolResult.Content, block.ToolResult.IsError))
			default:
				return nil, fmt.Errorf("unknown block type: %s", block.Type)
			}
		}

		if turn.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out, nil
}

// convertTools maps tool schemas to the Anthropic tool format: every
// parameter becomes a named, typed, described property; required parameters
// are listed; name and description pass through unchanged.
func convertTools(schemas []tool.Schema) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		properties := make(map[string]any, len(s.Parameters))
		var required []string
		for _, p := range s.Parameters {
			prop := map[string]any{
				"type":        p.Type,
				"description": p.Description,
			}
			if p.Default != nil {
				prop["default"] = p.Default
			}
			properties[p.Name] = prop
			if p.Required {
				required = append(required, p.Name)
			}
		}

		raw, err := json.Marshal(map[string]any{
			"type":       "object",
			"properties": properties,
			"required":   required,
		})
		if err != nil {
			return nil, err
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", s.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, s.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", s.Name)
		}
		toolParam.OfTool.Description = anthropic.String(s.Description)
		out = append(out, toolParam)
	}
	return out, nil
}
