package runtime

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/agentos/agentos/internal/events"
	"github.com/agentos/agentos/internal/llm"
	"github.com/agentos/agentos/internal/tool"
)

const systemPromptFormat = `You are an autonomous agent running inside Agent OS. Your agent ID is %s.

Work toward the goal you are given. Use the available tools when they help; every tool call is checked against your granted capabilities and may be denied. When the goal is achieved, or you cannot make further progress, reply with plain text describing the outcome instead of calling tools.`

// runLoop drives one agent through the iterative reasoning cycle: ask the
// model, execute any requested tools, feed results back, until the model
// answers with plain text or the iteration budget runs out.
func (r *Runtime) runLoop(ctx context.Context, agent *Agent) (string, error) {
	schemas := r.tools.List()
	if len(agent.Config.Tools) > 0 {
		schemas = r.tools.SchemasFor(agent.Config.Tools)
	}

	history := []llm.Turn{llm.UserText(agent.Config.Goal)}
	system := fmt.Sprintf(systemPromptFormat, agent.ID)

	for {
		if err := agent.awaitRunnable(ctx); err != nil {
			return "", err
		}
		if agent.Iterations() >= agent.Config.MaxIterations {
			return fmt.Sprintf(
				"Reached maximum iterations (%d) before completing the goal.",
				agent.Config.MaxIterations), nil
		}
		agent.nextIteration()

		resp, err := r.client.Complete(ctx, llm.Request{
			Model:    agent.Config.Model,
			System:   system,
			Messages: history,
			Tools:    schemas,
		})
		if err != nil {
			return "", err
		}

		uses := resp.ToolUses()
		if len(uses) == 0 {
			return resp.Text(), nil
		}

		history = append(history, llm.AssistantTurn(resp.Content))
		results := make([]llm.ToolResult, 0, len(uses))
		for _, use := range uses {
			res := r.executeTool(ctx, agent, use)
			content := res.Output
			isError := res.Status != tool.StatusSuccess
			if isError {
				content = fmt.Sprintf("[%s] %s", res.Status, res.Error)
			}
			results = append(results, llm.ToolResult{
				ToolUseID: use.ID,
				Content:   content,
				IsError:   isError,
			})
		}
		history = append(history, llm.ToolResultsTurn(results))
	}
}

func (r *Runtime) executeTool(ctx context.Context, agent *Agent, use *llm.ToolUse) *tool.Result {
	res := r.tools.Execute(ctx, agent.ID, use.Name, use.Input)

	agent.recordToolCall(ToolCall{
		Tool:       use.Name,
		Input:      use.Input,
		Status:     string(res.Status),
		Output:     res.Output,
		Error:      res.Error,
		DurationMs: res.ExecutionTimeMs,
	})
	r.log.Debug("Tool executed",
		zap.String("agent_id", agent.ID),
		zap.String("tool", use.Name),
		zap.String("status", string(res.Status)),
		zap.Int64("duration_ms", res.ExecutionTimeMs))
	r.emitter.Emit(events.NewEvent(events.ToolExecuted, agent.ID, map[string]any{
		"tool":        use.Name,
		"status":      string(res.Status),
		"duration_ms": res.ExecutionTimeMs,
	}))

	return res
}
