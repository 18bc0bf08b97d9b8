package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/basket/giskard/internal/actions"
	"github.com/basket/giskard/internal/prompt"
	"github.com/basket/giskard/internal/store"
	"github.com/basket/giskard/internal/tokenutil"
)

// routerFallbackText is shown when the planner output cannot be used.
const routerFallbackText = "I'm sorry, I had trouble understanding your request."

// disabledText is the deterministic reply when no API key is configured.
const disabledText = "I can manage your tasks with full LLM reasoning after an API key is configured."

// ToolCall is one action selected by the planner.
type ToolCall struct {
	Name string          `json:"tool_name"`
	Args json.RawMessage `json:"tool_args"`
}

// Plan is the planner's decision for a turn.
type Plan struct {
	AssistantText string
	Calls         []ToolCall
}

// PlanTrace carries the raw LLM exchange for step logging. Error holds the
// transport or parse failure that degraded the plan to the no_op fallback.
type PlanTrace struct {
	RenderedPrompt string
	LLMInput       string
	LLMOutput      string
	Error          string
}

// Router turns free-form user input into a validated action plan.
type Router struct {
	client   Client
	prompts  *prompt.Registry
	registry *actions.Registry
	logger   *slog.Logger
	now      func() time.Time
}

func NewRouter(client Client, prompts *prompt.Registry, registry *actions.Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		client:   client,
		prompts:  prompts,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// routerOutput is the JSON shape the planner prompt asks for. A multi-step
// plan may instead carry an "actions" list.
type routerOutput struct {
	AssistantText *string         `json:"assistant_text"`
	ToolName      *string         `json:"tool_name"`
	ToolArgs      json.RawMessage `json:"tool_args"`
	Actions       []ToolCall      `json:"actions"`
}

// Plan renders the planner prompt, calls the LLM, and parses the decision.
// Any malformed or unusable output degrades to a no_op plan with an apology;
// planning never fails the turn.
func (r *Router) Plan(ctx context.Context, userInput string, history []store.HistoryEntry) (Plan, PlanTrace) {
	rendered, err := r.prompts.Render(prompt.NameRouter, map[string]string{
		"current_datetime":     r.now().Format("2006-01-02T15:04:05"),
		"tool_descriptions":    r.registry.Descriptions(),
		"conversation_history": formatHistory(history),
	})
	if err != nil {
		r.logger.Error("render planner prompt failed", "error", err)
		return fallbackPlan(), PlanTrace{Error: err.Error()}
	}
	trace := PlanTrace{RenderedPrompt: rendered, LLMInput: userInput}

	if !r.client.Enabled() {
		return Plan{
			AssistantText: disabledText,
			Calls:         []ToolCall{noOpCall()},
		}, trace
	}

	r.logger.Debug("planner prompt rendered",
		"prompt_tokens_est", tokenutil.EstimateTokens(rendered),
		"history_entries", len(history))

	raw, err := r.client.Generate(ctx, rendered, userInput)
	trace.LLMOutput = raw
	if err != nil {
		r.logger.Error("planner llm call failed", "error", err)
		trace.Error = err.Error()
		return fallbackPlan(), trace
	}

	plan, err := r.parse(raw)
	if err != nil {
		r.logger.Error("failed to parse planner output", "error", err, "response", raw)
		trace.Error = err.Error()
		return fallbackPlan(), trace
	}
	return plan, trace
}

func (r *Router) parse(raw string) (Plan, error) {
	jsonStr := ExtractJSON(raw)
	if jsonStr == "" {
		return Plan{}, fmt.Errorf("no JSON in planner output")
	}

	var out routerOutput
	if err := json.Unmarshal([]byte(jsonStr), &out); err != nil {
		return Plan{}, fmt.Errorf("decode planner output: %w", err)
	}
	if out.AssistantText == nil {
		return Plan{}, fmt.Errorf("missing assistant_text in planner output")
	}

	var calls []ToolCall
	switch {
	case len(out.Actions) > 0:
		calls = out.Actions
	case out.ToolName != nil:
		calls = []ToolCall{{Name: *out.ToolName, Args: out.ToolArgs}}
	default:
		return Plan{}, fmt.Errorf("missing tool_name in planner output")
	}

	for i := range calls {
		if r.registry.Get(calls[i].Name) == nil {
			return Plan{}, fmt.Errorf("unknown tool: %s", calls[i].Name)
		}
		if len(calls[i].Args) == 0 {
			calls[i].Args = json.RawMessage(`{}`)
		}
	}

	return Plan{AssistantText: *out.AssistantText, Calls: calls}, nil
}

func formatHistory(history []store.HistoryEntry) string {
	if len(history) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, entry := range history {
		b.WriteString(entry.Role)
		b.WriteString(": ")
		b.WriteString(entry.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func fallbackPlan() Plan {
	return Plan{
		AssistantText: routerFallbackText,
		Calls:         []ToolCall{noOpCall()},
	}
}

func noOpCall() ToolCall {
	return ToolCall{Name: actions.ActionNoOp, Args: json.RawMessage(`{}`)}
}
