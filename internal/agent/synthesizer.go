package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/basket/giskard/internal/actions"
	"github.com/basket/giskard/internal/prompt"
	"github.com/basket/giskard/internal/tokenutil"
)

// synthFallbackText is shown when synthesis itself fails.
const synthFallbackText = "I'm sorry, I encountered an error processing your request. Please try again."

// Synthesizer writes the user-facing reply from the executed action results.
type Synthesizer struct {
	client  Client
	prompts *prompt.Registry
	logger  *slog.Logger
}

func NewSynthesizer(client Client, prompts *prompt.Registry, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{client: client, prompts: prompts, logger: logger}
}

// SynthTrace carries the raw LLM exchange for step logging. Error holds the
// failure that forced the fixed apology reply.
type SynthTrace struct {
	RenderedPrompt string
	LLMOutput      string
	Error          string
}

// Synthesize produces the final message for a turn. assistantText is the
// planner's own summary, reused verbatim when the LLM is unavailable.
func (s *Synthesizer) Synthesize(ctx context.Context, userInput, assistantText string, results []actions.Result) (string, SynthTrace) {
	rendered, err := s.prompts.Render(prompt.NameSynthesizer, map[string]string{
		"user_input":     userInput,
		"action_results": formatResults(results),
	})
	if err != nil {
		s.logger.Error("render synthesizer prompt failed", "error", err)
		return synthFallbackText, SynthTrace{Error: err.Error()}
	}
	trace := SynthTrace{RenderedPrompt: rendered}

	if !s.client.Enabled() {
		return deterministicReply(assistantText, results), trace
	}

	s.logger.Debug("synthesizer prompt rendered",
		"prompt_tokens_est", tokenutil.EstimateTokens(rendered),
		"result_count", len(results))

	reply, err := s.client.Generate(ctx, "", rendered)
	trace.LLMOutput = reply
	if err != nil {
		s.logger.Error("synthesizer llm call failed", "error", err)
		trace.Error = err.Error()
		return synthFallbackText, trace
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		trace.Error = "empty synthesizer reply"
		return synthFallbackText, trace
	}
	return reply, trace
}

// formatResults renders action results as JSON for the prompt, one result
// per line.
func formatResults(results []actions.Result) string {
	if len(results) == 0 {
		return "(no actions were executed)"
	}
	var b strings.Builder
	for _, res := range results {
		line, err := json.Marshal(res)
		if err != nil {
			continue
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// deterministicReply composes a reply without an LLM: the planner's text
// when present, otherwise the action messages themselves.
func deterministicReply(assistantText string, results []actions.Result) string {
	if t := strings.TrimSpace(assistantText); t != "" {
		return t
	}
	var parts []string
	for _, res := range results {
		if msg, ok := res.Payload["message"].(string); ok && msg != "" {
			parts = append(parts, msg)
			continue
		}
		if errMsg, ok := res.Payload["error"].(string); ok && errMsg != "" {
			parts = append(parts, errMsg)
		}
	}
	if len(parts) == 0 {
		return synthFallbackText
	}
	return strings.Join(parts, " ")
}
