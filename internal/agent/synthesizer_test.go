package agent_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/basket/giskard/internal/actions"
	"github.com/basket/giskard/internal/agent"
)

func newTestSynthesizer(t *testing.T, client agent.Client) *agent.Synthesizer {
	t.Helper()
	return agent.NewSynthesizer(client, newTestPrompts(t), discardLogger())
}

func TestSynthesizer_UsesLLMReply(t *testing.T) {
	client := &fakeClient{replies: []string{"  Done! I added the task.\n"}}
	s := newTestSynthesizer(t, client)

	results := []actions.Result{{Name: "create_task", OK: true, Payload: map[string]any{"message": "Created task: x"}}}
	msg, trace := s.Synthesize(context.Background(), "add x", "Adding it.", results)
	if msg != "Done! I added the task." {
		t.Fatalf("msg = %q", msg)
	}
	if !strings.Contains(trace.RenderedPrompt, `"add x"`) {
		t.Fatalf("user input missing from prompt:\n%s", trace.RenderedPrompt)
	}
	if !strings.Contains(trace.RenderedPrompt, "Created task: x") {
		t.Fatalf("action results missing from prompt:\n%s", trace.RenderedPrompt)
	}
}

func TestSynthesizer_ApologizesOnLLMError(t *testing.T) {
	client := &fakeClient{err: errors.New("boom")}
	s := newTestSynthesizer(t, client)

	msg, trace := s.Synthesize(context.Background(), "hi", "", nil)
	if msg != "I'm sorry, I encountered an error processing your request. Please try again." {
		t.Fatalf("msg = %q", msg)
	}
	if trace.Error != "boom" {
		t.Fatalf("trace error = %q", trace.Error)
	}
}

func TestSynthesizer_DisabledUsesPlannerText(t *testing.T) {
	s := newTestSynthesizer(t, disabledClient{})

	msg, _ := s.Synthesize(context.Background(), "hi", "I'll note that down.", nil)
	if msg != "I'll note that down." {
		t.Fatalf("msg = %q", msg)
	}
}

func TestSynthesizer_DisabledFallsBackToActionMessages(t *testing.T) {
	s := newTestSynthesizer(t, disabledClient{})

	results := []actions.Result{
		{Name: "create_task", OK: true, Payload: map[string]any{"message": "Created task: a"}},
		{Name: "update_task_status", OK: false, Payload: map[string]any{"error": "Task not found"}},
	}
	msg, _ := s.Synthesize(context.Background(), "hi", "", results)
	if msg != "Created task: a Task not found" {
		t.Fatalf("msg = %q", msg)
	}
}
