package agent_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/basket/giskard/internal/actions"
	"github.com/basket/giskard/internal/agent"
	"github.com/basket/giskard/internal/prompt"
	"github.com/basket/giskard/internal/store"
)

// fakeClient replays canned responses in order: planner call first, then
// synthesizer.
type fakeClient struct {
	mu      sync.Mutex
	replies []string
	next    int
	err     error
	errCall int // 1-based Generate call that returns err; 0 fails every call
	calls   int
	delay   time.Duration
	prompts []string
}

func (f *fakeClient) Generate(ctx context.Context, system, promptText string) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, system+"\n"+promptText)
	f.calls++
	if f.err != nil && (f.errCall == 0 || f.calls == f.errCall) {
		return "", f.err
	}
	if f.next >= len(f.replies) {
		return "", nil
	}
	reply := f.replies[f.next]
	f.next++
	return reply, nil
}

func (f *fakeClient) Enabled() bool { return true }
func (f *fakeClient) Model() string { return "fake-model" }

// disabledClient mimics a missing API key.
type disabledClient struct{}

func (disabledClient) Generate(ctx context.Context, system, promptText string) (string, error) {
	return "", agent.ErrLLMDisabled
}
func (disabledClient) Enabled() bool { return false }
func (disabledClient) Model() string { return "" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T) *actions.Registry {
	t.Helper()
	registry, err := actions.NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return registry
}

func newTestPrompts(t *testing.T) *prompt.Registry {
	t.Helper()
	return prompt.NewRegistry(t.TempDir(), discardLogger())
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestOrchestrator(t *testing.T, client agent.Client, cfg agent.Config) (*agent.Orchestrator, *store.Store) {
	t.Helper()
	st := newTestStore(t)
	registry := newTestRegistry(t)
	prompts := newTestPrompts(t)
	logger := discardLogger()

	executor := actions.NewExecutor(st, registry, nil, logger)
	router := agent.NewRouter(client, prompts, registry, logger)
	synth := agent.NewSynthesizer(client, prompts, logger)
	return agent.NewOrchestrator(st, router, synth, executor, cfg, nil, nil, logger), st
}
