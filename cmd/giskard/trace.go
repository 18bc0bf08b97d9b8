package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/basket/giskard/internal/config"
	"github.com/basket/giskard/internal/store"
)

// runTraceCommand dumps the step log for one agent trace.
func runTraceCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("giskard trace", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	jsonOutput := fs.Bool("json", false, "emit steps as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if len(fs.Args()) != 1 {
		fmt.Fprintln(os.Stderr, "usage: giskard trace [-json] <trace_id>")
		return 2
	}
	traceID := fs.Args()[0]

	st, err := openStoreReadOnly()
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		return 1
	}
	defer st.Close()

	steps, err := st.ListStepsByTrace(ctx, traceID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list steps: %v\n", err)
		return 1
	}
	if len(steps) == 0 {
		fmt.Fprintf(os.Stdout, "no steps recorded for trace %s\n", traceID)
		return 0
	}

	if *jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(steps); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Printf("trace %s (session %s), %d steps\n", traceID, steps[0].SessionID, len(steps))
	for _, step := range steps {
		fmt.Printf("%3d  %-13s %s\n", step.StepNumber, step.StepType, step.Timestamp.Format("15:04:05.000"))
		if len(step.InputData) > 0 && string(step.InputData) != "{}" {
			fmt.Printf("     in:  %s\n", compactJSON(step.InputData))
		}
		if len(step.OutputData) > 0 && string(step.OutputData) != "{}" {
			fmt.Printf("     out: %s\n", compactJSON(step.OutputData))
		}
		if step.LLMModel != "" {
			fmt.Printf("     model: %s\n", step.LLMModel)
		}
		if step.Error != "" {
			fmt.Printf("     error: %s\n", step.Error)
		}
	}
	return 0
}

// runSessionsCommand lists recorded chat sessions.
func runSessionsCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: giskard sessions")
		return 2
	}

	st, err := openStoreReadOnly()
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		return 1
	}
	defer st.Close()

	sessions, err := st.ListSessions(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list sessions: %v\n", err)
		return 1
	}
	if len(sessions) == 0 {
		fmt.Fprintln(os.Stdout, "no sessions recorded")
		return 0
	}

	for _, sess := range sessions {
		fmt.Printf("%s  created %s  updated %s\n",
			sess.ID,
			sess.CreatedAt.Format("2006-01-02 15:04"),
			sess.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return 0
}

func openStoreReadOnly() (*store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.DBPath, nil)
}

func compactJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	const maxLen = 160
	if len(buf) > maxLen {
		return string(buf[:maxLen]) + "…"
	}
	return string(buf)
}
