// Package audit appends one JSONL line per completed agent turn to the
// configured audit log (default ~/.giskard/audit.jsonl). Prompt and reply
// text pass through shared.Redact before hitting disk.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/giskard/internal/shared"
)

type entry struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	SessionID string `json:"session_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
}

var (
	mu         sync.Mutex
	file       *os.File
	errorCount atomic.Int64
)

func Init(path string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// ErrorCount returns the number of failed or timed-out turns since startup.
func ErrorCount() int64 {
	return errorCount.Load()
}

// Record appends one audit line. status is "ok", "error", or "timeout".
func Record(event, sessionID, traceID, status, message string) {
	if status == "error" || status == "timeout" {
		errorCount.Add(1)
	}

	message = shared.Redact(message)

	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return
	}
	ev := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Event:     event,
		SessionID: sessionID,
		TraceID:   traceID,
		Status:    status,
		Message:   message,
	}
	b, err := json.Marshal(ev)
	if err == nil {
		_, _ = file.Write(append(b, '\n'))
	}
}
