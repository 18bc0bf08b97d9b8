package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRecordWritesAuditEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	if err := Init(path); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record("run_completed", "sess-1", "trace-1", "ok", "Created task: Buy milk")
	Record("run_completed", "sess-1", "trace-2", "error", "planner output unusable")

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected at least two audit entries, got %d", len(lines))
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first audit entry: %v", err)
	}
	if first["event"] != "run_completed" {
		t.Fatalf("expected run_completed event, got %#v", first["event"])
	}
	if first["trace_id"] != "trace-1" {
		t.Fatalf("expected trace_id trace-1, got %#v", first["trace_id"])
	}
	if first["status"] != "ok" || first["message"] == "" {
		t.Fatalf("expected status and message in audit entry: %#v", first)
	}
}

func TestRecordRedactsSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	if err := Init(path); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record("run_completed", "sess-r", "trace-r", "ok", "used key sk-abcdefghij1234567890")

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	if strings.Contains(string(raw), "sk-abcdefghij1234567890") {
		t.Fatal("secret written to audit log unredacted")
	}
}

func TestAuditAppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	if err := Init(path); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	// Write two entries.
	Record("run_completed", "s1", "t1", "ok", "first")
	Record("run_completed", "s1", "t2", "timeout", "second")


	// Capture file size after writes.
	info1, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat audit file: %v", err)
	}
	size1 := info1.Size()

	// Write a third entry.
	Record("run_completed", "s1", "t3", "ok", "third")

	// File size must grow (append-only).
	info2, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat audit file after append: %v", err)
	}
	size2 := info2.Size()
	if size2 <= size1 {
		t.Fatalf("expected file to grow (append-only), size before=%d after=%d", size1, size2)
	}

	// Verify all three entries are present and in order.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) < 3 {
		t.Fatalf("expected at least 3 lines, got %d", len(lines))
	}

	// Verify each line is valid JSON with expected fields.
	for i, line := range lines {
		var e map[string]any
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", i, err)
		}
		if _, ok := e["timestamp"]; !ok {
			t.Fatalf("line %d missing timestamp", i)
		}
		if _, ok := e["event"]; !ok {
			t.Fatalf("line %d missing event", i)
		}
	}
}
