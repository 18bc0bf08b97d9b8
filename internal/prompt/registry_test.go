package prompt_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/giskard/internal/prompt"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistry_BuiltinsResolve(t *testing.T) {
	r := prompt.NewRegistry(t.TempDir(), discardLogger())

	for _, name := range []string{prompt.NameRouter, prompt.NameSynthesizer, prompt.NameClassifier} {
		text, err := r.Get(name)
		if err != nil {
			t.Fatalf("Get(%q): %v", name, err)
		}
		if text == "" {
			t.Fatalf("Get(%q) returned empty text", name)
		}
	}

	if _, err := r.Get("nonsense"); err == nil {
		t.Fatal("expected error for unknown prompt name")
	}
}

func TestRegistry_FileOverridesBuiltin(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "router_v1.0.txt"), []byte("custom router {current_datetime}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r := prompt.NewRegistry(dir, discardLogger())

	text, err := r.Get(prompt.NameRouter)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !strings.HasPrefix(text, "custom router") {
		t.Fatalf("override not applied, got: %q", text)
	}

	// Synthesizer has no override and still resolves to the built-in.
	text, err = r.Get(prompt.NameSynthesizer)
	if err != nil {
		t.Fatalf("Get synthesizer: %v", err)
	}
	if strings.HasPrefix(text, "custom") {
		t.Fatalf("unexpected override for synthesizer: %q", text)
	}
}

func TestRegistry_LatestVersionWins(t *testing.T) {
	dir := t.TempDir()
	for version, body := range map[string]string{"1.0": "old", "1.1": "mid", "1.2": "new"} {
		name := "router_v" + version + ".txt"
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	r := prompt.NewRegistry(dir, discardLogger())

	text, err := r.Get(prompt.NameRouter)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if text != "new" {
		t.Fatalf("expected latest version, got %q", text)
	}

	v, err := r.GetVersion(prompt.NameRouter, "1.0")
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if v.Text != "old" {
		t.Fatalf("GetVersion(1.0) = %q, want %q", v.Text, "old")
	}

	versions := r.Versions(prompt.NameRouter)
	if len(versions) != 3 || versions[0].Version != "1.0" || versions[2].Version != "1.2" {
		t.Fatalf("unexpected version order: %+v", versions)
	}
}

func TestRegistry_VersionsCompareNumerically(t *testing.T) {
	dir := t.TempDir()
	for version, body := range map[string]string{"1.2.0": "old", "1.9.0": "mid", "1.10.0": "new"} {
		name := "router_v" + version + ".txt"
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	r := prompt.NewRegistry(dir, discardLogger())

	text, err := r.Get(prompt.NameRouter)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if text != "new" {
		t.Fatalf("expected v1.10.0 to win, got %q", text)
	}

	versions := r.Versions(prompt.NameRouter)
	if len(versions) != 3 || versions[0].Version != "1.2.0" || versions[1].Version != "1.9.0" || versions[2].Version != "1.10.0" {
		t.Fatalf("unexpected version order: %+v", versions)
	}
}

func TestRegistry_Render(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "greeting_v1.0.txt"), []byte("Hello {who}, it is {when}. {unset} stays."), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r := prompt.NewRegistry(dir, discardLogger())

	out, err := r.Render("greeting", map[string]string{"who": "world", "when": "now"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "Hello world, it is now. {unset} stays." {
		t.Fatalf("Render = %q", out)
	}
}

func TestRegistry_RenderClassifierTaskText(t *testing.T) {
	r := prompt.NewRegistry(t.TempDir(), discardLogger())

	out, err := r.Render(prompt.NameClassifier, map[string]string{"task_text": "Go to the gym"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, `Task: "Go to the gym"`) {
		t.Fatalf("task_text not substituted:\n%s", out)
	}
	if strings.Contains(out, "{task_text}") {
		t.Fatal("placeholder left behind")
	}
}

func TestRegistry_SaveAndReload(t *testing.T) {
	dir := t.TempDir()
	r := prompt.NewRegistry(dir, discardLogger())

	path, err := r.Save(prompt.NameSynthesizer, "2.0", "saved text")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Base(path) != "synthesizer_v2.0.txt" {
		t.Fatalf("unexpected file name: %s", path)
	}

	text, err := r.Get(prompt.NameSynthesizer)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if text != "saved text" {
		t.Fatalf("Get = %q, want saved text", text)
	}

	if _, err := r.Save("", "1.0", "x"); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestRegistry_IgnoresMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("no version tag"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "router_v1.0.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r := prompt.NewRegistry(dir, discardLogger())

	text, err := r.Get(prompt.NameRouter)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if text == "{}" || text == "no version tag" {
		t.Fatalf("malformed file treated as override: %q", text)
	}
	if got := r.Versions("notes"); len(got) != 0 {
		t.Fatalf("expected no versions for notes, got %+v", got)
	}
}
