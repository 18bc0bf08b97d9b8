package prompt

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Well-known prompt names.
const (
	NameRouter      = "router"
	NameSynthesizer = "synthesizer"
	NameClassifier  = "classifier"
)

// maxPromptFileSize is the maximum allowed size for a prompt override file.
const maxPromptFileSize = 1 << 20

// Version is one on-disk revision of a named prompt.
type Version struct {
	Name    string
	Version string
	Text    string
	Path    string
}

// Registry resolves prompt templates by name. Templates ship compiled in;
// files named <name>_v<version>.txt in the prompts directory override them,
// highest version winning. Reload re-reads the directory, so a running
// process picks up template edits without a restart.
type Registry struct {
	dir    string
	logger *slog.Logger

	mu        sync.RWMutex
	defaults  map[string]string
	overrides map[string][]Version // name -> versions, ascending
}

func NewRegistry(dir string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		dir:    dir,
		logger: logger,
		defaults: map[string]string{
			NameRouter:      routerDefault,
			NameSynthesizer: synthesizerDefault,
			NameClassifier:  classifierDefault,
		},
		overrides: make(map[string][]Version),
	}
	if err := r.Reload(); err != nil {
		logger.Warn("prompt registry: initial load failed, using built-ins", "dir", dir, "error", err)
	}
	return r
}

// Reload re-scans the prompts directory. A missing directory is not an
// error; it just means every prompt resolves to its built-in text.
func (r *Registry) Reload() error {
	loaded := make(map[string][]Version)

	if strings.TrimSpace(r.dir) != "" {
		entries, err := os.ReadDir(r.dir)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("read prompts dir (%s): %w", r.dir, err)
		}
		for _, ent := range entries {
			if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".txt") {
				continue
			}
			stem := strings.TrimSuffix(ent.Name(), ".txt")
			idx := strings.LastIndex(stem, "_v")
			if idx <= 0 {
				r.logger.Warn("prompt file does not follow <name>_v<version>.txt, skipping", "file", ent.Name())
				continue
			}
			name, version := stem[:idx], stem[idx+2:]

			path := filepath.Join(r.dir, ent.Name())
			if info, err := ent.Info(); err == nil && info.Size() > maxPromptFileSize {
				r.logger.Warn("prompt file too large, skipping", "file", ent.Name(), "size", info.Size())
				continue
			}
			text, err := os.ReadFile(path)
			if err != nil {
				r.logger.Warn("read prompt file failed, skipping", "file", ent.Name(), "error", err)
				continue
			}
			loaded[name] = append(loaded[name], Version{
				Name:    name,
				Version: version,
				Text:    string(text),
				Path:    path,
			})
		}
	}

	for name := range loaded {
		vs := loaded[name]
		sort.Slice(vs, func(i, j int) bool { return compareVersions(vs[i].Version, vs[j].Version) < 0 })
		loaded[name] = vs
	}

	r.mu.Lock()
	r.overrides = loaded
	r.mu.Unlock()
	return nil
}

// compareVersions orders dotted version strings segment by segment, numeric
// where both segments parse as integers, so "1.10" sorts after "1.9".
func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aerr := strconv.Atoi(as[i])
		bn, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
			continue
		}
		if c := strings.Compare(as[i], bs[i]); c != 0 {
			return c
		}
	}
	return len(as) - len(bs)
}

// Get returns the current text for a named prompt: the latest file override
// when one exists, the built-in template otherwise.
func (r *Registry) Get(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if vs := r.overrides[name]; len(vs) > 0 {
		return vs[len(vs)-1].Text, nil
	}
	if text, ok := r.defaults[name]; ok {
		return text, nil
	}
	return "", fmt.Errorf("unknown prompt %q", name)
}

// GetVersion returns one specific file override of a prompt.
func (r *Registry) GetVersion(name, version string) (Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.overrides[name] {
		if v.Version == version {
			return v, nil
		}
	}
	return Version{}, fmt.Errorf("prompt %q has no version %q", name, version)
}

// Versions lists the file overrides of a prompt in ascending version order.
func (r *Registry) Versions(name string) []Version {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Version(nil), r.overrides[name]...)
}

// Names lists every resolvable prompt name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var names []string
	for name := range r.defaults {
		seen[name] = true
		names = append(names, name)
	}
	for name := range r.overrides {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Render resolves a prompt and substitutes {placeholder} variables.
// Placeholders with no entry in vars are left in place.
func (r *Registry) Render(name string, vars map[string]string) (string, error) {
	text, err := r.Get(name)
	if err != nil {
		return "", err
	}
	for key, value := range vars {
		text = strings.ReplaceAll(text, "{"+key+"}", value)
	}
	return text, nil
}

// Save writes a prompt version to the prompts directory and reloads.
func (r *Registry) Save(name, version, text string) (string, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(version) == "" {
		return "", fmt.Errorf("prompt name and version are required")
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create prompts dir: %w", err)
	}
	path := filepath.Join(r.dir, fmt.Sprintf("%s_v%s.txt", name, version))
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write prompt file: %w", err)
	}
	if err := r.Reload(); err != nil {
		return "", err
	}
	return path, nil
}
