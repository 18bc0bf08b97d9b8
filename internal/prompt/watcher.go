package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Registry when files in its prompts directory change.
// Bursts of writes are debounced into a single reload.
type Watcher struct {
	dir      string
	registry *Registry
	logger   *slog.Logger
	events   chan string
}

func NewWatcher(dir string, registry *Registry, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:      dir,
		registry: registry,
		logger:   logger,
		events:   make(chan string, 16),
	}
}

// Events emits the base name of each changed prompt file after the
// registry has reloaded. The channel closes when the watcher stops.
func (w *Watcher) Events() <-chan string {
	return w.events
}

func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}

	abs, err := filepath.Abs(w.dir)
	if err != nil {
		_ = fsw.Close()
		return fmt.Errorf("abs prompts dir (%s): %w", w.dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("create prompts dir: %w", err)
	}
	if err := fsw.Add(abs); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch prompts dir (%s): %w", abs, err)
	}

	go func() {
		defer func() {
			_ = fsw.Close()
			close(w.events)
		}()

		var pendingName string
		var pending bool
		var timer *time.Timer
		var timerC <-chan time.Time
		flush := func() {
			if !pending {
				return
			}
			pending = false
			if err := w.registry.Reload(); err != nil {
				w.logger.Warn("prompt watcher: reload failed", "error", err)
				return
			}
			w.logger.Info("prompts reloaded", "changed", pendingName)
			select {
			case w.events <- pendingName:
			default:
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if !strings.HasSuffix(ev.Name, ".txt") {
					continue
				}
				pendingName = filepath.Base(ev.Name)
				pending = true
				if timer == nil {
					timer = time.NewTimer(150 * time.Millisecond)
					timerC = timer.C
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(150 * time.Millisecond)
				}
			case <-timerC:
				flush()
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("prompt watcher error", "error", err)
			}
		}
	}()

	return nil
}
