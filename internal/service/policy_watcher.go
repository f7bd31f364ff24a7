package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Strob0t/MailGuard/internal/domain/policy"
)

// DefaultPolicyDebounce collapses an editor's burst of writes into one reload.
const DefaultPolicyDebounce = 250 * time.Millisecond

// PolicyWatcher reloads the decision snapshot when an action policy file in
// the watched directory changes.
type PolicyWatcher struct {
	dir      string
	watcher  *fsnotify.Watcher
	reload   func() error
	debounce time.Duration

	changes  chan string
	done     chan struct{}
	stopOnce sync.Once
}

// NewPolicyWatcher watches dir and calls reload after changes settle.
func NewPolicyWatcher(dir string, reload func() error, debounce time.Duration) (*PolicyWatcher, error) {
	if debounce <= 0 {
		debounce = DefaultPolicyDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("policy watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("policy watcher: watch %s: %w", dir, err)
	}
	return &PolicyWatcher{
		dir:      dir,
		watcher:  w,
		reload:   reload,
		debounce: debounce,
		changes:  make(chan string, 64),
		done:     make(chan struct{}),
	}, nil
}

// Start runs the event and debounce loops until ctx is done or Stop is called.
func (w *PolicyWatcher) Start(ctx context.Context) {
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	slog.Info("watching action policy directory", "dir", w.dir)
}

// Stop closes the watcher. It is safe to call more than once.
func (w *PolicyWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
}

func (w *PolicyWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !policy.IsPolicyFile(event.Name) || event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			select {
			case w.changes <- filepath.Base(event.Name):
			default:
				// A reload is already queued.
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("policy watcher error", "dir", w.dir, "error", err)
		}
	}
}

func (w *PolicyWatcher) debounceLoop(ctx context.Context) {
	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		changed = make(map[string]bool)
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case name := <-w.changes:
			changed[name] = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			files := make([]string, 0, len(changed))
			for name := range changed {
				files = append(files, name)
			}
			clear(changed)
			if err := w.reload(); err != nil {
				slog.Error("action policy reload failed, keeping previous snapshot", "files", files, "error", err)
				continue
			}
			slog.Info("action policy reloaded", "files", files)
		}
	}
}
