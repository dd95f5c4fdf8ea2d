package mdarunner

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// policyWatchDebounce coalesces the burst of write events most editors and
// config-management tools produce for a single logical save.
const policyWatchDebounce = 200 * time.Millisecond

// PolicyWatcher watches a policy file on disk and reloads it into fresh
// RunPolicy values on change. It never mutates a RunPolicy already handed to
// a Runner.Run call in progress: policy is immutable for the lifetime of one
// run, so a reload only ever takes effect on the next Run.
type PolicyWatcher struct {
	path    string
	feeders []PolicyFeeder
	logger  Logger

	mu      sync.RWMutex
	current RunPolicy

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewPolicyWatcher builds a PolicyWatcher over path, using feeders (run in
// order, after a YAMLFeeder/TOMLFeeder/EnvFeeder caller-supplied mix) to
// populate the RunPolicy on every reload. initial is returned by Current
// until the first successful reload.
func NewPolicyWatcher(path string, initial RunPolicy, logger Logger, feeders ...PolicyFeeder) *PolicyWatcher {
	return &PolicyWatcher{
		path:    path,
		feeders: feeders,
		logger:  withLogger(logger),
		current: initial,
	}
}

// Current returns the most recently loaded RunPolicy. Safe for concurrent use.
func (w *PolicyWatcher) Current() RunPolicy {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start begins watching the policy file itself for changes. Returns an
// error only if the underlying fsnotify watcher cannot be created or the
// path cannot be watched.
func (w *PolicyWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating policy watcher: %w", err)
	}
	if err := watcher.Add(w.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", w.path, err)
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	go w.loop()
	return nil
}

// Stop tears down the underlying filesystem watch.
func (w *PolicyWatcher) Stop() error {
	if w.watcher == nil {
		return nil
	}
	close(w.done)
	return w.watcher.Close()
}

func (w *PolicyWatcher) loop() {
	var pending *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-w.done:
			if pending != nil {
				pending.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(policyWatchDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("policy watcher error", "error", err)

		case <-reload:
			w.reload()
		}
	}
}

func (w *PolicyWatcher) reload() {
	policy, err := LoadRunPolicy(w.feeders...)
	if err != nil {
		w.logger.Warn("policy reload failed, keeping previous policy", "path", w.path, "error", err)
		return
	}
	w.mu.Lock()
	w.current = policy
	w.mu.Unlock()
	w.logger.Info("policy reloaded", "path", w.path)
}
