package config

import (
	"log/slog"
	"reflect"

	"github.com/fsnotify/fsnotify"
)

// ReloadResult describes the outcome of a config file change.
type ReloadResult struct {
	Config           Config
	RestartRequired  bool
	ChangedTopLevel  []string
}

// Watcher observes a config file and reports reloads via Changes().
// Grounded on the teacher's internal/skills/manager.go fsnotify usage
// (single watcher, Write/Create/Rename treated as "reload", errors
// logged rather than fatal).
type Watcher struct {
	path    string
	current Config
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	changes chan ReloadResult
}

// NewWatcher builds a Watcher over path, loading the initial config.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := fw.Add(path); err != nil {
			fw.Close()
			return nil, err
		}
	}
	w := &Watcher{
		path:    path,
		current: cfg,
		logger:  logger,
		watcher: fw,
		changes: make(chan ReloadResult, 1),
	}
	go w.run()
	return w, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() Config { return w.current }

// Changes streams reload results as the file changes.
func (w *Watcher) Changes() <-chan ReloadResult { return w.changes }

// Close stops the underlying filesystem watch.
func (w *Watcher) Close() error { return w.watcher.Close() }

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous config", "error", err)
		return
	}
	prev := w.current
	w.current = next

	result := ReloadResult{Config: next}
	result.ChangedTopLevel, result.RestartRequired = diff(prev, next)
	select {
	case w.changes <- result:
	default:
	}
}

// diff reports which top-level sections changed and whether any of them
// require a full restart to apply (listen addresses and auth secrets
// can't be hot-swapped; sessions/dedupe/pruning/bindings/heartbeat can).
func diff(a, b Config) (changed []string, restartRequired bool) {
	if !reflect.DeepEqual(a.Listen, b.Listen) {
		changed = append(changed, "listen")
		restartRequired = true
	}
	if !reflect.DeepEqual(a.Auth, b.Auth) {
		changed = append(changed, "auth")
		restartRequired = true
	}
	if !reflect.DeepEqual(a.Sessions, b.Sessions) {
		changed = append(changed, "sessions")
	}
	if !reflect.DeepEqual(a.Dedupe, b.Dedupe) {
		changed = append(changed, "dedupe")
	}
	if !reflect.DeepEqual(a.Pruning, b.Pruning) {
		changed = append(changed, "pruning")
	}
	if !reflect.DeepEqual(a.Heartbeat, b.Heartbeat) {
		changed = append(changed, "heartbeat")
	}
	if !reflect.DeepEqual(a.Bindings, b.Bindings) {
		changed = append(changed, "bindings")
	}
	if !reflect.DeepEqual(a.Providers, b.Providers) {
		changed = append(changed, "providers")
		restartRequired = true
	}
	return changed, restartRequired
}
