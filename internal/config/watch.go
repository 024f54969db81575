package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// watchDebounce collapses the burst of events editors produce for one save.
const watchDebounce = 100 * time.Millisecond

// Watcher reloads a config file when it changes on disk.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	onError  func(error)
}

// NewWatcher watches the directory containing path, so that editors which
// replace the file by rename are seen too. onChange receives each reloaded
// config that passes validation; onError receives read and validation
// failures, after which the previous config stays in effect.
func NewWatcher(path string, onChange func(*Config), onError func(error)) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config watcher: no config file in use")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("config watcher: watch %s: %w", filepath.Dir(abs), err)
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Watcher{path: abs, watcher: w, onChange: onChange, onError: onError}, nil
}

// Run processes filesystem events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.watcher.Close() }()

	debounce := time.NewTimer(0)
	<-debounce.C
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = true
			debounce.Reset(watchDebounce)

		case <-debounce.C:
			if !pending {
				continue
			}
			pending = false
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.onError(err)
		}
	}
}

func (w *Watcher) reload() {
	v := viper.New()
	setDefaults(v)
	BindEnv(v)
	v.SetConfigFile(w.path)
	if err := v.ReadInConfig(); err != nil {
		w.onError(fmt.Errorf("reload %s: %w", w.path, err))
		return
	}
	cfg, err := LoadFrom(v)
	if err != nil {
		w.onError(fmt.Errorf("reload %s: %w", w.path, err))
		return
	}
	w.onChange(cfg)
}
