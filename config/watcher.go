package config

import (
	"context"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"go.viam.com/maskprop/logging"
)

// A Watcher re-reads a config file whenever it changes and delivers every valid version that
// differs from the previous one. Invalid versions are logged and skipped.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	configs   chan *Config
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewWatcher starts watching the config file at path. The directory is watched rather than
// the file so that editors replacing the file are noticed.
func NewWatcher(ctx context.Context, path string, logger logging.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		return nil, closeAfterError(errors.Wrapf(err, "watching %q", path), fsWatcher)
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		fsWatcher: fsWatcher,
		configs:   make(chan *Config),
		cancel:    cancel,
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(cancelCtx, abs, logger)
	}()
	return w, nil
}

func closeAfterError(err error, fsWatcher *fsnotify.Watcher) error {
	if closeErr := fsWatcher.Close(); closeErr != nil {
		return errors.Wrapf(err, "also failed to close watcher: %v", closeErr)
	}
	return err
}

func (w *Watcher) run(ctx context.Context, path string, logger logging.Logger) {
	var last *Config
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logger.Warnw("config watcher error", "path", path, "error", err)
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			cfg, err := Read(ctx, path, logger)
			if err != nil {
				logger.Warnw("ignoring invalid config", "path", path, "error", err)
				continue
			}
			if last != nil && reflect.DeepEqual(cfg, last) {
				continue
			}
			select {
			case w.configs <- cfg:
				last = cfg
			case <-ctx.Done():
				return
			}
		}
	}
}

// Config returns the channel new configs are delivered on.
func (w *Watcher) Config() <-chan *Config {
	return w.configs
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}
