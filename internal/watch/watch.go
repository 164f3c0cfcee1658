// Package watch re-reconciles documents as their text files change on disk,
// backing the sync-docs --watch mode.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/pairtext/pairtext/internal/runtime"
	"github.com/pairtext/pairtext/internal/syncer"
)

// debounce window: editors fire several events per save.
const settle = 200 * time.Millisecond

// Handler receives the document name after each change settles.
type Handler func(name string)

type Watcher struct {
	dir     string
	handler Handler
	log     *zap.Logger
}

func New(dir string, handler Handler, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{dir: dir, handler: handler, log: log}
}

// Run blocks until the context is cancelled, invoking the handler for every
// script file that changes. Notebook changes are ignored on purpose: the
// notebook is the derived side, and reacting to our own writes would loop.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch: add %s: %w", w.dir, err)
	}
	w.log.Info("watching", zap.String("dir", w.dir))

	pending := map[string]*time.Timer{}
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name, ok := scriptStem(event.Name)
			if !ok {
				continue
			}
			if timer, exists := pending[name]; exists {
				timer.Stop()
			}
			pending[name] = time.AfterFunc(settle, func() {
				w.log.Debug("script changed", zap.String("doc", name))
				w.handler(name)
			})

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

// scriptStem maps a changed path to a document name if the file is a text
// representation.
func scriptStem(path string) (string, bool) {
	ext := filepath.Ext(path)
	if ext == syncer.NotebookExt {
		return "", false
	}
	if _, ok := runtime.ByScriptExt(ext); !ok {
		return "", false
	}
	return strings.TrimSuffix(filepath.Base(path), ext), true
}
