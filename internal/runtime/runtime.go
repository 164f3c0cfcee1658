// Package runtime abstracts the engines that execute a document's code
// cells. Each runtime is an opaque capability: feed it cell source, get back
// captured output or an error. A fresh instance is created per document so
// state never leaks between documents.
package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Result is the captured output of evaluating one cell.
type Result struct {
	Stdout string
	Stderr string
	Value  string // textual form of the cell's value, "" when the cell has none
}

// Runtime evaluates cell source sequentially. Implementations are not safe
// for concurrent use; the execution engine runs cells one at a time.
type Runtime interface {
	Name() string
	Eval(ctx context.Context, source string) (Result, error)
	Close() error
}

// Meta describes a registered runtime and how its script files look.
type Meta struct {
	Name          string
	ScriptExt     string // text-form file extension, e.g. ".go"
	CommentPrefix string // line-comment prefix used by cell markers
	New           func() (Runtime, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Meta{}
)

// Register makes a runtime available by name. Duplicate names panic, same
// as database/sql drivers.
func Register(meta Meta) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[meta.Name]; dup {
		panic("runtime: Register called twice for " + meta.Name)
	}
	registry[meta.Name] = meta
}

// Lookup returns the metadata for a registered runtime.
func Lookup(name string) (Meta, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	meta, ok := registry[name]
	return meta, ok
}

// New creates a fresh instance of the named runtime.
func New(name string) (Runtime, error) {
	meta, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("runtime: unknown runtime %q (registered: %v)", name, Names())
	}
	rt, err := meta.New()
	if err != nil {
		return nil, fmt.Errorf("runtime: start %s: %w", name, err)
	}
	return rt, nil
}

// Names lists the registered runtimes in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ByScriptExt finds the runtime whose text form uses the given extension.
func ByScriptExt(ext string) (Meta, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, meta := range registry {
		if meta.ScriptExt == ext {
			return meta, true
		}
	}
	return Meta{}, false
}
