// Package mapper converts between a document's two representations. Both
// directions are pure: no file access, no mutation of the input.
//
// ToText(ToNotebook(text)) reproduces text byte for byte. The reverse trip
// preserves cell order, kind and source, but the text form never carries
// outputs or execution counts; those live only in the notebook form.
package mapper

import (
	"fmt"

	"github.com/pairtext/pairtext/internal/notebook"
	"github.com/pairtext/pairtext/internal/runtime"
	"github.com/pairtext/pairtext/internal/script"
)

type Mapper struct {
	// DefaultRuntime fills in for notebooks whose kernelspec is empty.
	DefaultRuntime string
}

func New(defaultRuntime string) *Mapper {
	return &Mapper{DefaultRuntime: defaultRuntime}
}

// ToNotebook parses the text representation. The script's comment prefix
// must belong to the runtime its header names, otherwise the same bytes
// could not be regenerated from the notebook side.
func (m *Mapper) ToNotebook(doc string, text []byte) (*notebook.Notebook, error) {
	nb, prefix, err := script.Parse(doc, text)
	if err != nil {
		return nil, err
	}
	meta, ok := runtime.Lookup(nb.Runtime)
	if !ok {
		return nil, &notebook.MappingError{Doc: doc, Line: 2, Reason: fmt.Sprintf("unknown runtime %q", nb.Runtime)}
	}
	if meta.CommentPrefix != prefix {
		return nil, &notebook.MappingError{
			Doc:    doc,
			Line:   1,
			Reason: fmt.Sprintf("runtime %q uses %q comment markers, file uses %q", nb.Runtime, meta.CommentPrefix, prefix),
		}
	}
	return nb, nil
}

// ToText prints the text representation of a notebook. Outputs are dropped
// on purpose: the text form is the editing surface, not the artifact.
func (m *Mapper) ToText(nb *notebook.Notebook) ([]byte, error) {
	name := nb.Runtime
	if name == "" {
		name = m.DefaultRuntime
	}
	meta, ok := runtime.Lookup(name)
	if !ok {
		return nil, &notebook.MappingError{Doc: nb.Name, Reason: fmt.Sprintf("unknown runtime %q", name)}
	}
	printed := *nb
	printed.Runtime = name
	return script.Print(&printed, meta.CommentPrefix), nil
}

// ScriptExt returns the text-form extension for the notebook's runtime.
func (m *Mapper) ScriptExt(nb *notebook.Notebook) (string, error) {
	name := nb.Runtime
	if name == "" {
		name = m.DefaultRuntime
	}
	meta, ok := runtime.Lookup(name)
	if !ok {
		return "", &notebook.MappingError{Doc: nb.Name, Reason: fmt.Sprintf("unknown runtime %q", name)}
	}
	return meta.ScriptExt, nil
}
