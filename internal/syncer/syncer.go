// Package syncer reconciles a document's text and notebook representations.
// The text form is the editing source of truth; the notebook form is derived
// and carries execution outputs. When both sides exist and their cells
// diverge, the syncer refuses to pick a winner: silently overwriting either
// file would be data loss, so divergence is surfaced as a conflict instead.
package syncer

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/pairtext/pairtext/internal/mapper"
	"github.com/pairtext/pairtext/internal/notebook"
	"github.com/pairtext/pairtext/internal/runtime"
)

// NotebookExt is the derived representation's file extension.
const NotebookExt = ".ipynb"

// Result classifies one reconcile pass.
type Result string

const (
	ResultGenerated Result = "generated" // one side was (re)created from the other
	ResultUnchanged Result = "unchanged" // both sides already consistent, nothing written
	ResultConflict  Result = "conflict"  // divergent cells, nothing written
)

// Outcome is the report for one document, including the reconciled in-memory
// notebook so the execution engine can run it without re-reading the file.
type Outcome struct {
	Doc          string
	Result       Result
	Diff         string // cell-level diff, set on conflict
	Notebook     *notebook.Notebook
	NotebookPath string
}

type Syncer struct {
	dir    string
	mapper *mapper.Mapper
	log    *zap.Logger
}

func New(dir string, m *mapper.Mapper, log *zap.Logger) *Syncer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Syncer{dir: dir, mapper: m, log: log}
}

// Discover lists the document names in the directory: every file with a
// registered script extension plus every notebook, deduplicated by stem.
func (s *Syncer) Discover() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("syncer: read documents dir: %w", err)
	}
	seen := map[string]bool{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != NotebookExt {
			if _, ok := runtime.ByScriptExt(ext); !ok {
				continue
			}
		}
		seen[strings.TrimSuffix(entry.Name(), ext)] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Reconcile brings the two representations of one document into agreement.
func (s *Syncer) Reconcile(name string) (Outcome, error) {
	out := Outcome{Doc: name, NotebookPath: filepath.Join(s.dir, name+NotebookExt)}

	textPath, textData, err := s.findScript(name)
	if err != nil {
		return out, err
	}
	nbData, err := os.ReadFile(out.NotebookPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return out, fmt.Errorf("syncer: %s: read notebook: %w", name, err)
	}
	hasText := textPath != ""
	hasNotebook := err == nil

	switch {
	case !hasText && !hasNotebook:
		return out, fmt.Errorf("syncer: document %q not found in %s", name, s.dir)

	case hasText && !hasNotebook:
		nb, err := s.mapper.ToNotebook(name, textData)
		if err != nil {
			return out, err
		}
		if err := s.writeNotebook(out.NotebookPath, nb); err != nil {
			return out, err
		}
		out.Result = ResultGenerated
		out.Notebook = nb

	case !hasText && hasNotebook:
		nb, err := notebook.Decode(name, nbData)
		if err != nil {
			return out, err
		}
		// An empty kernelspec gets the configured default here, not just in
		// the printed header, so execution sees the same runtime.
		if nb.Runtime == "" {
			nb.Runtime = s.mapper.DefaultRuntime
		}
		text, err := s.mapper.ToText(nb)
		if err != nil {
			return out, err
		}
		ext, err := s.mapper.ScriptExt(nb)
		if err != nil {
			return out, err
		}
		scriptPath := filepath.Join(s.dir, name+ext)
		if err := os.WriteFile(scriptPath, text, 0o644); err != nil {
			return out, fmt.Errorf("syncer: %s: write script: %w", name, err)
		}
		out.Result = ResultGenerated
		out.Notebook = nb

	default:
		return s.reconcileBoth(out, name, textData, nbData)
	}

	s.log.Debug("reconciled",
		zap.String("doc", name),
		zap.String("result", string(out.Result)))
	return out, nil
}

// reconcileBoth handles the case where both files exist. Cells equal means
// the notebook only needs regenerating when its encoding drifted (stale
// formatting, dropped metadata); cells unequal is a conflict and neither
// file is touched.
func (s *Syncer) reconcileBoth(out Outcome, name string, textData, nbData []byte) (Outcome, error) {
	fromText, err := s.mapper.ToNotebook(name, textData)
	if err != nil {
		return out, err
	}
	onDisk, err := notebook.Decode(name, nbData)
	if err != nil {
		return out, err
	}

	if diff := cmp.Diff(cellViews(fromText), cellViews(onDisk)); diff != "" {
		out.Result = ResultConflict
		out.Diff = diff
		s.log.Warn("representations diverged", zap.String("doc", name))
		return out, nil
	}

	// Same cells: carry the executed outputs over to the regenerated form.
	merged := fromText
	for i := range merged.Cells {
		merged.Cells[i].Outputs = onDisk.Cells[i].Outputs
		merged.Cells[i].ExecutionCount = onDisk.Cells[i].ExecutionCount
	}
	if merged.Runtime == "" {
		merged.Runtime = onDisk.Runtime
	}

	canonical, err := notebook.Encode(merged)
	if err != nil {
		return out, err
	}
	if bytes.Equal(canonical, nbData) {
		out.Result = ResultUnchanged
		out.Notebook = merged
		return out, nil
	}
	if err := os.WriteFile(out.NotebookPath, canonical, 0o644); err != nil {
		return out, fmt.Errorf("syncer: %s: write notebook: %w", name, err)
	}
	out.Result = ResultGenerated
	out.Notebook = merged
	s.log.Debug("reconciled", zap.String("doc", name), zap.String("result", string(out.Result)))
	return out, nil
}

// findScript locates the document's text file among the registered script
// extensions. A document with two text forms is ambiguous and rejected.
func (s *Syncer) findScript(name string) (string, []byte, error) {
	var found string
	for _, rt := range runtime.Names() {
		meta, _ := runtime.Lookup(rt)
		path := filepath.Join(s.dir, name+meta.ScriptExt)
		if _, err := os.Stat(path); err == nil {
			if found != "" {
				return "", nil, fmt.Errorf("syncer: document %q has multiple script files (%s, %s)", name, filepath.Base(found), filepath.Base(path))
			}
			found = path
		}
	}
	if found == "" {
		return "", nil, nil
	}
	data, err := os.ReadFile(found)
	if err != nil {
		return "", nil, fmt.Errorf("syncer: %s: read script: %w", name, err)
	}
	return found, data, nil
}

func (s *Syncer) writeNotebook(path string, nb *notebook.Notebook) error {
	data, err := notebook.Encode(nb)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("syncer: %s: write notebook: %w", nb.Name, err)
	}
	return nil
}

// cellView is the part of a cell both representations must agree on.
type cellView struct {
	Kind   string
	Source string
}

func cellViews(nb *notebook.Notebook) []cellView {
	views := make([]cellView, len(nb.Cells))
	for i, c := range nb.Cells {
		views[i] = cellView{Kind: string(c.Kind), Source: c.Source}
	}
	return views
}
