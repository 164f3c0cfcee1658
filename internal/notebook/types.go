// Package notebook defines the in-memory model shared by both document
// representations and the ipynb encoding of the executable form.
package notebook

import "fmt"

// CellKind distinguishes narrative prose from runnable code.
type CellKind string

const (
	KindNarrative  CellKind = "markdown"
	KindExecutable CellKind = "code"
)

// OutputType mirrors the nbformat output_type values this tool produces.
type OutputType string

const (
	OutputStream        OutputType = "stream"
	OutputExecuteResult OutputType = "execute_result"
	OutputError         OutputType = "error"
)

// Output is one captured result of executing a code cell.
type Output struct {
	Type OutputType

	// Stream fields (Type == OutputStream).
	StreamName string // "stdout" or "stderr"
	Text       string

	// Error fields (Type == OutputError).
	Ename     string
	Evalue    string
	Traceback []string
}

// Cell is one ordered element of a document. Source never includes the
// cell-delimiter lines of the text form. Outputs and ExecutionCount are
// populated only for executable cells, and only the notebook form keeps them.
type Cell struct {
	Kind           CellKind
	Source         string
	Outputs        []Output
	ExecutionCount int // 0 when the cell has never been executed
}

// Notebook is the structured form of a document: an ordered cell sequence
// plus the runtime its code cells execute against.
type Notebook struct {
	Name    string // document name, the shared path stem of both files
	Runtime string // registered runtime name, e.g. "go"
	Cells   []Cell
}

// CodeCells returns the indices of the executable cells in document order.
func (n *Notebook) CodeCells() []int {
	var idx []int
	for i, c := range n.Cells {
		if c.Kind == KindExecutable {
			idx = append(idx, i)
		}
	}
	return idx
}

// MappingError reports a malformed representation. Line is 1-based in the
// text form and zero when the error has no line (e.g. notebook JSON).
type MappingError struct {
	Doc    string
	Line   int
	Reason string
}

func (e *MappingError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("notebook: %s:%d: %s", e.Doc, e.Line, e.Reason)
	}
	return fmt.Sprintf("notebook: %s: %s", e.Doc, e.Reason)
}
