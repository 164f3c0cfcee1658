// Package executor re-runs a document's executable cells against a fresh
// runtime instance. Cells run strictly in document order, carrying state
// forward, and execution is fail-fast: the first failed or timed-out cell
// halts the document and everything after it is reported as skipped.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pairtext/pairtext/internal/notebook"
	"github.com/pairtext/pairtext/internal/runtime"
)

// Outcome is the per-cell verdict.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"   // not attempted because an earlier cell failed
	OutcomeCancelled Outcome = "cancelled" // run cancelled before or during this cell
)

// ErrorKind distinguishes a cell that raised an error from one that ran out
// of time.
type ErrorKind string

const (
	ErrKindError   ErrorKind = "error"
	ErrKindTimeout ErrorKind = "timeout"
)

// CellResult records the outcome of one executable cell. Index is the cell's
// position in the document's full cell sequence, narrative cells included.
type CellResult struct {
	Index     int
	Outcome   Outcome
	ErrorKind ErrorKind // set when Outcome is failed
	Message   string
	Duration  time.Duration
}

// Report is the per-document execution record.
type Report struct {
	Doc       string
	Runtime   string
	Results   []CellResult
	StoppedAt int // document cell index where execution halted, -1 if it ran through
}

// Failed reports whether any cell failed (including timeouts).
func (r *Report) Failed() bool {
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			return true
		}
	}
	return false
}

// Cancelled reports whether the run was cancelled mid-document.
func (r *Report) Cancelled() bool {
	for _, res := range r.Results {
		if res.Outcome == OutcomeCancelled {
			return true
		}
	}
	return false
}

// Counts returns how many cells ended ok, failed and skipped/cancelled.
func (r *Report) Counts() (ok, failed, skipped int) {
	for _, res := range r.Results {
		switch res.Outcome {
		case OutcomeOK:
			ok++
		case OutcomeFailed:
			failed++
		default:
			skipped++
		}
	}
	return ok, failed, skipped
}

type Engine struct {
	perCellTimeout time.Duration // 0 disables the per-cell deadline
	log            *zap.Logger
}

func New(perCellTimeout time.Duration, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{perCellTimeout: perCellTimeout, log: log}
}

// Execute runs the notebook's executable cells and deposits captured outputs
// into the notebook in place, replacing each successful cell's stale outputs
// and attaching an error output to a failed cell. Skipped cells keep
// whatever outputs they had.
func (e *Engine) Execute(ctx context.Context, nb *notebook.Notebook) (*Report, error) {
	report := &Report{Doc: nb.Name, Runtime: nb.Runtime, StoppedAt: -1}

	rt, err := runtime.New(nb.Runtime)
	if err != nil {
		return nil, fmt.Errorf("executor: %s: %w", nb.Name, err)
	}
	defer rt.Close()

	execCount := 0
	halted := false
	for i := range nb.Cells {
		cell := &nb.Cells[i]
		if cell.Kind != notebook.KindExecutable {
			continue
		}
		if halted {
			report.Results = append(report.Results, CellResult{Index: i, Outcome: OutcomeSkipped})
			continue
		}
		if ctx.Err() != nil {
			report.Results = append(report.Results, CellResult{Index: i, Outcome: OutcomeCancelled, Message: ctx.Err().Error()})
			report.StoppedAt = i
			halted = true
			continue
		}

		res := e.runCell(ctx, rt, nb.Name, i, cell, &execCount)
		report.Results = append(report.Results, res)
		if res.Outcome != OutcomeOK {
			report.StoppedAt = i
			halted = true
		}
	}
	return report, nil
}

func (e *Engine) runCell(ctx context.Context, rt runtime.Runtime, doc string, index int, cell *notebook.Cell, execCount *int) CellResult {
	cellCtx := ctx
	cancel := context.CancelFunc(func() {})
	if e.perCellTimeout > 0 {
		cellCtx, cancel = context.WithTimeout(ctx, e.perCellTimeout)
	}
	defer cancel()

	start := time.Now()
	res, err := rt.Eval(cellCtx, cell.Source)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		*execCount++
		cell.ExecutionCount = *execCount
		cell.Outputs = captureOutputs(res)
		e.log.Debug("cell ok",
			zap.String("doc", doc),
			zap.Int("cell", index),
			zap.Duration("elapsed", elapsed))
		return CellResult{Index: index, Outcome: OutcomeOK, Duration: elapsed}

	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		// The cell's own deadline fired, not the caller's context.
		msg := fmt.Sprintf("cell exceeded %s timeout", e.perCellTimeout)
		cell.Outputs = []notebook.Output{{
			Type:   notebook.OutputError,
			Ename:  string(ErrKindTimeout),
			Evalue: msg,
		}}
		e.log.Warn("cell timed out", zap.String("doc", doc), zap.Int("cell", index))
		return CellResult{Index: index, Outcome: OutcomeFailed, ErrorKind: ErrKindTimeout, Message: msg, Duration: elapsed}

	case ctx.Err() != nil:
		return CellResult{Index: index, Outcome: OutcomeCancelled, Message: ctx.Err().Error(), Duration: elapsed}

	default:
		*execCount++
		cell.ExecutionCount = *execCount
		cell.Outputs = []notebook.Output{{
			Type:      notebook.OutputError,
			Ename:     string(ErrKindError),
			Evalue:    err.Error(),
			Traceback: tracebackLines(res.Stderr),
		}}
		e.log.Warn("cell failed",
			zap.String("doc", doc),
			zap.Int("cell", index),
			zap.Error(err))
		return CellResult{Index: index, Outcome: OutcomeFailed, ErrorKind: ErrKindError, Message: err.Error(), Duration: elapsed}
	}
}

func captureOutputs(res runtime.Result) []notebook.Output {
	var outputs []notebook.Output
	if res.Stdout != "" {
		outputs = append(outputs, notebook.Output{Type: notebook.OutputStream, StreamName: "stdout", Text: res.Stdout})
	}
	if res.Stderr != "" {
		outputs = append(outputs, notebook.Output{Type: notebook.OutputStream, StreamName: "stderr", Text: res.Stderr})
	}
	if res.Value != "" {
		outputs = append(outputs, notebook.Output{Type: notebook.OutputExecuteResult, Text: res.Value})
	}
	return outputs
}

func tracebackLines(stderr string) []string {
	stderr = strings.TrimRight(stderr, "\n")
	if stderr == "" {
		return nil
	}
	return strings.Split(stderr, "\n")
}
