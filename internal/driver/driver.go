// Package driver orchestrates the pipeline across a set of documents:
// reconcile each pair, optionally re-execute the notebook, and aggregate one
// overall verdict. Documents are independent, so they are processed in
// parallel, but failures are isolated: a conflict or a broken cell in one
// document never stops the others.
package driver

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pairtext/pairtext/internal/executor"
	"github.com/pairtext/pairtext/internal/history"
	"github.com/pairtext/pairtext/internal/notebook"
	"github.com/pairtext/pairtext/internal/syncer"
)

// DocumentResult is one document's outcome for the whole pass.
type DocumentResult struct {
	Name     string
	Sync     syncer.Result
	Diff     string // conflict detail
	Report   *executor.Report
	Err      error
	Duration time.Duration
}

// Passed reports whether this document leaves the run green.
func (r DocumentResult) Passed() bool {
	if r.Err != nil || r.Sync == syncer.ResultConflict {
		return false
	}
	if r.Report != nil && (r.Report.Failed() || r.Report.Cancelled()) {
		return false
	}
	return true
}

// ExecStatus summarizes the execution report for display and history.
func (r DocumentResult) ExecStatus() string {
	switch {
	case r.Report == nil:
		return ""
	case r.Report.Failed():
		return "failed"
	case r.Report.Cancelled():
		return "cancelled"
	default:
		return "ok"
	}
}

// Summary is the aggregate over all documents of one run.
type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Executed   bool
	Results    []DocumentResult
}

// Passed reports overall success: every document reconciled without
// conflict and, when execution was requested, ran every cell cleanly.
func (s *Summary) Passed() bool {
	for _, r := range s.Results {
		if !r.Passed() {
			return false
		}
	}
	return true
}

// Failing returns the documents that make the run red.
func (s *Summary) Failing() []DocumentResult {
	var failing []DocumentResult
	for _, r := range s.Results {
		if !r.Passed() {
			failing = append(failing, r)
		}
	}
	return failing
}

type Driver struct {
	syncer  *syncer.Syncer
	engine  *executor.Engine
	db      *sql.DB // nil disables history recording
	workers int
	log     *zap.Logger

	// One mutex per document name guards against concurrent passes writing
	// the same representation files.
	locks sync.Map
}

func New(s *syncer.Syncer, e *executor.Engine, db *sql.DB, workers int, log *zap.Logger) *Driver {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{syncer: s, engine: e, db: db, workers: workers, log: log}
}

// Run processes the named documents; an empty list means every document the
// syncer can discover. The returned error covers driver-level problems only
// (nothing to enumerate); per-document failures live in the Summary.
func (d *Driver) Run(ctx context.Context, names []string, execute bool) (*Summary, error) {
	if len(names) == 0 {
		discovered, err := d.syncer.Discover()
		if err != nil {
			return nil, err
		}
		names = discovered
	}

	summary := &Summary{
		RunID:     history.NewRunID(),
		StartedAt: time.Now(),
		Executed:  execute,
		Results:   make([]DocumentResult, len(names)),
	}

	g := new(errgroup.Group)
	g.SetLimit(d.workers)
	for i, name := range names {
		g.Go(func() error {
			summary.Results[i] = d.processDocument(ctx, name, execute)
			return nil
		})
	}
	g.Wait()
	summary.FinishedAt = time.Now()

	d.log.Info("run finished",
		zap.String("run", summary.RunID),
		zap.Int("documents", len(names)),
		zap.Int("failing", len(summary.Failing())),
		zap.Bool("executed", execute))

	d.record(ctx, summary)
	return summary, nil
}

func (d *Driver) processDocument(ctx context.Context, name string, execute bool) DocumentResult {
	mu := d.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	start := time.Now()
	result := DocumentResult{Name: name}

	outcome, err := d.syncer.Reconcile(name)
	result.Sync = outcome.Result
	result.Diff = outcome.Diff
	if err != nil {
		result.Err = err
		result.Duration = time.Since(start)
		return result
	}
	if outcome.Result == syncer.ResultConflict || !execute {
		result.Duration = time.Since(start)
		return result
	}

	report, err := d.engine.Execute(ctx, outcome.Notebook)
	if err != nil {
		result.Err = err
		result.Duration = time.Since(start)
		return result
	}
	result.Report = report

	// Persist outputs only after a clean run; a red document must not
	// half-update its artifact.
	if !report.Failed() && !report.Cancelled() {
		if err := writeNotebook(outcome.NotebookPath, outcome.Notebook); err != nil {
			result.Err = err
		}
	}
	result.Duration = time.Since(start)
	return result
}

func (d *Driver) lockFor(name string) *sync.Mutex {
	mu, _ := d.locks.LoadOrStore(name, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (d *Driver) record(ctx context.Context, summary *Summary) {
	if d.db == nil {
		return
	}
	// An interrupted run must still show up in history, so recording is
	// detached from the run's own cancellation.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	rec := history.RunRecord{
		ID:         summary.RunID,
		StartedAt:  summary.StartedAt,
		FinishedAt: summary.FinishedAt,
		Status:     history.StatusFailure,
		Executed:   summary.Executed,
	}
	if summary.Passed() {
		rec.Status = history.StatusSuccess
	}
	for _, r := range summary.Results {
		doc := history.DocumentRecord{
			Doc:        r.Name,
			SyncResult: string(r.Sync),
			ExecStatus: r.ExecStatus(),
			Duration:   r.Duration,
		}
		if r.Err != nil {
			doc.Error = r.Err.Error()
		}
		if r.Report != nil {
			doc.CellsOK, doc.CellsFailed, doc.CellsSkipped = r.Report.Counts()
		}
		rec.Documents = append(rec.Documents, doc)
	}
	if err := history.RecordRun(ctx, d.db, rec); err != nil {
		// History is bookkeeping; a recording failure must not flip the
		// pipeline verdict.
		d.log.Warn("record run", zap.Error(err))
	}
}

func writeNotebook(path string, nb *notebook.Notebook) error {
	data, err := notebook.Encode(nb)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("driver: %s: write notebook: %w", nb.Name, err)
	}
	return nil
}
