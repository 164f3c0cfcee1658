// Package history records pipeline runs in sqlite so regressions in the
// example documents can be traced to the run that introduced them.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus values stored in runs.status.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// RunRecord is one driver pass over a set of documents.
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Executed   bool // whether the run included execution, not just sync
	DocsTotal  int
	DocsFailed int
	Documents  []DocumentRecord
}

// DocumentRecord is one document's outcome within a run.
type DocumentRecord struct {
	Doc          string
	SyncResult   string
	ExecStatus   string // "", "ok", "failed" or "cancelled"
	CellsOK      int
	CellsFailed  int
	CellsSkipped int
	Error        string
	Duration     time.Duration
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// RecordRun stores a run and its per-document outcomes in one transaction.
func RecordRun(ctx context.Context, db *sql.DB, rec RunRecord) error {
	if db == nil {
		return errors.New("history: db is nil")
	}
	if rec.ID == "" {
		return errors.New("history: run ID is required")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin tx: %w", err)
	}
	defer tx.Rollback()

	docsFailed := 0
	for _, doc := range rec.Documents {
		if doc.SyncResult == "conflict" || doc.ExecStatus == "failed" || doc.ExecStatus == "cancelled" || doc.Error != "" {
			docsFailed++
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, status, executed, docs_total, docs_failed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.StartedAt.Unix(), rec.FinishedAt.Unix(), rec.Status, boolToInt(rec.Executed), len(rec.Documents), docsFailed)
	if err != nil {
		return fmt.Errorf("history: insert run: %w", err)
	}

	for _, doc := range rec.Documents {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO document_results (
				run_id, doc, sync_result, exec_status,
				cells_ok, cells_failed, cells_skipped, error, duration_ms
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.ID, doc.Doc, doc.SyncResult, nullIfEmpty(doc.ExecStatus),
			doc.CellsOK, doc.CellsFailed, doc.CellsSkipped,
			nullIfEmpty(doc.Error), doc.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("history: insert document result for %s: %w", doc.Doc, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit: %w", err)
	}
	return nil
}

// RecentRuns returns the newest runs first, without their documents.
func RecentRuns(ctx context.Context, db *sql.DB, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, executed, docs_total, docs_failed
		FROM runs
		ORDER BY started_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var started, finished int64
		var executed int
		if err := rows.Scan(&rec.ID, &started, &finished, &rec.Status, &executed, &rec.DocsTotal, &rec.DocsFailed); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		rec.StartedAt = time.Unix(started, 0)
		rec.FinishedAt = time.Unix(finished, 0)
		rec.Executed = executed != 0
		// Document rows are loaded on demand via RunDocuments.
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// RunDocuments returns the per-document outcomes of one run.
func RunDocuments(ctx context.Context, db *sql.DB, runID string) ([]DocumentRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT doc, sync_result, exec_status, cells_ok, cells_failed, cells_skipped, error, duration_ms
		FROM document_results
		WHERE run_id = ?
		ORDER BY doc
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("history: query documents: %w", err)
	}
	defer rows.Close()

	var docs []DocumentRecord
	for rows.Next() {
		var doc DocumentRecord
		var execStatus, errText sql.NullString
		var durationMS int64
		if err := rows.Scan(&doc.Doc, &doc.SyncResult, &execStatus,
			&doc.CellsOK, &doc.CellsFailed, &doc.CellsSkipped, &errText, &durationMS); err != nil {
			return nil, fmt.Errorf("history: scan document: %w", err)
		}
		doc.ExecStatus = execStatus.String
		doc.Error = errText.String
		doc.Duration = time.Duration(durationMS) * time.Millisecond
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DocumentHistory returns one document's outcomes across recent runs,
// newest first.
func DocumentHistory(ctx context.Context, db *sql.DB, doc string, limit int) ([]DocumentRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
		SELECT dr.doc, dr.sync_result, dr.exec_status,
		       dr.cells_ok, dr.cells_failed, dr.cells_skipped, dr.error, dr.duration_ms
		FROM document_results dr
		JOIN runs r ON r.id = dr.run_id
		WHERE dr.doc = ?
		ORDER BY r.started_at DESC, r.id
		LIMIT ?
	`, doc, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query document history: %w", err)
	}
	defer rows.Close()

	var docs []DocumentRecord
	for rows.Next() {
		var rec DocumentRecord
		var execStatus, errText sql.NullString
		var durationMS int64
		if err := rows.Scan(&rec.Doc, &rec.SyncResult, &execStatus,
			&rec.CellsOK, &rec.CellsFailed, &rec.CellsSkipped, &errText, &durationMS); err != nil {
			return nil, fmt.Errorf("history: scan document: %w", err)
		}
		rec.ExecStatus = execStatus.String
		rec.Error = errText.String
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		docs = append(docs, rec)
	}
	return docs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
