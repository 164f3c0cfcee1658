package history_test

import (
	"context"
	"testing"
	"time"

	"github.com/pairtext/pairtext/internal/history"
	"github.com/pairtext/pairtext/internal/testutil"
)

func sampleRun(id string, started time.Time) history.RunRecord {
	return history.RunRecord{
		ID:         id,
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		Status:     history.StatusFailure,
		Executed:   true,
		Documents: []history.DocumentRecord{
			{
				Doc:        "alpha",
				SyncResult: "unchanged",
				ExecStatus: "ok",
				CellsOK:    4,
				Duration:   1200 * time.Millisecond,
			},
			{
				Doc:          "beta",
				SyncResult:   "generated",
				ExecStatus:   "failed",
				CellsOK:      1,
				CellsFailed:  1,
				CellsSkipped: 2,
				Duration:     800 * time.Millisecond,
			},
			{
				Doc:        "gamma",
				SyncResult: "conflict",
			},
		},
	}
}

func TestRecordAndRecentRuns(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	first := sampleRun(history.NewRunID(), base)
	second := sampleRun(history.NewRunID(), base.Add(time.Minute))

	if err := history.RecordRun(ctx, db, first); err != nil {
		t.Fatalf("record first: %v", err)
	}
	if err := history.RecordRun(ctx, db, second); err != nil {
		t.Fatalf("record second: %v", err)
	}

	runs, err := history.RecentRuns(ctx, db, 10)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != second.ID {
		t.Errorf("newest run = %q, want %q", runs[0].ID, second.ID)
	}
	got := runs[0]
	if got.Status != history.StatusFailure || !got.Executed {
		t.Errorf("run = %+v", got)
	}
	// beta failed execution, gamma conflicted.
	if got.DocsTotal != 3 || got.DocsFailed != 2 {
		t.Errorf("docs = %d/%d, want 3/2", got.DocsTotal, got.DocsFailed)
	}
	if !got.StartedAt.Equal(second.StartedAt) {
		t.Errorf("started = %v, want %v", got.StartedAt, second.StartedAt)
	}
}

func TestRunDocuments(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	rec := sampleRun(history.NewRunID(), time.Unix(1700000000, 0))
	if err := history.RecordRun(ctx, db, rec); err != nil {
		t.Fatalf("record: %v", err)
	}

	docs, err := history.RunDocuments(ctx, db, rec.ID)
	if err != nil {
		t.Fatalf("run documents: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d documents, want 3", len(docs))
	}
	// Ordered by document name.
	if docs[0].Doc != "alpha" || docs[1].Doc != "beta" || docs[2].Doc != "gamma" {
		t.Fatalf("order = %q %q %q", docs[0].Doc, docs[1].Doc, docs[2].Doc)
	}
	beta := docs[1]
	if beta.ExecStatus != "failed" || beta.CellsOK != 1 || beta.CellsFailed != 1 || beta.CellsSkipped != 2 {
		t.Errorf("beta = %+v", beta)
	}
	if beta.Duration != 800*time.Millisecond {
		t.Errorf("beta duration = %v", beta.Duration)
	}
	// A sync-only document leaves exec_status NULL.
	if docs[2].ExecStatus != "" {
		t.Errorf("gamma exec status = %q, want empty", docs[2].ExecStatus)
	}
}

func TestDocumentHistory(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	for i := 0; i < 3; i++ {
		rec := sampleRun(history.NewRunID(), base.Add(time.Duration(i)*time.Minute))
		if err := history.RecordRun(ctx, db, rec); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	docs, err := history.DocumentHistory(ctx, db, "beta", 2)
	if err != nil {
		t.Fatalf("document history: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d entries, want 2 (limit)", len(docs))
	}
	for _, doc := range docs {
		if doc.Doc != "beta" {
			t.Errorf("doc = %q, want beta", doc.Doc)
		}
	}

	none, err := history.DocumentHistory(ctx, db, "unknown", 10)
	if err != nil {
		t.Fatalf("document history: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("got %d entries for unknown doc, want 0", len(none))
	}
}

func TestRecordRunValidation(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	if err := history.RecordRun(ctx, nil, sampleRun("x", time.Now())); err == nil {
		t.Error("nil db accepted")
	}
	rec := sampleRun("", time.Now())
	if err := history.RecordRun(ctx, db, rec); err == nil {
		t.Error("empty run ID accepted")
	}
}
