package executor

import (
	"context"
	"testing"
	"time"

	"github.com/pairtext/pairtext/internal/notebook"
)

func goNotebook(sources ...string) *notebook.Notebook {
	nb := &notebook.Notebook{Name: "test", Runtime: "go"}
	nb.Cells = append(nb.Cells, notebook.Cell{Kind: notebook.KindNarrative, Source: "# Test"})
	for _, src := range sources {
		nb.Cells = append(nb.Cells, notebook.Cell{Kind: notebook.KindExecutable, Source: src})
	}
	return nb
}

func TestExecuteCapturesValue(t *testing.T) {
	e := New(0, nil)
	nb := goNotebook("x := 1 + 1\nx")

	report, err := e.Execute(context.Background(), nb)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(report.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(report.Results))
	}
	if report.Results[0].Outcome != OutcomeOK {
		t.Fatalf("outcome = %q, want ok (%s)", report.Results[0].Outcome, report.Results[0].Message)
	}
	if report.StoppedAt != -1 {
		t.Errorf("StoppedAt = %d, want -1", report.StoppedAt)
	}

	cell := nb.Cells[1]
	if cell.ExecutionCount != 1 {
		t.Errorf("execution count = %d, want 1", cell.ExecutionCount)
	}
	var result *notebook.Output
	for i := range cell.Outputs {
		if cell.Outputs[i].Type == notebook.OutputExecuteResult {
			result = &cell.Outputs[i]
		}
	}
	if result == nil || result.Text != "2" {
		t.Errorf("execute result = %+v, want 2", cell.Outputs)
	}
}

func TestExecuteStateCarriesAcrossCells(t *testing.T) {
	e := New(0, nil)
	nb := goNotebook("base := 40", "base + 2")

	report, err := e.Execute(context.Background(), nb)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, res := range report.Results {
		if res.Outcome != OutcomeOK {
			t.Fatalf("cell %d outcome = %q (%s)", res.Index, res.Outcome, res.Message)
		}
	}
	outputs := nb.Cells[2].Outputs
	if len(outputs) == 0 || outputs[len(outputs)-1].Text != "42" {
		t.Errorf("second cell outputs = %+v, want 42", outputs)
	}
}

func TestExecuteFailFast(t *testing.T) {
	e := New(0, nil)
	nb := goNotebook(
		"a := 1\na",
		"zero := 0\n1 / zero",
		"b := 2\nb",
	)

	report, err := e.Execute(context.Background(), nb)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(report.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(report.Results))
	}
	if got := report.Results[0].Outcome; got != OutcomeOK {
		t.Errorf("cell 1 outcome = %q, want ok", got)
	}
	if got := report.Results[1].Outcome; got != OutcomeFailed {
		t.Errorf("cell 2 outcome = %q, want failed", got)
	}
	if got := report.Results[1].ErrorKind; got != ErrKindError {
		t.Errorf("cell 2 error kind = %q, want error", got)
	}
	if got := report.Results[2].Outcome; got != OutcomeSkipped {
		t.Errorf("cell 3 outcome = %q, want skipped", got)
	}
	if report.StoppedAt != 2 {
		t.Errorf("StoppedAt = %d, want 2", report.StoppedAt)
	}
	if !report.Failed() {
		t.Error("report should be failed")
	}

	// The failed cell carries an error output for the artifact.
	outputs := nb.Cells[2].Outputs
	if len(outputs) != 1 || outputs[0].Type != notebook.OutputError {
		t.Errorf("failed cell outputs = %+v", outputs)
	}
}

func TestExecuteTimeout(t *testing.T) {
	e := New(50*time.Millisecond, nil)
	nb := goNotebook(`import "time"`, "time.Sleep(5 * time.Second)", "after := 1")

	report, err := e.Execute(context.Background(), nb)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := report.Results[0].Outcome; got != OutcomeOK {
		t.Errorf("import cell outcome = %q, want ok", got)
	}
	if got := report.Results[1].Outcome; got != OutcomeFailed {
		t.Errorf("cell outcome = %q, want failed", got)
	}
	if got := report.Results[1].ErrorKind; got != ErrKindTimeout {
		t.Errorf("error kind = %q, want timeout", got)
	}
	if got := report.Results[2].Outcome; got != OutcomeSkipped {
		t.Errorf("next cell outcome = %q, want skipped", got)
	}
}

func TestExecuteCancelled(t *testing.T) {
	e := New(0, nil)
	nb := goNotebook("a := 1", "b := 2")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := e.Execute(ctx, nb)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := report.Results[0].Outcome; got != OutcomeCancelled {
		t.Errorf("cell 1 outcome = %q, want cancelled", got)
	}
	if got := report.Results[1].Outcome; got != OutcomeSkipped {
		t.Errorf("cell 2 outcome = %q, want skipped", got)
	}
	if report.Failed() {
		t.Error("cancelled run must not count as failed")
	}
	if !report.Cancelled() {
		t.Error("report should be cancelled")
	}
}

func TestExecuteUnknownRuntime(t *testing.T) {
	e := New(0, nil)
	nb := &notebook.Notebook{
		Name:    "test",
		Runtime: "fortran",
		Cells:   []notebook.Cell{{Kind: notebook.KindExecutable, Source: "x"}},
	}
	if _, err := e.Execute(context.Background(), nb); err == nil {
		t.Fatal("expected error for unknown runtime")
	}
}

func TestExecuteShellRuntime(t *testing.T) {
	e := New(0, nil)
	nb := &notebook.Notebook{
		Name:    "shelldoc",
		Runtime: "sh",
		Cells: []notebook.Cell{
			{Kind: notebook.KindExecutable, Source: "echo created > state.txt"},
			{Kind: notebook.KindExecutable, Source: "cat state.txt"},
		},
	}

	report, err := e.Execute(context.Background(), nb)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, res := range report.Results {
		if res.Outcome != OutcomeOK {
			t.Fatalf("cell %d outcome = %q (%s)", res.Index, res.Outcome, res.Message)
		}
	}
	outputs := nb.Cells[1].Outputs
	if len(outputs) != 1 || outputs[0].Text != "created\n" {
		t.Errorf("second cell outputs = %+v, want created", outputs)
	}
}

func TestCounts(t *testing.T) {
	report := &Report{Results: []CellResult{
		{Outcome: OutcomeOK},
		{Outcome: OutcomeOK},
		{Outcome: OutcomeFailed},
		{Outcome: OutcomeSkipped},
		{Outcome: OutcomeCancelled},
	}}
	ok, failed, skipped := report.Counts()
	if ok != 2 || failed != 1 || skipped != 2 {
		t.Errorf("counts = %d/%d/%d, want 2/1/2", ok, failed, skipped)
	}
}
