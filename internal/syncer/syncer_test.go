package syncer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pairtext/pairtext/internal/mapper"
	"github.com/pairtext/pairtext/internal/notebook"
)

const exampleScript = `// ---
// runtime: go
// ---

// %% [markdown]
// # Example

// %%
x := 1 + 1
x
`

func newTestSyncer(t *testing.T) (*Syncer, string) {
	t.Helper()
	dir := t.TempDir()
	return New(dir, mapper.New("go"), nil), dir
}

func writeScript(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}

func TestReconcileGeneratesNotebookFromText(t *testing.T) {
	s, dir := newTestSyncer(t)
	writeScript(t, dir, "example.go", exampleScript)

	outcome, err := s.Reconcile("example")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome.Result != ResultGenerated {
		t.Fatalf("result = %q, want %q", outcome.Result, ResultGenerated)
	}

	data := readFile(t, filepath.Join(dir, "example.ipynb"))
	nb, err := notebook.Decode("example", data)
	if err != nil {
		t.Fatalf("decode generated notebook: %v", err)
	}
	if len(nb.Cells) != 2 || nb.Cells[1].Source != "x := 1 + 1\nx" {
		t.Errorf("generated notebook cells = %+v", nb.Cells)
	}
}

func TestReconcileGeneratesTextFromNotebook(t *testing.T) {
	s, dir := newTestSyncer(t)

	nb := &notebook.Notebook{
		Name:    "derived",
		Runtime: "go",
		Cells: []notebook.Cell{
			{Kind: notebook.KindNarrative, Source: "# Derived"},
			{Kind: notebook.KindExecutable, Source: "a := 42"},
		},
	}
	data, err := notebook.Encode(nb)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "derived.ipynb"), data, 0o644); err != nil {
		t.Fatalf("write notebook: %v", err)
	}

	outcome, err := s.Reconcile("derived")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome.Result != ResultGenerated {
		t.Fatalf("result = %q, want %q", outcome.Result, ResultGenerated)
	}

	text := string(readFile(t, filepath.Join(dir, "derived.go")))
	if !strings.Contains(text, "// # Derived") || !strings.Contains(text, "a := 42") {
		t.Errorf("generated script = %q", text)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	s, dir := newTestSyncer(t)
	writeScript(t, dir, "example.go", exampleScript)

	if _, err := s.Reconcile("example"); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	textBefore := readFile(t, filepath.Join(dir, "example.go"))
	nbBefore := readFile(t, filepath.Join(dir, "example.ipynb"))

	for i := 0; i < 2; i++ {
		outcome, err := s.Reconcile("example")
		if err != nil {
			t.Fatalf("reconcile %d: %v", i+2, err)
		}
		if outcome.Result != ResultUnchanged {
			t.Fatalf("reconcile %d result = %q, want %q", i+2, outcome.Result, ResultUnchanged)
		}
	}

	if string(readFile(t, filepath.Join(dir, "example.go"))) != string(textBefore) {
		t.Error("script mutated by no-op reconcile")
	}
	if string(readFile(t, filepath.Join(dir, "example.ipynb"))) != string(nbBefore) {
		t.Error("notebook mutated by no-op reconcile")
	}
}

func TestReconcileConflictTouchesNothing(t *testing.T) {
	s, dir := newTestSyncer(t)
	writeScript(t, dir, "example.go", exampleScript)
	if _, err := s.Reconcile("example"); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	// Diverge the script from the generated notebook.
	edited := strings.Replace(exampleScript, "x := 1 + 1", "x := 2 + 2", 1)
	writeScript(t, dir, "example.go", edited)

	textBefore := readFile(t, filepath.Join(dir, "example.go"))
	nbBefore := readFile(t, filepath.Join(dir, "example.ipynb"))

	outcome, err := s.Reconcile("example")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome.Result != ResultConflict {
		t.Fatalf("result = %q, want %q", outcome.Result, ResultConflict)
	}
	if outcome.Diff == "" {
		t.Error("conflict carries no diff")
	}

	if string(readFile(t, filepath.Join(dir, "example.go"))) != string(textBefore) {
		t.Error("conflict mutated the script")
	}
	if string(readFile(t, filepath.Join(dir, "example.ipynb"))) != string(nbBefore) {
		t.Error("conflict mutated the notebook")
	}
}

func TestReconcilePreservesOutputsOnRegenerate(t *testing.T) {
	s, dir := newTestSyncer(t)
	writeScript(t, dir, "example.go", exampleScript)
	if _, err := s.Reconcile("example"); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	// Simulate an executed notebook whose encoding has drifted: same cells,
	// outputs attached, plus trailing bytes our encoder would not produce.
	nbPath := filepath.Join(dir, "example.ipynb")
	nb, err := notebook.Decode("example", readFile(t, nbPath))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	nb.Cells[1].Outputs = []notebook.Output{{Type: notebook.OutputExecuteResult, Text: "2"}}
	nb.Cells[1].ExecutionCount = 3
	data, err := notebook.Encode(nb)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(nbPath, append(data, '\n'), 0o644); err != nil {
		t.Fatalf("write notebook: %v", err)
	}

	outcome, err := s.Reconcile("example")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome.Result != ResultGenerated {
		t.Fatalf("result = %q, want %q", outcome.Result, ResultGenerated)
	}

	regenerated, err := notebook.Decode("example", readFile(t, nbPath))
	if err != nil {
		t.Fatalf("decode regenerated: %v", err)
	}
	if len(regenerated.Cells[1].Outputs) != 1 || regenerated.Cells[1].Outputs[0].Text != "2" {
		t.Errorf("outputs not preserved: %+v", regenerated.Cells[1].Outputs)
	}
	if regenerated.Cells[1].ExecutionCount != 3 {
		t.Errorf("execution count = %d, want 3", regenerated.Cells[1].ExecutionCount)
	}
}

func TestReconcileDefaultsEmptyRuntime(t *testing.T) {
	s, dir := newTestSyncer(t)

	nb := &notebook.Notebook{
		Name:  "bare",
		Cells: []notebook.Cell{{Kind: notebook.KindExecutable, Source: "x := 1"}},
	}
	data, err := notebook.Encode(nb)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bare.ipynb"), data, 0o644); err != nil {
		t.Fatalf("write notebook: %v", err)
	}

	outcome, err := s.Reconcile("bare")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome.Result != ResultGenerated {
		t.Fatalf("result = %q, want %q", outcome.Result, ResultGenerated)
	}
	// The in-memory notebook handed to execution carries the default, same
	// as the generated header.
	if outcome.Notebook.Runtime != "go" {
		t.Errorf("runtime = %q, want %q", outcome.Notebook.Runtime, "go")
	}
	text := string(readFile(t, filepath.Join(dir, "bare.go")))
	if !strings.Contains(text, "// runtime: go") {
		t.Errorf("generated script header = %q", text)
	}
}

func TestReconcileMissingDocument(t *testing.T) {
	s, _ := newTestSyncer(t)
	if _, err := s.Reconcile("ghost"); err == nil {
		t.Fatal("expected error for missing document")
	}
}

func TestReconcileAmbiguousScripts(t *testing.T) {
	s, dir := newTestSyncer(t)
	writeScript(t, dir, "dup.go", exampleScript)
	writeScript(t, dir, "dup.sh", "# ---\n# runtime: sh\n# ---\n\n# %%\necho hi\n")

	if _, err := s.Reconcile("dup"); err == nil {
		t.Fatal("expected error for ambiguous document")
	}
}

func TestDiscover(t *testing.T) {
	s, dir := newTestSyncer(t)
	writeScript(t, dir, "alpha.go", exampleScript)
	writeScript(t, dir, "beta.sh", "# ---\n# runtime: sh\n# ---\n\n# %%\ntrue\n")
	writeScript(t, dir, "notes.txt", "not a document")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// A notebook without a script still counts as a document.
	nb := &notebook.Notebook{Name: "gamma", Runtime: "go", Cells: []notebook.Cell{{Kind: notebook.KindExecutable, Source: "z := 1"}}}
	data, err := notebook.Encode(nb)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "gamma.ipynb"), data, 0o644); err != nil {
		t.Fatalf("write notebook: %v", err)
	}

	names, err := s.Discover()
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	want := []string{"alpha", "beta", "gamma"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
