package runtime

import (
	"bytes"
	"context"
	"fmt"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

func init() {
	Register(Meta{
		Name:          "go",
		ScriptExt:     ".go",
		CommentPrefix: "//",
		New:           newGoRuntime,
	})
}

// goRuntime interprets cells with yaegi. One interpreter lives for the whole
// document, so bindings from earlier cells stay visible to later ones.
// Interpreting instead of compiling keeps execution in-process: no go build,
// no binary artifacts, no toolchain on the examples' critical path.
type goRuntime struct {
	interp *interp.Interpreter
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func newGoRuntime() (Runtime, error) {
	rt := &goRuntime{}
	rt.interp = interp.New(interp.Options{
		Stdout: &rt.stdout,
		Stderr: &rt.stderr,
	})
	if err := rt.interp.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load stdlib symbols: %w", err)
	}
	return rt, nil
}

func (rt *goRuntime) Name() string { return "go" }

// Eval interprets one cell. The interpreter cannot be interrupted mid
// evaluation, so on context expiry the evaluating goroutine is abandoned and
// the cell is reported against the context error; the caller stops the
// document there, so the orphaned goroutine never affects a later cell.
func (rt *goRuntime) Eval(ctx context.Context, source string) (Result, error) {
	rt.stdout.Reset()
	rt.stderr.Reset()

	type evalOutcome struct {
		value string
		err   error
	}
	done := make(chan evalOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- evalOutcome{err: fmt.Errorf("%v", r)}
			}
		}()
		v, err := rt.interp.Eval(source)
		if err != nil {
			done <- evalOutcome{err: err}
			return
		}
		value := ""
		if v.IsValid() && v.CanInterface() {
			value = fmt.Sprint(v.Interface())
		}
		done <- evalOutcome{value: value}
	}()

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case outcome := <-done:
		res := Result{
			Stdout: rt.stdout.String(),
			Stderr: rt.stderr.String(),
			Value:  outcome.value,
		}
		if outcome.err != nil {
			return res, outcome.err
		}
		return res, nil
	}
}

func (rt *goRuntime) Close() error { return nil }
