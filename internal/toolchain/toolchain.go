// Package toolchain invokes the opaque collaborator commands — packaging,
// dependency setup, lint, format — through the shell. The pipeline only
// cares about captured output and the exit code; what the commands do is
// their business.
package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// Result is the captured run of one collaborator command.
type Result struct {
	Command  string
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// OK reports a zero exit.
func (r *Result) OK() bool { return r.ExitCode == 0 }

// Run executes the command line with sh -c in dir. A non-zero exit is not an
// error here; callers decide what a red collaborator means. The returned
// error covers only failures to run the command at all.
func Run(ctx context.Context, dir, command string) (*Result, error) {
	if command == "" {
		return nil, fmt.Errorf("toolchain: empty command")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	// Own process group so cancellation takes the whole tree down.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Command:  command,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, fmt.Errorf("toolchain: run %q: %w", command, err)
	}
	return res, nil
}
