package runtime

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

func init() {
	Register(Meta{
		Name:          "sh",
		ScriptExt:     ".sh",
		CommentPrefix: "#",
		New:           newShellRuntime,
	})
}

// shellRuntime runs each cell as its own /bin/sh process inside a shared
// scratch directory. Shell variables do not carry across cells; files in the
// scratch directory do, which is the state shell examples actually rely on.
type shellRuntime struct {
	workDir string
}

func newShellRuntime() (Runtime, error) {
	dir, err := os.MkdirTemp("", "pairtext-sh-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &shellRuntime{workDir: dir}, nil
}

func (rt *shellRuntime) Name() string { return "sh" }

func (rt *shellRuntime) Eval(ctx context.Context, source string) (Result, error) {
	cmd := exec.CommandContext(ctx, "sh", "-e", "-c", source)
	cmd.Dir = rt.workDir
	// Own process group so cancellation kills the whole tree, not just sh.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return res, fmt.Errorf("exit status %d", exitErr.ExitCode())
		}
		return res, err
	}
	return res, nil
}

func (rt *shellRuntime) Close() error {
	return os.RemoveAll(rt.workDir)
}
