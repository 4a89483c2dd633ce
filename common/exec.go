package common

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// Runner runs an external command and returns its stdout. A non-zero exit is
// returned as *CommandError.
type Runner interface {
	Run(ctx context.Context, desc string, args ...string) (string, error)
}

type ExecRunner struct{}

var _ Runner = ExecRunner{}

func (ExecRunner) Run(ctx context.Context, desc string, args ...string) (string, error) {
	if len(args) == 0 {
		return "", &CommandError{Desc: desc, Err: errors.New("no command provided")}
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	if err := cmd.Run(); err != nil {
		ce := &CommandError{
			Desc:     desc,
			Args:     args,
			ExitCode: -1,
			Stderr:   strings.TrimSpace(stderrBuf.String()),
			Stdout:   strings.TrimSpace(stdoutBuf.String()),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			ce.ExitCode = exitErr.ExitCode()
		}
		return "", ce
	}
	return stdoutBuf.String(), nil
}

// CommandStderr returns the captured stderr of a *CommandError, or "".
func CommandStderr(err error) string {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Stderr
	}
	return ""
}
