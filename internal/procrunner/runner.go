package procrunner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"time"

	engerrors "migration-guard/internal/errors"
	"migration-guard/internal/logging"
)

// CommandSpec describes one external tool invocation
type CommandSpec struct {
	Command string
	Args    []string
	Env     []string
	Stdin   io.Reader
	Timeout time.Duration
}

// Result holds the captured outcome of an external tool invocation
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// ProcessRunner executes external commands with bounded timeouts and
// captured output. The engine never shells out directly; everything goes
// through this interface so tests can run without real tools.
type ProcessRunner interface {
	Run(ctx context.Context, spec CommandSpec) (*Result, error)
}

type execRunner struct {
	logger *logging.Logger
}

// NewRunner creates a ProcessRunner backed by os/exec
func NewRunner(logger *logging.Logger) ProcessRunner {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &execRunner{logger: logger}
}

// Run executes the command, enforcing the spec timeout. A timeout surfaces
// as a recoverable tool_timeout error; a non-zero exit as tool_error with
// captured stderr attached. The Result is returned alongside the error
// whenever the process actually started, for forensic logging.
func (r *execRunner) Run(ctx context.Context, spec CommandSpec) (*Result, error) {
	if spec.Command == "" {
		return nil, engerrors.NewValidationError("command is required", nil)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, spec.Command, spec.Args...)
	if len(spec.Env) > 0 {
		cmd.Env = spec.Env
	}
	if spec.Stdin != nil {
		cmd.Stdin = spec.Stdin
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			result.ExitCode = -1
			r.logger.LogExternalCommand(spec.Command, spec.Args, -1, duration, runCtx.Err())
			return result, engerrors.NewToolTimeout(
				spec.Command+" exceeded its timeout", runCtx.Err()).
				WithContext("timeout", spec.Timeout.String())
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			r.logger.LogExternalCommand(spec.Command, spec.Args, result.ExitCode, duration, err)
			return result, engerrors.NewToolError(
				spec.Command+" exited non-zero", err).
				WithContext("exit_code", result.ExitCode).
				WithContext("stderr", truncate(result.Stderr, 500))
		}

		result.ExitCode = -1
		r.logger.LogExternalCommand(spec.Command, spec.Args, -1, duration, err)
		return result, engerrors.NewToolError(
			"failed to start "+spec.Command, err)
	}

	result.ExitCode = 0
	r.logger.LogExternalCommand(spec.Command, spec.Args, 0, duration, nil)
	return result, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
