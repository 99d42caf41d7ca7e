package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ScriptRunner runs operator-supplied shell scripts through an Executor.
// The script body is handed to the shell verbatim; the child inherits the
// process environment.
type ScriptRunner struct {
	exec   Executor
	logger *slog.Logger
}

func NewScriptRunner(exec Executor, logger *slog.Logger) *ScriptRunner {
	return &ScriptRunner{
		exec:   exec,
		logger: logger.With(slog.String("component", "script-runner")),
	}
}

// Run executes script under the given timeout. The shell is killed when the
// deadline passes and the failure is surfaced as a timeout error.
func (r *ScriptRunner) Run(ctx context.Context, script []byte, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := RunAndCapture(ctx, r.exec, "/bin/sh", "-c", string(script))

	if result.Stdout != "" {
		r.logger.Info("script stdout", slog.String("output", result.Stdout))
	}
	if result.Stderr != "" {
		r.logger.Info("script stderr", slog.String("output", result.Stderr))
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return result, fmt.Errorf("script timed out after %s", timeout)
	}

	if err != nil {
		return result, fmt.Errorf("script failed: %w", err)
	}

	return result, nil
}
