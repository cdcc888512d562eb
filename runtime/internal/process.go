package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alessio/shellescape"
	"github.com/gammadia/tune/runtime"
	"github.com/gammadia/tune/trial"
)

// DefaultKillDelay is how long a cancelled trainable has to exit after
// SIGTERM before it is killed.
const DefaultKillDelay = 10 * time.Second

// ProcessExecutor runs trainables as child processes.
type ProcessExecutor struct {
	log          *slog.Logger
	trainableDir string
	killDelay    time.Duration
}

// ProcessExecutor implements runtime.Executor
var _ runtime.Executor = (*ProcessExecutor)(nil)

func NewProcessExecutor(trainableDir string, logger *slog.Logger) *ProcessExecutor {
	return &ProcessExecutor{
		log:          logger,
		trainableDir: trainableDir,
		killDelay:    DefaultKillDelay,
	}
}

// Resolve finds the executable of a trainable, in the trainable directory
// first and then in PATH.
func (e *ProcessExecutor) Resolve(run string) (string, error) {
	if e.trainableDir != "" && filepath.Base(run) == run {
		candidate := filepath.Join(e.trainableDir, run)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	path, err := exec.LookPath(run)
	if err != nil {
		return "", fmt.Errorf("trainable '%s' not found: %w", run, err)
	}
	return path, nil
}

func (e *ProcessExecutor) Execute(ctx context.Context, req trial.Request, report func(trial.Result)) error {
	path, err := e.Resolve(req.Run)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(req.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create trial directory: %w", err)
	}
	env, err := Env(req, req.Dir)
	if err != nil {
		return err
	}

	stdoutLog, err := os.Create(filepath.Join(req.Dir, StdoutLog))
	if err != nil {
		return fmt.Errorf("failed to create stdout log: %w", err)
	}
	defer stdoutLog.Close()
	stderrLog, err := os.Create(filepath.Join(req.Dir, StderrLog))
	if err != nil {
		return fmt.Errorf("failed to create stderr log: %w", err)
	}
	defer stderrLog.Close()

	cmd := exec.CommandContext(ctx, path)
	cmd.Dir = req.Dir
	cmd.Env = append(os.Environ(), env...)
	cmd.Stderr = stderrLog
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = e.killDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open trainable stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start trainable: %w", err)
	}
	e.log.Debug("Trainable started", "trial", req.Name, "cmd", shellescape.QuoteCommand([]string{path}), "pid", cmd.Process.Pid)

	if err := ScanResults(stdout, report, stdoutLog); err != nil {
		e.log.Error("Failed to scan trainable output", "trial", req.Name, "error", err)
		_, _ = io.Copy(io.Discard, stdout)
	}

	err = cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &runtime.ExitError{Code: exitErr.ExitCode()}
	}
	if err != nil {
		return fmt.Errorf("failed to wait for trainable: %w", err)
	}
	return nil
}
