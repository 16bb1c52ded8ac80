package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Result is the outcome of one verification check. Diagnostics carries the
// raw checker output when the check fails, trimmed for conversation use.
type Result struct {
	Passed      bool
	Diagnostics string
}

// Gate decides whether work is acceptable. CheckFile is invoked after a file
// is created or edited; CheckWorkspace is invoked before a run is allowed to
// complete.
type Gate interface {
	CheckFile(ctx context.Context, path string) (Result, error)
	CheckWorkspace(ctx context.Context) (Result, error)
}

// NopGate accepts everything. Used when no verification commands are
// configured.
type NopGate struct{}

func (NopGate) CheckFile(context.Context, string) (Result, error) {
	return Result{Passed: true}, nil
}

func (NopGate) CheckWorkspace(context.Context) (Result, error) {
	return Result{Passed: true}, nil
}

// CommandGate runs configured shell commands as the verification step. The
// file command may contain a {} placeholder which is replaced with the path
// under check. A command exiting non-zero means the check failed; its output
// becomes the diagnostics. Only errors starting the process are returned as
// errors.
type CommandGate struct {
	FileCommand      string
	WorkspaceCommand string
	WorkDir          string
	Timeout          time.Duration
	Logger           *zap.Logger
}

// NewCommandGate builds a gate over the given commands. Empty commands make
// the corresponding check a no-op pass.
func NewCommandGate(fileCmd, workspaceCmd, workDir string, timeout time.Duration, logger *zap.Logger) *CommandGate {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandGate{
		FileCommand:      fileCmd,
		WorkspaceCommand: workspaceCmd,
		WorkDir:          workDir,
		Timeout:          timeout,
		Logger:           logger,
	}
}

func (g *CommandGate) CheckFile(ctx context.Context, path string) (Result, error) {
	if g.FileCommand == "" {
		return Result{Passed: true}, nil
	}
	command := strings.ReplaceAll(g.FileCommand, "{}", path)
	return g.run(ctx, command)
}

func (g *CommandGate) CheckWorkspace(ctx context.Context) (Result, error) {
	if g.WorkspaceCommand == "" {
		return Result{Passed: true}, nil
	}
	return g.run(ctx, g.WorkspaceCommand)
}

const diagnosticLimit = 8192

func (g *CommandGate) run(ctx context.Context, command string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = g.WorkDir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err == nil {
		g.Logger.Debug("verification passed",
			zap.String("command", command),
			zap.Duration("elapsed", elapsed),
		)
		return Result{Passed: true}, nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return Result{
			Passed:      false,
			Diagnostics: fmt.Sprintf("verification timed out after %s", g.Timeout),
		}, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return Result{}, fmt.Errorf("run verification command: %w", err)
	}

	diag := strings.TrimSpace(output.String())
	if len(diag) > diagnosticLimit {
		diag = diag[:diagnosticLimit] + "\n[truncated]"
	}
	g.Logger.Debug("verification failed",
		zap.String("command", command),
		zap.Int("exit_code", exitErr.ExitCode()),
		zap.Duration("elapsed", elapsed),
	)
	return Result{Passed: false, Diagnostics: diag}, nil
}
