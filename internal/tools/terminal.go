package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Terminal executes shell commands inside the workspace with a destructive
// pattern deny list, a timeout, and an output budget.
type Terminal struct {
	WorkingDir  string
	Denied      []string
	Timeout     time.Duration
	OutputLimit int
}

// DefaultDeniedPatterns blocks commands that destroy state outside the scope
// of a coding task. Matching is case-insensitive substring.
var DefaultDeniedPatterns = []string{
	"rm -rf /",
	"rm -rf ~",
	"rm -rf *",
	"git push --force",
	"git reset --hard",
	"dd if=",
	"mkfs",
	"shutdown",
	"reboot",
	"> /dev/",
	"chmod -r 777 /",
}

// ExecResult carries output and status of one command run.
type ExecResult struct {
	Output   string
	ExitCode int
	TimedOut bool
}

// Exec runs command via the shell. A denied pattern or an empty command is an
// error before anything is started; a non-zero exit is reported in the result,
// not as an error.
func (t *Terminal) Exec(ctx context.Context, command string) (ExecResult, error) {
	if strings.TrimSpace(command) == "" {
		return ExecResult{}, fmt.Errorf("command is required")
	}
	if pattern, denied := t.deniedBy(command); denied {
		return ExecResult{}, fmt.Errorf("command blocked: matches denied pattern %q", pattern)
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.WorkingDir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()

	res := ExecResult{
		Output:   t.truncate(output.String()),
		TimedOut: ctx.Err() == context.DeadlineExceeded,
	}
	switch {
	case err == nil:
		res.ExitCode = 0
	case res.TimedOut:
		res.ExitCode = -1
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			return res, fmt.Errorf("start command: %w", err)
		}
	}
	return res, nil
}

func (t *Terminal) deniedBy(command string) (string, bool) {
	lower := strings.ToLower(command)
	patterns := t.Denied
	if len(patterns) == 0 {
		patterns = DefaultDeniedPatterns
	}
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}

func (t *Terminal) truncate(out string) string {
	limit := t.OutputLimit
	if limit <= 0 {
		limit = 16384
	}
	if len(out) <= limit {
		return out
	}
	return out[:limit] + fmt.Sprintf("\n[output truncated at %d characters]", limit)
}
