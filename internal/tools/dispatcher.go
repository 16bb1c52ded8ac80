package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/loopsmith/loopsmith/internal/conversation"
	"github.com/loopsmith/loopsmith/internal/edit"
	"github.com/loopsmith/loopsmith/internal/verify"
)

type readFileArgs struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

type createFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type searchArgs struct {
	Pattern    string `json:"pattern"`
	Path       string `json:"path"`
	MaxResults int    `json:"max_results"`
}

type listDirArgs struct {
	Path string `json:"path"`
}

type runCommandArgs struct {
	Command string `json:"command"`
}

type runTestsArgs struct {
	Target string `json:"target"`
}

// Dispatcher routes model-issued tool invocations to their handlers. Failures
// of any kind come back as error-flagged results, never as panics or Go
// errors; the conversation is the error channel the model can see.
type Dispatcher struct {
	ws     *Workspace
	term   *Terminal
	engine *edit.Engine
	locks  *edit.PathLocks
	gate   verify.Gate
	logger *zap.Logger

	testCommand string
	shared      map[string]struct{}
}

// Option adjusts dispatcher construction.
type Option func(*Dispatcher)

// WithGate installs the post-edit verification hook.
func WithGate(g verify.Gate) Option {
	return func(d *Dispatcher) { d.gate = g }
}

// WithTestCommand overrides the command used by the run_tests tool.
func WithTestCommand(cmd string) Option {
	return func(d *Dispatcher) { d.testCommand = cmd }
}

// WithLocks shares a path lock registry across dispatchers. Runs that touch
// the same files should be handed the same registry.
func WithLocks(locks *edit.PathLocks) Option {
	return func(d *Dispatcher) { d.locks = locks }
}

// WithSharedFiles marks globally scoped files such as go.mod. A turn that
// writes one of them never runs its invocations in parallel.
func WithSharedFiles(paths []string) Option {
	return func(d *Dispatcher) {
		for _, p := range paths {
			d.shared[edit.NormalizePath(p)] = struct{}{}
		}
	}
}

// NewDispatcher builds a dispatcher over the given workspace and terminal.
func NewDispatcher(ws *Workspace, term *Terminal, engine *edit.Engine, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		ws:          ws,
		term:        term,
		engine:      engine,
		locks:       edit.NewPathLocks(),
		gate:        verify.NopGate{},
		logger:      logger,
		testCommand: "go test ./...",
		shared:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes one invocation and returns its result. Context
// cancellation before the handler starts produces an error result so the
// caller can still pair every invocation with a result.
func (d *Dispatcher) Dispatch(ctx context.Context, inv conversation.ToolInvocation) conversation.ToolResult {
	start := time.Now()
	res := d.dispatch(ctx, inv)
	d.logger.Debug("tool dispatched",
		zap.String("tool", inv.Name),
		zap.Bool("error", res.IsError),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, inv conversation.ToolInvocation) conversation.ToolResult {
	if err := ctx.Err(); err != nil {
		return d.errorResult(inv, fmt.Errorf("cancelled before execution: %w", err))
	}

	switch inv.Name {
	case ToolReadFile:
		var args readFileArgs
		if err := decodeArgs(inv.Args, &args); err != nil {
			return d.errorResult(inv, err)
		}
		return d.readFile(inv, args)
	case ToolApplyEdits:
		var args edit.Request
		if err := decodeArgs(inv.Args, &args); err != nil {
			return d.errorResult(inv, err)
		}
		return d.applyEdits(ctx, inv, args)
	case ToolCreateFile:
		var args createFileArgs
		if err := decodeArgs(inv.Args, &args); err != nil {
			return d.errorResult(inv, err)
		}
		return d.createFile(ctx, inv, args)
	case ToolSearch:
		var args searchArgs
		if err := decodeArgs(inv.Args, &args); err != nil {
			return d.errorResult(inv, err)
		}
		return d.search(inv, args)
	case ToolListDir:
		var args listDirArgs
		if err := decodeArgs(inv.Args, &args); err != nil {
			return d.errorResult(inv, err)
		}
		return d.listDir(inv, args)
	case ToolRunCommand:
		var args runCommandArgs
		if err := decodeArgs(inv.Args, &args); err != nil {
			return d.errorResult(inv, err)
		}
		return d.runCommand(ctx, inv, args.Command)
	case ToolRunTests:
		var args runTestsArgs
		if err := decodeArgs(inv.Args, &args); err != nil {
			return d.errorResult(inv, err)
		}
		command := d.testCommand
		if args.Target != "" {
			command += " " + args.Target
		}
		result := d.runCommand(ctx, inv, command)
		if result.IsError {
			if summary := summarizeTestFailures(result.Content); summary != "" {
				result.Content = summary + "\n" + result.Content
			}
		}
		return result
	default:
		return d.errorResult(inv, fmt.Errorf("unknown tool %q", inv.Name))
	}
}

// DispatchAll executes a model turn's invocations and returns results in
// invocation order. Invocations run concurrently only when no two of them can
// write the same file; otherwise execution is strictly sequential.
func (d *Dispatcher) DispatchAll(ctx context.Context, invs []conversation.ToolInvocation) []conversation.ToolResult {
	results := make([]conversation.ToolResult, len(invs))

	if len(invs) > 1 && d.writeSetsDisjoint(invs) {
		g, ctx := errgroup.WithContext(ctx)
		for i, inv := range invs {
			i, inv := i, inv
			g.Go(func() error {
				results[i] = d.Dispatch(ctx, inv)
				return nil
			})
		}
		_ = g.Wait()
		return results
	}

	for i, inv := range invs {
		results[i] = d.Dispatch(ctx, inv)
	}
	return results
}

// writeSetsDisjoint reports whether the invocations can safely run in
// parallel. Command tools may write anywhere, so any command alongside a
// writing tool (or another command) forces sequential execution, as does any
// write to a shared file.
func (d *Dispatcher) writeSetsDisjoint(invs []conversation.ToolInvocation) bool {
	seen := make(map[string]struct{})
	commands := 0
	writers := 0
	for _, inv := range invs {
		switch inv.Name {
		case ToolRunCommand, ToolRunTests:
			commands++
		case ToolApplyEdits, ToolCreateFile:
			writers++
			path := writePath(inv)
			if path == "" {
				return false
			}
			if _, ok := d.shared[path]; ok {
				return false
			}
			if _, dup := seen[path]; dup {
				return false
			}
			seen[path] = struct{}{}
		}
	}
	if commands > 1 {
		return false
	}
	if commands == 1 && writers > 0 {
		return false
	}
	return true
}

func writePath(inv conversation.ToolInvocation) string {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(inv.Args, &args); err != nil {
		return ""
	}
	return edit.NormalizePath(args.Path)
}

func (d *Dispatcher) readFile(inv conversation.ToolInvocation, args readFileArgs) conversation.ToolResult {
	if args.Path == "" {
		return d.errorResult(inv, fmt.Errorf("path is required"))
	}
	content, err := d.ws.ReadFileRange(args.Path, args.StartLine, args.EndLine)
	if err != nil {
		return d.errorResult(inv, err)
	}
	return d.okResult(inv, content)
}

func (d *Dispatcher) applyEdits(ctx context.Context, inv conversation.ToolInvocation, args edit.Request) conversation.ToolResult {
	if args.Path == "" {
		return d.errorResult(inv, fmt.Errorf("path is required"))
	}
	if len(args.Edits) == 0 {
		return d.errorResult(inv, fmt.Errorf("edits are required"))
	}

	release := d.locks.Acquire(args.Path)
	defer release()

	before, err := d.ws.ReadFile(args.Path)
	if err != nil {
		return d.errorResult(inv, err)
	}

	after, outcomes, err := d.engine.Apply(before, args.Edits)
	if err != nil {
		return d.errorResult(inv, fmt.Errorf("%w\n%s", err, describeOutcomes(outcomes)))
	}
	if err := d.ws.WriteFile(args.Path, after); err != nil {
		return d.errorResult(inv, err)
	}

	content := fmt.Sprintf("applied %d edit(s) to %s\n%s", len(args.Edits), args.Path, edit.RenderDiff(args.Path, before, after))
	content = d.appendVerification(ctx, content, args.Path)
	return d.okResult(inv, content)
}

func (d *Dispatcher) createFile(ctx context.Context, inv conversation.ToolInvocation, args createFileArgs) conversation.ToolResult {
	if args.Path == "" {
		return d.errorResult(inv, fmt.Errorf("path is required"))
	}

	release := d.locks.Acquire(args.Path)
	defer release()

	if err := d.ws.CreateFile(args.Path, args.Content); err != nil {
		return d.errorResult(inv, err)
	}
	content := fmt.Sprintf("created %s (%d bytes)", args.Path, len(args.Content))
	content = d.appendVerification(ctx, content, args.Path)
	return d.okResult(inv, content)
}

func (d *Dispatcher) search(inv conversation.ToolInvocation, args searchArgs) conversation.ToolResult {
	matches, err := d.ws.Search(args.Path, args.Pattern, args.MaxResults)
	if err != nil {
		return d.errorResult(inv, err)
	}
	if len(matches) == 0 {
		return d.okResult(inv, fmt.Sprintf("no matches for %q", args.Pattern))
	}
	var b strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&b, "%s:%d: %s\n", m.Path, m.Line, m.Snippet)
	}
	return d.okResult(inv, strings.TrimSuffix(b.String(), "\n"))
}

func (d *Dispatcher) listDir(inv conversation.ToolInvocation, args listDirArgs) conversation.ToolResult {
	if args.Path == "" {
		args.Path = "."
	}
	entries, err := d.ws.ListDir(args.Path)
	if err != nil {
		return d.errorResult(inv, err)
	}
	if len(entries) == 0 {
		return d.okResult(inv, "(empty directory)")
	}
	return d.okResult(inv, strings.Join(entries, "\n"))
}

func (d *Dispatcher) runCommand(ctx context.Context, inv conversation.ToolInvocation, command string) conversation.ToolResult {
	res, err := d.term.Exec(ctx, command)
	if err != nil {
		return d.errorResult(inv, err)
	}
	if res.TimedOut {
		return d.errorResult(inv, fmt.Errorf("command timed out\n%s", res.Output))
	}
	if res.ExitCode != 0 {
		return d.errorResult(inv, fmt.Errorf("exit code %d\n%s", res.ExitCode, res.Output))
	}
	out := res.Output
	if strings.TrimSpace(out) == "" {
		out = "(no output)"
	}
	return d.okResult(inv, out)
}

// appendVerification runs the per-file verification hook after a successful
// write and folds any findings into the result content so the model sees them
// in the same turn.
func (d *Dispatcher) appendVerification(ctx context.Context, content, path string) string {
	res, err := d.gate.CheckFile(ctx, path)
	if err != nil {
		return content + "\n\nverification could not run: " + err.Error()
	}
	if res.Passed {
		return content
	}
	return content + "\n\nverification findings:\n" + res.Diagnostics
}

func describeOutcomes(outcomes []edit.MatchOutcome) string {
	var b strings.Builder
	for i, o := range outcomes {
		if o.Err == nil {
			fmt.Fprintf(&b, "edit %d: matched (%s)\n", i+1, o.Level)
			continue
		}
		fmt.Fprintf(&b, "edit %d: %v\n", i+1, o.Err)
		if len(o.Nearest) > 0 {
			fmt.Fprintf(&b, "nearest candidate lines:\n%s\n", strings.Join(o.Nearest, "\n"))
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func decodeArgs(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing arguments")
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func (d *Dispatcher) okResult(inv conversation.ToolInvocation, content string) conversation.ToolResult {
	return conversation.ToolResult{
		InvocationID: inv.ID,
		Tool:         inv.Name,
		Content:      content,
	}
}

func (d *Dispatcher) errorResult(inv conversation.ToolInvocation, err error) conversation.ToolResult {
	return conversation.ToolResult{
		InvocationID: inv.ID,
		Tool:         inv.Name,
		Content:      err.Error(),
		IsError:      true,
	}
}
