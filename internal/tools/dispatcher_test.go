package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/loopsmith/loopsmith/internal/conversation"
	"github.com/loopsmith/loopsmith/internal/edit"
	"github.com/loopsmith/loopsmith/internal/verify"
)

type findingsGate struct {
	diagnostics string
}

func (g findingsGate) CheckFile(context.Context, string) (verify.Result, error) {
	if g.diagnostics == "" {
		return verify.Result{Passed: true}, nil
	}
	return verify.Result{Passed: false, Diagnostics: g.diagnostics}, nil
}

func (g findingsGate) CheckWorkspace(context.Context) (verify.Result, error) {
	return verify.Result{Passed: true}, nil
}

func newTestDispatcher(t *testing.T, opts ...Option) (*Dispatcher, *Workspace) {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir())
	requireNoError(t, err)
	term := &Terminal{WorkingDir: ws.Root(), Timeout: 5 * time.Second}
	return NewDispatcher(ws, term, edit.NewEngine(0.85), nil, opts...), ws
}

func invocation(id, name, args string) conversation.ToolInvocation {
	return conversation.ToolInvocation{ID: id, Name: name, Args: json.RawMessage(args)}
}

func TestDispatchReadFile(t *testing.T) {
	d, ws := newTestDispatcher(t)
	requireNoError(t, ws.WriteFile("main.go", "package main\n\nfunc main() {}\n"))

	res := d.Dispatch(context.Background(), invocation("1", ToolReadFile, `{"path":"main.go"}`))
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if !strings.Contains(res.Content, "1: package main") {
		t.Fatalf("expected numbered lines, got %q", res.Content)
	}
	if res.InvocationID != "1" || res.Tool != ToolReadFile {
		t.Fatalf("result not correlated: %+v", res)
	}
}

func TestDispatchApplyEditsWritesAndDiffs(t *testing.T) {
	d, ws := newTestDispatcher(t)
	requireNoError(t, ws.WriteFile("main.go", "x := 1\ny := 2\n"))

	res := d.Dispatch(context.Background(), invocation("1", ToolApplyEdits,
		`{"path":"main.go","edits":[{"search":"x := 1","replace":"x := 10"}]}`))
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	if !strings.Contains(res.Content, "- x := 1") || !strings.Contains(res.Content, "+ x := 10") {
		t.Fatalf("expected diff in result: %q", res.Content)
	}

	content, err := ws.ReadFile("main.go")
	requireNoError(t, err)
	if content != "x := 10\ny := 2\n" {
		t.Fatalf("file not updated: %q", content)
	}
}

func TestDispatchApplyEditsNoMatchLeavesFileUntouched(t *testing.T) {
	d, ws := newTestDispatcher(t)
	requireNoError(t, ws.WriteFile("main.go", "x := 1\n"))

	res := d.Dispatch(context.Background(), invocation("1", ToolApplyEdits,
		`{"path":"main.go","edits":[{"search":"does not exist","replace":"z"}]}`))
	if !res.IsError {
		t.Fatalf("expected error result")
	}
	if !strings.Contains(res.Content, "nearest candidate lines") {
		t.Fatalf("expected diagnostics, got %q", res.Content)
	}

	content, err := ws.ReadFile("main.go")
	requireNoError(t, err)
	if content != "x := 1\n" {
		t.Fatalf("file modified on failure: %q", content)
	}
}

func TestDispatchAppendsVerificationFindings(t *testing.T) {
	d, _ := newTestDispatcher(t, WithGate(findingsGate{diagnostics: "main.go:1: unused variable"}))

	res := d.Dispatch(context.Background(), invocation("1", ToolCreateFile,
		`{"path":"main.go","content":"package main\n"}`))
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	if !strings.Contains(res.Content, "created main.go") {
		t.Fatalf("missing creation note: %q", res.Content)
	}
	if !strings.Contains(res.Content, "unused variable") {
		t.Fatalf("verification findings not appended: %q", res.Content)
	}
}

func TestDispatchInvalidArgumentsIsErrorResult(t *testing.T) {
	d, _ := newTestDispatcher(t)

	res := d.Dispatch(context.Background(), invocation("1", ToolReadFile, `{"path":42}`))
	if !res.IsError {
		t.Fatalf("expected error result for bad args")
	}

	res = d.Dispatch(context.Background(), invocation("2", "delete_everything", `{}`))
	if !res.IsError || !strings.Contains(res.Content, "unknown tool") {
		t.Fatalf("expected unknown tool error, got %+v", res)
	}
}

func TestDispatchDeniedCommandIsErrorResultNotFatal(t *testing.T) {
	d, _ := newTestDispatcher(t)

	res := d.Dispatch(context.Background(), invocation("1", ToolRunCommand,
		`{"command":"rm -rf / --no-preserve-root"}`))
	if !res.IsError {
		t.Fatalf("expected error result")
	}
	if !strings.Contains(res.Content, "blocked") {
		t.Fatalf("expected block message, got %q", res.Content)
	}
}

func TestDispatchRunTestsUsesConfiguredCommand(t *testing.T) {
	d, _ := newTestDispatcher(t, WithTestCommand("echo TESTRUN"))

	res := d.Dispatch(context.Background(), invocation("1", ToolRunTests, `{"target":"./pkg"}`))
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	if !strings.Contains(res.Content, "TESTRUN ./pkg") {
		t.Fatalf("target not appended: %q", res.Content)
	}
}

func TestDispatchAllPreservesInvocationOrder(t *testing.T) {
	d, ws := newTestDispatcher(t)
	requireNoError(t, ws.WriteFile("a.txt", "alpha\n"))
	requireNoError(t, ws.WriteFile("b.txt", "beta\n"))

	results := d.DispatchAll(context.Background(), []conversation.ToolInvocation{
		invocation("1", ToolReadFile, `{"path":"a.txt"}`),
		invocation("2", ToolReadFile, `{"path":"b.txt"}`),
		invocation("3", ToolListDir, `{"path":"."}`),
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].InvocationID != "1" || results[1].InvocationID != "2" || results[2].InvocationID != "3" {
		t.Fatalf("results out of order: %+v", results)
	}
	if !strings.Contains(results[0].Content, "alpha") || !strings.Contains(results[1].Content, "beta") {
		t.Fatalf("wrong contents: %+v", results)
	}
}

func TestDispatchAllSameFileWritesApplyInOrder(t *testing.T) {
	d, ws := newTestDispatcher(t)
	requireNoError(t, ws.WriteFile("f.txt", "v0\n"))

	results := d.DispatchAll(context.Background(), []conversation.ToolInvocation{
		invocation("1", ToolApplyEdits, `{"path":"f.txt","edits":[{"search":"v0","replace":"v1"}]}`),
		invocation("2", ToolApplyEdits, `{"path":"f.txt","edits":[{"search":"v1","replace":"v2"}]}`),
	})
	for _, res := range results {
		if res.IsError {
			t.Fatalf("unexpected error: %s", res.Content)
		}
	}

	content, err := ws.ReadFile("f.txt")
	requireNoError(t, err)
	if content != "v2\n" {
		t.Fatalf("edits not sequential: %q", content)
	}
}

func TestSharedFileWriteForcesSequentialTurn(t *testing.T) {
	d, _ := newTestDispatcher(t, WithSharedFiles([]string{"go.mod"}))

	invs := []conversation.ToolInvocation{
		invocation("1", ToolCreateFile, `{"path":"./go.mod","content":"module x\n"}`),
		invocation("2", ToolCreateFile, `{"path":"other.txt","content":"y\n"}`),
	}
	if d.writeSetsDisjoint(invs) {
		t.Fatalf("writes touching a shared file must not run in parallel")
	}

	results := d.DispatchAll(context.Background(), invs)
	for _, res := range results {
		if res.IsError {
			t.Fatalf("unexpected error: %s", res.Content)
		}
	}
}

func TestDisjointWritesWithoutSharedFilesRunInParallel(t *testing.T) {
	d, _ := newTestDispatcher(t)

	invs := []conversation.ToolInvocation{
		invocation("1", ToolCreateFile, `{"path":"a.txt","content":"a"}`),
		invocation("2", ToolCreateFile, `{"path":"b.txt","content":"b"}`),
	}
	if !d.writeSetsDisjoint(invs) {
		t.Fatalf("disjoint writes should be eligible for parallel dispatch")
	}
}
