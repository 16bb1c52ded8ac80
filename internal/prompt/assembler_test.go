package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAssembleLayersInOrder(t *testing.T) {
	p, err := Assemble(Inputs{
		WorkspaceConventions: "Use tabs.",
		TaskTitle:            "Fix the parser",
		TaskBody:             "It rejects empty input.",
	})
	require.NoError(t, err)

	require.Contains(t, p.Instructions, "autonomous coding agent")
	require.Contains(t, p.Instructions, "Use tabs.")
	require.Less(t,
		strings.Index(p.Instructions, "autonomous coding agent"),
		strings.Index(p.Instructions, "Use tabs."),
	)
	require.Equal(t, "Task: Fix the parser\n\nIt rejects empty input.", p.InitialTurn)
}

func TestAssembleWithoutConventions(t *testing.T) {
	p, err := Assemble(Inputs{TaskTitle: "t", TaskBody: "b"})
	require.NoError(t, err)
	require.NotContains(t, p.Instructions, "Workspace conventions")
}

func TestAssembleValidatesInputs(t *testing.T) {
	_, err := Assemble(Inputs{TaskBody: "b"})
	require.Error(t, err)

	_, err = Assemble(Inputs{TaskTitle: "t", TaskBody: "   "})
	require.Error(t, err)
}

func TestAssembleIsDeterministic(t *testing.T) {
	in := Inputs{TaskTitle: "t", TaskBody: "b", WorkspaceConventions: "c"}
	first, err := Assemble(in)
	require.NoError(t, err)
	second, err := Assemble(in)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestLoadConventions(t *testing.T) {
	dir := t.TempDir()

	conventions, err := LoadConventions(dir)
	require.NoError(t, err)
	require.Empty(t, conventions)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("Use tabs."), 0o644))
	conventions, err = LoadConventions(dir)
	require.NoError(t, err)
	require.Equal(t, "Use tabs.", conventions)
}
