package escalation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSameSignatureBlocksOnThirdOccurrence(t *testing.T) {
	tr := NewTracker(3, 3, nil)

	_, blocked := tr.Record("apply_edits", "main.go", "search text not found")
	require.False(t, blocked)

	_, blocked = tr.Record("apply_edits", "main.go", "search text not found")
	require.False(t, blocked)

	b, blocked := tr.Record("apply_edits", "main.go", "search text not found")
	require.True(t, blocked)
	require.Equal(t, 3, b.Count)
	require.Contains(t, b.Question, "apply_edits")
	require.Contains(t, b.Question, "3 times")
}

func TestVolatileErrorPartsCollapseToOneSignature(t *testing.T) {
	tr := NewTracker(3, 3, nil)

	_, blocked := tr.Record("run_command", "", "process exited with code 1 after 312ms")
	require.False(t, blocked)
	_, blocked = tr.Record("run_command", "", "process exited with code 1 after 87ms")
	require.False(t, blocked)
	_, blocked = tr.Record("run_command", "", "Process  exited with code 1 after 9001ms")
	require.True(t, blocked)
}

func TestEquivalentPathSpellingsShareSignatures(t *testing.T) {
	tr := NewTracker(3, 3, nil)

	_, blocked := tr.Record("apply_edits", "pkg/core.go", "no match")
	require.False(t, blocked)
	_, blocked = tr.Record("apply_edits", "./pkg//core.go", "no match")
	require.False(t, blocked)
	_, blocked = tr.Record("apply_edits", "pkg/core.go", "no match")
	require.True(t, blocked)
}

func TestDistinctFailuresOnOneFileBlock(t *testing.T) {
	tr := NewTracker(3, 3, nil)

	_, blocked := tr.Record("apply_edits", "core.go", "no match")
	require.False(t, blocked)
	_, blocked = tr.Record("apply_edits", "core.go", "ambiguous match")
	require.False(t, blocked)

	b, blocked := tr.Record("run_tests", "core.go", "compile error")
	require.True(t, blocked)
	require.Contains(t, b.Question, "core.go")
	require.Contains(t, b.Question, "3 different ways")
}

func TestDistinctFailuresAcrossFilesDoNotBlock(t *testing.T) {
	tr := NewTracker(3, 3, nil)

	_, blocked := tr.Record("apply_edits", "a.go", "no match")
	require.False(t, blocked)
	_, blocked = tr.Record("apply_edits", "b.go", "ambiguous match")
	require.False(t, blocked)
	_, blocked = tr.Record("run_tests", "c.go", "compile error")
	require.False(t, blocked)
}

func TestDifferentErrorsAreDifferentSignatures(t *testing.T) {
	tr := NewTracker(3, 3, nil)

	_, blocked := tr.Record("apply_edits", "", "no match")
	require.False(t, blocked)
	_, blocked = tr.Record("apply_edits", "", "ambiguous match")
	require.False(t, blocked)
	_, blocked = tr.Record("apply_edits", "", "no match")
	require.False(t, blocked)
}

func TestResetClearsHistory(t *testing.T) {
	tr := NewTracker(3, 3, nil)

	tr.Record("run_tests", "x.go", "boom")
	tr.Record("run_tests", "x.go", "boom")
	tr.Reset()

	_, blocked := tr.Record("run_tests", "x.go", "boom")
	require.False(t, blocked)
}
