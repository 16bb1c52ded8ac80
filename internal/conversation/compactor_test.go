package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var durableForTest = map[string]bool{
	"apply_edits": true,
	"create_file": true,
	"run_command": true,
	"run_tests":   true,
}

func invocation(id, tool, path string) ToolInvocation {
	args, _ := json.Marshal(map[string]string{"path": path})
	return ToolInvocation{ID: id, Name: tool, Args: args}
}

// seedConversation builds a transcript of n invocation/result pairs, one pair
// per model/observation turn couple.
func seedConversation(n int, tool string, resultSize int) *Conversation {
	conv := New()
	conv.AppendUser("Fix the flaky retry logic in the downloader")
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("call_%d", i)
		conv.AppendModel(fmt.Sprintf("step %d", i), []ToolInvocation{invocation(id, tool, fmt.Sprintf("file_%d.go", i))})
		conv.AppendObservation([]ToolResult{{
			InvocationID: id,
			Tool:         tool,
			Content:      strings.Repeat("x", resultSize),
		}})
	}
	return conv
}

func pairCount(conv *Conversation) int {
	n := 0
	for _, t := range conv.Turns() {
		if t.Kind == TurnObservation {
			n += len(t.Results)
		}
	}
	return n
}

func TestCompactorNoopUnderBudget(t *testing.T) {
	conv := seedConversation(3, "read_file", 100)
	c := NewCompactor(100000, 0.85, 5, durableForTest, nil)

	report := c.Compact(conv)
	require.False(t, report.Ran)
	require.Equal(t, report.TokensBefore, report.TokensAfter)
	require.Equal(t, 3, pairCount(conv))
}

func TestCompactorSummarizesVerboseResultsFirst(t *testing.T) {
	conv := seedConversation(10, "read_file", 4000)
	c := NewCompactor(6000, 0.85, 2, durableForTest, nil)

	report := c.Compact(conv)
	require.True(t, report.Ran)
	require.Less(t, report.TokensAfter, report.TokensBefore)
	require.Equal(t, "summarize", report.TiersApplied[0])

	// Compacted results carry an elision marker; protected tail does not.
	turns := conv.Turns()
	var sawMarker bool
	for _, turn := range turns[:len(turns)-4] {
		for _, r := range turn.Results {
			if strings.Contains(r.Content, "[compacted:") {
				sawMarker = true
			}
		}
	}
	require.True(t, sawMarker)
}

func TestCompactorNeverTouchesRecentPairs(t *testing.T) {
	conv := seedConversation(20, "read_file", 5000)
	c := NewCompactor(1000, 0.85, 5, durableForTest, nil)

	report := c.Compact(conv)
	require.True(t, report.Ran)

	// The 5 most recent pairs must survive intact no matter how far over
	// budget the conversation is.
	turns := conv.Turns()
	recent := 0
	for i := len(turns) - 1; i >= 0 && recent < 5; i-- {
		if turns[i].Kind != TurnObservation {
			continue
		}
		for _, r := range turns[i].Results {
			require.NotContains(t, r.Content, "[compacted:")
			require.Len(t, r.Content, 5000)
			recent++
		}
	}
	require.Equal(t, 5, recent)
}

func TestCompactorDropsEphemeralPairsKeepsDurable(t *testing.T) {
	conv := New()
	conv.AppendUser("task")
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("r_%d", i)
		conv.AppendModel("", []ToolInvocation{invocation(id, "read_file", "a.go")})
		conv.AppendObservation([]ToolResult{{InvocationID: id, Tool: "read_file", Content: strings.Repeat("y", 500)}})
	}
	conv.AppendModel("", []ToolInvocation{invocation("e_1", "apply_edits", "a.go")})
	conv.AppendObservation([]ToolResult{{InvocationID: "e_1", Tool: "apply_edits", Content: strings.Repeat("d", 500)}})

	// Tight enough that tier one alone cannot recover (results are under the
	// verbose threshold), forcing tier two.
	c := NewCompactor(700, 0.85, 1, durableForTest, nil)
	report := c.Compact(conv)
	require.True(t, report.Ran)
	require.Contains(t, report.TiersApplied, "drop")

	// The durable edit pair survives in some form; dropped reads leave notes.
	var haveEdit, haveNotes bool
	for _, turn := range conv.Turns() {
		for _, r := range turn.Results {
			if r.Tool == "apply_edits" {
				haveEdit = true
			}
		}
		if len(turn.CompactedNotes) > 0 {
			haveNotes = true
		}
	}
	require.True(t, haveEdit)
	require.True(t, haveNotes)
}

func TestCompactorPreservesErrorResults(t *testing.T) {
	conv := New()
	conv.AppendUser("task")
	conv.AppendModel("", []ToolInvocation{invocation("err_1", "read_file", "gone.go")})
	conv.AppendObservation([]ToolResult{{InvocationID: "err_1", Tool: "read_file", Content: "open gone.go: no such file", IsError: true}})
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("r_%d", i)
		conv.AppendModel("", []ToolInvocation{invocation(id, "read_file", "a.go")})
		conv.AppendObservation([]ToolResult{{InvocationID: id, Tool: "read_file", Content: strings.Repeat("y", 2000)}})
	}

	c := NewCompactor(1500, 0.85, 2, durableForTest, nil)
	c.Compact(conv)

	// The error either survives as a result or inside the summary turn.
	var found bool
	for _, turn := range conv.Turns() {
		if strings.Contains(turn.Text, "no such file") {
			found = true
		}
		for _, r := range turn.Results {
			if r.IsError && strings.Contains(r.Content, "no such file") {
				found = true
			}
		}
	}
	require.True(t, found, "unresolved error must survive compaction")
}

func TestCompactorCollapseCarriesModifiedPaths(t *testing.T) {
	conv := New()
	conv.AppendUser("task")
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("e_%d", i)
		conv.AppendModel(fmt.Sprintf("editing file_%d", i), []ToolInvocation{invocation(id, "apply_edits", fmt.Sprintf("file_%d.go", i))})
		conv.AppendObservation([]ToolResult{{InvocationID: id, Tool: "apply_edits", Content: strings.Repeat("z", 3000)}})
	}

	c := NewCompactor(800, 0.85, 2, durableForTest, nil)
	report := c.Compact(conv)
	require.True(t, report.Ran)
	require.Contains(t, report.TiersApplied, "collapse")

	turns := conv.Turns()
	require.Equal(t, TurnUser, turns[0].Kind, "task statement survives collapse")
	require.Equal(t, TurnSummary, turns[1].Kind)
	require.Contains(t, turns[1].Text, "file_0.go")

	// Protected tail still present after the summary.
	require.Equal(t, 2, pairCount(conv))
}
