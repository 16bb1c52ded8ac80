package conversation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loopsmith/loopsmith/internal/llm"
)

// TurnKind discriminates conversation turns.
type TurnKind string

const (
	// TurnUser is instruction text: the initial task or synthetic feedback
	// (verification failures fed back for self-correction).
	TurnUser TurnKind = "user"
	// TurnModel is a model response: text plus zero or more tool invocations.
	TurnModel TurnKind = "model"
	// TurnObservation carries tool results keyed by invocation id.
	TurnObservation TurnKind = "observation"
	// TurnSummary replaces a compacted range of older turns.
	TurnSummary TurnKind = "summary"
)

// ToolInvocation is a model-issued request to perform one concrete action.
// Invocations are only ever constructed from model output, never synthesized
// by the runtime.
type ToolInvocation struct {
	ID   string
	Name string
	Args json.RawMessage
}

// ToolResult is the outcome of dispatching one invocation.
type ToolResult struct {
	InvocationID string
	Tool         string
	Content      string
	IsError      bool
}

// Turn is one entry in the conversation transcript.
type Turn struct {
	Kind        TurnKind
	Text        string
	Invocations []ToolInvocation
	Results     []ToolResult

	// CompactedNotes records what the compactor removed from this turn, so the
	// transcript stays honest about elided content.
	CompactedNotes []string
}

// Conversation is the ordered transcript for a single run. It grows
// monotonically and is owned by exactly one loop controller; it is not safe
// for concurrent use.
type Conversation struct {
	turns []Turn
}

// New returns an empty conversation.
func New() *Conversation {
	return &Conversation{}
}

// AppendUser adds an instruction turn.
func (c *Conversation) AppendUser(text string) {
	c.turns = append(c.turns, Turn{Kind: TurnUser, Text: text})
}

// AppendModel adds a model turn.
func (c *Conversation) AppendModel(text string, invocations []ToolInvocation) {
	c.turns = append(c.turns, Turn{Kind: TurnModel, Text: text, Invocations: invocations})
}

// AppendObservation adds the tool results for the preceding model turn.
func (c *Conversation) AppendObservation(results []ToolResult) {
	c.turns = append(c.turns, Turn{Kind: TurnObservation, Results: results})
}

// Turns returns the transcript slice. Callers must not mutate it.
func (c *Conversation) Turns() []Turn {
	return c.turns
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	return len(c.turns)
}

// ReplaceRange substitutes turns[from:to] with a single summary turn. This is
// how compaction shrinks history: replacement, never silent deletion.
func (c *Conversation) ReplaceRange(from, to int, summary Turn) error {
	if from < 0 || to > len(c.turns) || from >= to {
		return fmt.Errorf("invalid range [%d,%d) for %d turns", from, to, len(c.turns))
	}
	replaced := make([]Turn, 0, len(c.turns)-(to-from)+1)
	replaced = append(replaced, c.turns[:from]...)
	replaced = append(replaced, summary)
	replaced = append(replaced, c.turns[to:]...)
	c.turns = replaced
	return nil
}

// Messages renders the transcript as chat messages for the model backend.
func (c *Conversation) Messages() []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(c.turns))
	for _, t := range c.turns {
		switch t.Kind {
		case TurnUser:
			out = append(out, llm.ChatMessage{Role: llm.RoleUser, Content: t.Text})
		case TurnModel:
			msg := llm.ChatMessage{Role: llm.RoleAssistant, Content: t.Text}
			for _, inv := range t.Invocations {
				msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
					ID:        inv.ID,
					Name:      inv.Name,
					Arguments: inv.Args,
				})
			}
			out = append(out, msg)
		case TurnObservation:
			for _, r := range t.Results {
				out = append(out, llm.ChatMessage{
					Role:       llm.RoleTool,
					Content:    r.Content,
					ToolCallID: r.InvocationID,
				})
			}
			if len(t.CompactedNotes) > 0 && len(t.Results) == 0 {
				out = append(out, llm.ChatMessage{
					Role:    llm.RoleUser,
					Content: "[elided tool results: " + strings.Join(t.CompactedNotes, "; ") + "]",
				})
			}
		case TurnSummary:
			out = append(out, llm.ChatMessage{Role: llm.RoleUser, Content: t.Text})
		}
	}
	return out
}
