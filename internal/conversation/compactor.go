package conversation

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	// verboseResultChars is the size above which a tool result is considered
	// verbose and eligible for tier-one summarization.
	verboseResultChars = 600
	// summaryLineChars caps each line carried into a synthetic summary turn.
	summaryLineChars = 240
)

// Compactor keeps a conversation under a fraction of the model context window
// using three tiers, applied in order until the estimate is back under budget:
//
//  1. replace verbose tool-result content with short summaries
//  2. drop invocation/result pairs that produced no durable effect
//  3. collapse the oldest block of turns into one synthetic summary turn
//
// The most recent KeepRecent invocation/result pairs, model text, error
// results, and the paths of durable tool invocations survive every tier.
type Compactor struct {
	ContextTokens int
	Threshold     float64
	KeepRecent    int

	// DurableTools names tools whose effects outlive the conversation
	// (edits, file creation, command execution). Their pairs are never
	// dropped by tier two.
	DurableTools map[string]bool

	est    *Estimator
	logger *zap.Logger
}

// NewCompactor builds a compactor for a model with the given context window.
func NewCompactor(contextTokens int, threshold float64, keepRecent int, durable map[string]bool, logger *zap.Logger) *Compactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compactor{
		ContextTokens: contextTokens,
		Threshold:     threshold,
		KeepRecent:    keepRecent,
		DurableTools:  durable,
		est:           NewEstimator(),
		logger:        logger,
	}
}

// Report describes one compaction pass.
type Report struct {
	Ran          bool
	TiersApplied []string
	TokensBefore int
	TokensAfter  int
}

func (c *Compactor) budget() int {
	return int(c.Threshold * float64(c.ContextTokens))
}

// NeedsCompaction reports whether the estimate crossed the budget threshold.
func (c *Compactor) NeedsCompaction(conv *Conversation) bool {
	if c.ContextTokens <= 0 {
		return false
	}
	return c.est.EstimateConversation(conv) > c.budget()
}

// Compact shrinks the conversation in place. It never touches the protected
// tail and never changes loop state; the caller decides when to invoke it.
func (c *Compactor) Compact(conv *Conversation) Report {
	report := Report{TokensBefore: c.est.EstimateConversation(conv)}
	if c.ContextTokens <= 0 || report.TokensBefore <= c.budget() {
		report.TokensAfter = report.TokensBefore
		return report
	}
	report.Ran = true

	boundary := c.protectedBoundary(conv)

	c.summarizeVerboseResults(conv, boundary)
	report.TiersApplied = append(report.TiersApplied, "summarize")
	if c.underBudget(conv, &report) {
		return report
	}

	c.dropEphemeralPairs(conv, boundary)
	report.TiersApplied = append(report.TiersApplied, "drop")
	if c.underBudget(conv, &report) {
		return report
	}

	// Boundary indexes shift only via ReplaceRange, which tier three performs
	// itself; tiers one and two edit turns in place.
	c.collapseOldest(conv, boundary)
	report.TiersApplied = append(report.TiersApplied, "collapse")
	report.TokensAfter = c.est.EstimateConversation(conv)

	c.logger.Debug("conversation compacted",
		zap.Int("tokens_before", report.TokensBefore),
		zap.Int("tokens_after", report.TokensAfter),
		zap.Strings("tiers", report.TiersApplied))
	return report
}

func (c *Compactor) underBudget(conv *Conversation, report *Report) bool {
	report.TokensAfter = c.est.EstimateConversation(conv)
	return report.TokensAfter <= c.budget()
}

// protectedBoundary returns the index of the first turn that must not be
// compacted: the model turn owning the oldest of the KeepRecent most recent
// invocation/result pairs.
func (c *Compactor) protectedBoundary(conv *Conversation) int {
	turns := conv.Turns()
	remaining := c.KeepRecent
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Kind != TurnObservation {
			continue
		}
		remaining -= len(turns[i].Results)
		if remaining <= 0 {
			// Protect from the paired model turn onward.
			if i > 0 && turns[i-1].Kind == TurnModel {
				return i - 1
			}
			return i
		}
	}
	return 0
}

// summarizeVerboseResults is tier one: long non-error results outside the
// protected tail are cut down to their head plus an elision marker.
func (c *Compactor) summarizeVerboseResults(conv *Conversation, boundary int) {
	turns := conv.Turns()
	for i := 0; i < boundary && i < len(turns); i++ {
		t := &turns[i]
		if t.Kind != TurnObservation {
			continue
		}
		for j := range t.Results {
			r := &t.Results[j]
			if r.IsError || len(r.Content) <= verboseResultChars {
				continue
			}
			omitted := len(r.Content) - verboseResultChars
			head := r.Content[:verboseResultChars]
			if idx := strings.LastIndexByte(head, '\n'); idx > 0 {
				head = head[:idx]
				omitted = len(r.Content) - len(head)
			}
			r.Content = fmt.Sprintf("%s\n[compacted: %d chars omitted]", head, omitted)
		}
	}
}

// dropEphemeralPairs is tier two: invocation/result pairs from non-durable
// tools (reads, searches, listings) are removed in both directions, leaving a
// tombstone note on the observation turn.
func (c *Compactor) dropEphemeralPairs(conv *Conversation, boundary int) {
	turns := conv.Turns()
	for i := 0; i < boundary && i < len(turns); i++ {
		t := &turns[i]
		if t.Kind != TurnObservation {
			continue
		}
		kept := t.Results[:0]
		for _, r := range t.Results {
			if r.IsError || c.DurableTools[r.Tool] {
				kept = append(kept, r)
				continue
			}
			t.CompactedNotes = append(t.CompactedNotes, r.Tool)
			c.removeInvocation(turns, i, r.InvocationID)
		}
		t.Results = kept
	}
}

// removeInvocation deletes the invocation with the given id from the model
// turn preceding observation turn obsIdx.
func (c *Compactor) removeInvocation(turns []Turn, obsIdx int, invocationID string) {
	for i := obsIdx - 1; i >= 0; i-- {
		if turns[i].Kind != TurnModel {
			continue
		}
		invs := turns[i].Invocations
		for j, inv := range invs {
			if inv.ID == invocationID {
				turns[i].Invocations = append(invs[:j], invs[j+1:]...)
				return
			}
		}
		return
	}
}

// collapseOldest is tier three: every turn between the task statement and the
// protected tail is replaced by one synthetic summary that carries the
// safety-critical context forward.
func (c *Compactor) collapseOldest(conv *Conversation, boundary int) {
	if boundary <= 1 {
		return
	}
	turns := conv.Turns()

	var decisions, errors, paths []string
	seenPath := make(map[string]struct{})
	for i := 1; i < boundary; i++ {
		t := turns[i]
		switch t.Kind {
		case TurnModel:
			if text := strings.TrimSpace(t.Text); text != "" {
				decisions = append(decisions, truncateLine(text))
			}
			for _, inv := range t.Invocations {
				if !c.DurableTools[inv.Name] {
					continue
				}
				if p := invocationPath(inv); p != "" {
					if _, ok := seenPath[p]; !ok {
						seenPath[p] = struct{}{}
						paths = append(paths, p)
					}
				}
			}
		case TurnObservation:
			for _, r := range t.Results {
				if r.IsError {
					errors = append(errors, truncateLine(r.Content))
				}
			}
		case TurnUser, TurnSummary:
			if text := strings.TrimSpace(t.Text); text != "" {
				decisions = append(decisions, truncateLine(text))
			}
		}
	}

	var b strings.Builder
	b.WriteString("Earlier conversation compacted to stay within the context budget. Preserved context:\n")
	if len(decisions) > 0 {
		b.WriteString("Notes and decisions:\n")
		for _, d := range decisions {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}
	if len(errors) > 0 {
		b.WriteString("Unresolved errors:\n")
		for _, e := range errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	if len(paths) > 0 {
		b.WriteString("Files created or modified:\n")
		for _, p := range paths {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}

	_ = conv.ReplaceRange(1, boundary, Turn{Kind: TurnSummary, Text: strings.TrimSpace(b.String())})
}

func truncateLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= summaryLineChars {
		return s
	}
	return s[:summaryLineChars] + "..."
}

func invocationPath(inv ToolInvocation) string {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(inv.Args, &args); err != nil {
		return ""
	}
	return args.Path
}
