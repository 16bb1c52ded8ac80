package conversation

import "unicode/utf8"

// Token estimation for context budget management. The heuristic is the usual
// ~4 characters per token, which tracks close enough for budgeting purposes;
// exact counts come back from the backend's usage report after the fact.

// Estimator provides token estimation for turns and whole conversations.
type Estimator struct {
	charsPerToken float64
}

// NewEstimator creates an estimator with default calibration.
func NewEstimator() *Estimator {
	return &Estimator{charsPerToken: 4.0}
}

// EstimateString estimates tokens in a string.
func (e *Estimator) EstimateString(s string) int {
	if s == "" {
		return 0
	}
	runeCount := utf8.RuneCountInString(s)
	return int(float64(runeCount) / e.charsPerToken)
}

// EstimateTurn estimates tokens for a single turn, including structural overhead.
func (e *Estimator) EstimateTurn(t Turn) int {
	tokens := 4 // role and framing overhead
	tokens += e.EstimateString(t.Text)
	for _, inv := range t.Invocations {
		tokens += 6 + e.EstimateString(inv.Name) + e.EstimateString(string(inv.Args))
	}
	for _, r := range t.Results {
		tokens += 6 + e.EstimateString(r.Content)
	}
	for _, n := range t.CompactedNotes {
		tokens += e.EstimateString(n)
	}
	return tokens
}

// EstimateConversation estimates tokens for the whole transcript.
func (e *Estimator) EstimateConversation(c *Conversation) int {
	total := 0
	for _, t := range c.Turns() {
		total += e.EstimateTurn(t)
	}
	return total
}
