package escalation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/loopsmith/loopsmith/internal/edit"
)

// Signature identifies a class of tool failure. Two failures with the same
// signature are treated as the same problem recurring, regardless of how the
// error text varies in its volatile parts.
type Signature struct {
	Tool  string
	Path  string
	Error string
}

func (s Signature) String() string {
	if s.Path == "" {
		return fmt.Sprintf("%s: %s", s.Tool, s.Error)
	}
	return fmt.Sprintf("%s %s: %s", s.Tool, s.Path, s.Error)
}

// Blocker describes why a run should stop and wait for a human. Question is
// phrased for direct presentation to the operator.
type Blocker struct {
	Signature Signature
	Count     int
	Question  string
}

// Tracker watches tool failures across a run and decides when the run has
// stopped making progress. It blocks when the same signature recurs
// SameSignature times, or when DistinctPerFile different signatures
// accumulate against a single file.
type Tracker struct {
	sameSignature   int
	distinctPerFile int
	logger          *zap.Logger

	counts  map[Signature]int
	perFile map[string]map[Signature]struct{}
}

// NewTracker builds a tracker with the given thresholds. Non-positive
// thresholds fall back to 3.
func NewTracker(sameSignature, distinctPerFile int, logger *zap.Logger) *Tracker {
	if sameSignature <= 0 {
		sameSignature = 3
	}
	if distinctPerFile <= 0 {
		distinctPerFile = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		sameSignature:   sameSignature,
		distinctPerFile: distinctPerFile,
		logger:          logger,
		counts:          make(map[Signature]int),
		perFile:         make(map[string]map[Signature]struct{}),
	}
}

var (
	hexRun    = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	digitRun  = regexp.MustCompile(`\d+`)
	addrSpace = regexp.MustCompile(`\s+`)
)

// normalizeError strips the volatile parts of an error message so that
// repeats of the same underlying failure collapse to one signature. Line
// numbers, addresses, and durations all become placeholders.
func normalizeError(msg string) string {
	msg = strings.TrimSpace(msg)
	msg = hexRun.ReplaceAllString(msg, "#")
	msg = digitRun.ReplaceAllString(msg, "#")
	msg = addrSpace.ReplaceAllString(msg, " ")
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return strings.ToLower(msg)
}

// Record registers one tool failure and reports whether the run should block.
// The decision fires on the exact occurrence that crosses a threshold, never
// earlier and never again for counts beyond it on the same call.
func (t *Tracker) Record(tool, path, errMsg string) (Blocker, bool) {
	sig := Signature{
		Tool:  tool,
		Path:  edit.NormalizePath(path),
		Error: normalizeError(errMsg),
	}

	t.counts[sig]++
	count := t.counts[sig]

	if sig.Path != "" {
		set, ok := t.perFile[sig.Path]
		if !ok {
			set = make(map[Signature]struct{})
			t.perFile[sig.Path] = set
		}
		set[sig] = struct{}{}
	}

	if count == t.sameSignature {
		t.logger.Warn("repeated failure threshold reached",
			zap.String("tool", sig.Tool),
			zap.String("path", sig.Path),
			zap.Int("count", count),
		)
		return Blocker{
			Signature: sig,
			Count:     count,
			Question: fmt.Sprintf(
				"The %s tool failed %d times in a row with the same error%s: %q. How should this be resolved?",
				sig.Tool, count, onPath(sig.Path), sig.Error,
			),
		}, true
	}

	if sig.Path != "" {
		distinct := len(t.perFile[sig.Path])
		if distinct == t.distinctPerFile && count == 1 {
			t.logger.Warn("distinct failure threshold reached",
				zap.String("path", sig.Path),
				zap.Int("distinct", distinct),
			)
			return Blocker{
				Signature: sig,
				Count:     distinct,
				Question: fmt.Sprintf(
					"Work on %s has failed in %d different ways: %s. The file may need a different approach. How should this be resolved?",
					sig.Path, distinct, t.describeFailures(sig.Path),
				),
			}, true
		}
	}

	return Blocker{}, false
}

// Reset clears all recorded failures. Used when a run recovers, for example
// after a verification pass succeeds.
func (t *Tracker) Reset() {
	t.counts = make(map[Signature]int)
	t.perFile = make(map[string]map[Signature]struct{})
}

func (t *Tracker) describeFailures(path string) string {
	set := t.perFile[path]
	descriptions := make([]string, 0, len(set))
	for sig := range set {
		descriptions = append(descriptions, fmt.Sprintf("%s (%s)", sig.Tool, sig.Error))
	}
	sort.Strings(descriptions)
	return strings.Join(descriptions, "; ")
}

func onPath(path string) string {
	if path == "" {
		return ""
	}
	return " on " + path
}
