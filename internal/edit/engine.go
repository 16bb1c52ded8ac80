package edit

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors surfaced by the matching chain.
var (
	// ErrNoMatch means no fallback level could locate the search text.
	ErrNoMatch = errors.New("search text not found")
	// ErrAmbiguousMatch means the search text matched more than one location.
	// The engine refuses to guess which occurrence was meant.
	ErrAmbiguousMatch = errors.New("search text matches multiple locations")
	// ErrEmptySearch rejects an empty search string.
	ErrEmptySearch = errors.New("search text is empty")
)

// Edit is one (search, replacement) pair.
type Edit struct {
	Search  string `json:"search"`
	Replace string `json:"replace"`
}

// Request is an atomic set of edits against one file: either every pair
// matches and the content is rewritten once, or the first failing pair aborts
// the whole request.
type Request struct {
	Path  string `json:"path"`
	Edits []Edit `json:"edits"`
}

// MatchLevel identifies which fallback located a search text.
type MatchLevel int

const (
	LevelExact MatchLevel = iota + 1
	LevelWhitespace
	LevelIndent
	LevelFuzzy
)

func (l MatchLevel) String() string {
	switch l {
	case LevelExact:
		return "exact"
	case LevelWhitespace:
		return "whitespace-normalized"
	case LevelIndent:
		return "indentation-agnostic"
	case LevelFuzzy:
		return "fuzzy"
	default:
		return "none"
	}
}

// MatchOutcome records how one pair was (or was not) applied.
type MatchOutcome struct {
	Level   MatchLevel
	Err     error
	Nearest []string // candidate lines near the best non-matching location
}

// Engine applies search/replace edits using an ordered matching fallback
// chain: exact, whitespace-normalized, indentation-agnostic, then fuzzy.
// Matching never rewrites bytes outside the located span.
type Engine struct {
	// FuzzyThreshold is the minimum normalized similarity a fuzzy candidate
	// must reach. Below it the pair fails with diagnostics instead.
	FuzzyThreshold float64
}

// NewEngine builds an engine with the given fuzzy threshold.
func NewEngine(fuzzyThreshold float64) *Engine {
	if fuzzyThreshold <= 0 || fuzzyThreshold > 1 {
		fuzzyThreshold = 0.85
	}
	return &Engine{FuzzyThreshold: fuzzyThreshold}
}

// Apply runs every pair of the request against content, in order. On success
// it returns the rewritten content and one outcome per pair. On the first
// failure it returns the original content untouched, the outcomes up to and
// including the failing one, and a non-nil error.
func (e *Engine) Apply(content string, edits []Edit) (string, []MatchOutcome, error) {
	if len(edits) == 0 {
		return content, nil, errors.New("request contains no edits")
	}

	working := content
	outcomes := make([]MatchOutcome, 0, len(edits))
	for i, ed := range edits {
		next, outcome := e.applyOne(working, ed)
		outcomes = append(outcomes, outcome)
		if outcome.Err != nil {
			return content, outcomes, fmt.Errorf("edit %d/%d: %w", i+1, len(edits), outcome.Err)
		}
		working = next
	}
	return working, outcomes, nil
}

// applyOne walks the fallback chain for a single pair.
func (e *Engine) applyOne(content string, ed Edit) (string, MatchOutcome) {
	if ed.Search == "" {
		return content, MatchOutcome{Err: ErrEmptySearch}
	}

	if next, err := matchExact(content, ed); err == nil {
		return next, MatchOutcome{Level: LevelExact}
	} else if errors.Is(err, ErrAmbiguousMatch) {
		return content, MatchOutcome{Err: fmt.Errorf("exact: %w", err)}
	}

	if next, err := matchWhitespace(content, ed); err == nil {
		return next, MatchOutcome{Level: LevelWhitespace}
	} else if errors.Is(err, ErrAmbiguousMatch) {
		return content, MatchOutcome{Err: fmt.Errorf("whitespace-normalized: %w", err)}
	}

	if next, err := matchIndent(content, ed); err == nil {
		return next, MatchOutcome{Level: LevelIndent}
	} else if errors.Is(err, ErrAmbiguousMatch) {
		return content, MatchOutcome{Err: fmt.Errorf("indentation-agnostic: %w", err)}
	}

	if next, err := e.matchFuzzy(content, ed); err == nil {
		return next, MatchOutcome{Level: LevelFuzzy}
	} else if errors.Is(err, ErrAmbiguousMatch) {
		return content, MatchOutcome{Err: fmt.Errorf("fuzzy: %w", err)}
	}

	return content, MatchOutcome{
		Err:     ErrNoMatch,
		Nearest: nearestCandidates(content, ed.Search),
	}
}

// matchExact is level one: byte-for-byte substring match.
func matchExact(content string, ed Edit) (string, error) {
	switch strings.Count(content, ed.Search) {
	case 0:
		return "", ErrNoMatch
	case 1:
		idx := strings.Index(content, ed.Search)
		return content[:idx] + ed.Replace + content[idx+len(ed.Search):], nil
	default:
		return "", ErrAmbiguousMatch
	}
}

// matchWhitespace is level two: interior runs of spaces and tabs collapse to
// a single space on both sides before comparing; the replacement lands on the
// original (non-normalized) span. Leading indentation stays significant here
// so that indentation-only mismatches fall through to matchIndent, which
// re-indents the replacement.
func matchWhitespace(content string, ed Edit) (string, error) {
	normContent, offsets := normalizeWhitespace(content)
	normSearch, _ := normalizeWhitespace(ed.Search)
	if normSearch == "" {
		return "", ErrNoMatch
	}

	switch strings.Count(normContent, normSearch) {
	case 0:
		return "", ErrNoMatch
	case 1:
		normIdx := strings.Index(normContent, normSearch)
		start := offsets[normIdx]
		var end int
		if next := normIdx + len(normSearch); next < len(offsets) {
			end = offsets[next]
		} else {
			end = len(content)
		}
		return content[:start] + ed.Replace + content[end:], nil
	default:
		return "", ErrAmbiguousMatch
	}
}

// normalizeWhitespace collapses interior runs of spaces/tabs to one space and
// returns the normalized string plus a map from normalized index to original
// index. Leading whitespace on each line is copied byte-for-byte.
func normalizeWhitespace(s string) (string, []int) {
	var b strings.Builder
	offsets := make([]int, 0, len(s))
	atLineStart := true
	inRun := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\n' {
			atLineStart = true
			inRun = false
			b.WriteByte(c)
			offsets = append(offsets, i)
			continue
		}
		if c == ' ' || c == '\t' {
			if atLineStart {
				b.WriteByte(c)
				offsets = append(offsets, i)
				continue
			}
			if !inRun {
				b.WriteByte(' ')
				offsets = append(offsets, i)
				inRun = true
			}
			continue
		}
		atLineStart = false
		inRun = false
		b.WriteByte(c)
		offsets = append(offsets, i)
	}
	return b.String(), offsets
}

// matchIndent is level three: leading whitespace is stripped from every line
// on both sides before comparing. The replacement is re-indented by the extra
// indentation the file carries over the search text's first line.
func matchIndent(content string, ed Edit) (string, error) {
	lines, starts := splitLines(content)
	searchLines := strings.Split(ed.Search, "\n")
	if len(searchLines) > len(lines) {
		return "", ErrNoMatch
	}

	stripped := make([]string, len(lines))
	for i, l := range lines {
		stripped[i] = strings.TrimLeft(l, " \t")
	}
	strippedSearch := make([]string, len(searchLines))
	for i, l := range searchLines {
		strippedSearch[i] = strings.TrimLeft(l, " \t")
	}

	matchAt := -1
	for i := 0; i+len(searchLines) <= len(lines); i++ {
		if equalWindow(stripped[i:i+len(searchLines)], strippedSearch) {
			if matchAt >= 0 {
				return "", ErrAmbiguousMatch
			}
			matchAt = i
		}
	}
	if matchAt < 0 {
		return "", ErrNoMatch
	}

	origIndent := leadingWhitespace(lines[matchAt])
	searchIndent := leadingWhitespace(searchLines[0])
	extra := strings.TrimPrefix(origIndent, searchIndent)
	if !strings.HasPrefix(origIndent, searchIndent) {
		extra = origIndent
	}

	replLines := strings.Split(ed.Replace, "\n")
	for i, l := range replLines {
		if l != "" {
			replLines[i] = extra + l
		}
	}

	start := starts[matchAt]
	end := lineEnd(content, starts, matchAt+len(searchLines)-1)
	return content[:start] + strings.Join(replLines, "\n") + content[end:], nil
}

// matchFuzzy is level four: normalized edit-distance similarity against every
// window with the same line count as the search text. The best window wins
// only above the threshold; a tie between two windows is ambiguous.
func (e *Engine) matchFuzzy(content string, ed Edit) (string, error) {
	lines, starts := splitLines(content)
	searchLines := strings.Split(ed.Search, "\n")
	if len(searchLines) > len(lines) {
		return "", ErrNoMatch
	}

	best, second := -1.0, -1.0
	bestAt := -1
	for i := 0; i+len(searchLines) <= len(lines); i++ {
		window := strings.Join(lines[i:i+len(searchLines)], "\n")
		score := similarity(window, ed.Search)
		if score > best {
			second = best
			best = score
			bestAt = i
		} else if score > second {
			second = score
		}
	}

	if bestAt < 0 || best < e.FuzzyThreshold {
		return "", ErrNoMatch
	}
	if second >= e.FuzzyThreshold && best-second < 1e-9 {
		return "", ErrAmbiguousMatch
	}

	start := starts[bestAt]
	end := lineEnd(content, starts, bestAt+len(searchLines)-1)
	return content[:start] + ed.Replace + content[end:], nil
}

// nearestCandidates picks the most similar window in the file and returns its
// lines, numbered, as diagnostic context for the model's retry.
func nearestCandidates(content, search string) []string {
	lines, _ := splitLines(content)
	searchLines := strings.Split(search, "\n")
	span := len(searchLines)
	if span > len(lines) {
		span = len(lines)
	}
	if span == 0 {
		return nil
	}

	type candidate struct {
		at    int
		score float64
	}
	cands := make([]candidate, 0, len(lines))
	for i := 0; i+span <= len(lines); i++ {
		window := strings.Join(lines[i:i+span], "\n")
		cands = append(cands, candidate{at: i, score: similarity(window, search)})
	}
	if len(cands) == 0 {
		return nil
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].score > cands[j].score })

	bestAt := cands[0].at
	out := make([]string, 0, span)
	for i := bestAt; i < bestAt+span && i < len(lines); i++ {
		out = append(out, fmt.Sprintf("%d: %s", i+1, lines[i]))
	}
	return out
}

// splitLines returns content split on '\n' plus the byte offset of each line
// start. A trailing newline does not produce a phantom final line.
func splitLines(content string) ([]string, []int) {
	if content == "" {
		return nil, nil
	}
	trimmed := strings.TrimSuffix(content, "\n")
	lines := strings.Split(trimmed, "\n")
	starts := make([]int, len(lines))
	pos := 0
	for i, l := range lines {
		starts[i] = pos
		pos += len(l) + 1
	}
	return lines, starts
}

// lineEnd returns the byte offset just past line idx, excluding its newline.
func lineEnd(content string, starts []int, idx int) int {
	if idx+1 < len(starts) {
		return starts[idx+1] - 1
	}
	return len(strings.TrimSuffix(content, "\n"))
}

func equalWindow(window, search []string) bool {
	for i := range search {
		if window[i] != search[i] {
			return false
		}
	}
	return true
}

func leadingWhitespace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}
