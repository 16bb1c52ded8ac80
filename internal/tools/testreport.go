package tools

import (
	"regexp"
	"strings"
)

var testFailureRe = regexp.MustCompile(`(?i)(FAIL|Error|ERROR):?\s+([A-Za-z0-9_./-]+)`)

// summarizeTestFailures extracts failing test names from test runner output so
// a long log still leads with what broke. Returns "" when nothing matched.
func summarizeTestFailures(output string) string {
	names := make([]string, 0, 8)
	for _, line := range strings.Split(output, "\n") {
		m := testFailureRe.FindStringSubmatch(line)
		if len(m) >= 3 {
			names = append(names, strings.TrimSpace(m[2]))
		}
	}
	names = uniqueStrings(names)
	if len(names) == 0 {
		return ""
	}
	return "Failing tests: " + strings.Join(names, ", ")
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
