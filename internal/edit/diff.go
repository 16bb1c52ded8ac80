package edit

import (
	"fmt"
	"strings"
)

// RenderDiff produces a compact line diff between two versions of a file,
// suitable for inclusion in a tool result. Unchanged leading and trailing
// regions are elided down to a small amount of context.
func RenderDiff(path, before, after string) string {
	if before == after {
		return fmt.Sprintf("%s: no changes", path)
	}

	beforeLines := strings.Split(strings.TrimSuffix(before, "\n"), "\n")
	afterLines := strings.Split(strings.TrimSuffix(after, "\n"), "\n")

	prefix := 0
	for prefix < len(beforeLines) && prefix < len(afterLines) && beforeLines[prefix] == afterLines[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(beforeLines)-prefix && suffix < len(afterLines)-prefix &&
		beforeLines[len(beforeLines)-1-suffix] == afterLines[len(afterLines)-1-suffix] {
		suffix++
	}

	const context = 2
	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n", path)

	ctxStart := prefix - context
	if ctxStart < 0 {
		ctxStart = 0
	}
	if ctxStart > 0 {
		fmt.Fprintf(&b, "@@ %d unchanged lines @@\n", ctxStart)
	}
	for i := ctxStart; i < prefix; i++ {
		fmt.Fprintf(&b, "  %s\n", beforeLines[i])
	}
	for i := prefix; i < len(beforeLines)-suffix; i++ {
		fmt.Fprintf(&b, "- %s\n", beforeLines[i])
	}
	for i := prefix; i < len(afterLines)-suffix; i++ {
		fmt.Fprintf(&b, "+ %s\n", afterLines[i])
	}
	ctxEnd := suffix
	if ctxEnd > context {
		ctxEnd = context
	}
	for i := len(afterLines) - suffix; i < len(afterLines)-suffix+ctxEnd; i++ {
		fmt.Fprintf(&b, "  %s\n", afterLines[i])
	}
	if suffix > context {
		fmt.Fprintf(&b, "@@ %d unchanged lines @@\n", suffix-context)
	}

	return strings.TrimSuffix(b.String(), "\n")
}
