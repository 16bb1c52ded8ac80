package prompt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// platformRules is the fixed first layer of every instruction blob. It does
// not vary by workspace or task.
const platformRules = `You are an autonomous coding agent working on a single task inside one workspace.

Rules:
- Work only inside the workspace. Use the provided tools for every file operation and command.
- Prefer small, targeted edits over rewriting whole files. Read before you edit.
- When an edit fails to match, re-read the file and retry with the exact current text.
- Run the tests after meaningful changes. Fix what you broke before moving on.
- When the task is done, reply without tool calls and summarize what changed.`

// conventionFiles are probed in order; the first one present supplies the
// workspace conventions layer.
var conventionFiles = []string{"AGENTS.md", "CONVENTIONS.md", ".agentrules"}

// Inputs are the three layers an instruction blob is assembled from. The
// platform layer is fixed and implicit.
type Inputs struct {
	WorkspaceConventions string
	TaskTitle            string
	TaskBody             string
}

// Prompt is an assembled instruction blob plus the opening conversation turn.
type Prompt struct {
	Instructions string
	InitialTurn  string
}

// Assemble concatenates the three prompt layers. It is a pure function: same
// inputs, same output, no side effects. The only failure is missing input.
func Assemble(in Inputs) (Prompt, error) {
	if strings.TrimSpace(in.TaskTitle) == "" {
		return Prompt{}, errors.New("task title is required")
	}
	if strings.TrimSpace(in.TaskBody) == "" {
		return Prompt{}, errors.New("task body is required")
	}

	sections := []string{platformRules}
	if conventions := strings.TrimSpace(in.WorkspaceConventions); conventions != "" {
		sections = append(sections, "Workspace conventions:\n"+conventions)
	}

	return Prompt{
		Instructions: strings.Join(sections, "\n\n"),
		InitialTurn:  fmt.Sprintf("Task: %s\n\n%s", strings.TrimSpace(in.TaskTitle), strings.TrimSpace(in.TaskBody)),
	}, nil
}

// LoadConventions reads the workspace conventions layer from the first
// convention file found under root. A workspace without one yields an empty
// layer, not an error.
func LoadConventions(root string) (string, error) {
	for _, name := range conventionFiles {
		data, err := os.ReadFile(filepath.Join(root, name))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("read %s: %w", name, err)
		}
	}
	return "", nil
}
