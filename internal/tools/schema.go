package tools

import "github.com/loopsmith/loopsmith/internal/llm"

// Tool names form a closed set. The dispatcher matches them exhaustively;
// adding a tool means adding a schema, an argument type, and a handler arm.
const (
	ToolReadFile   = "read_file"
	ToolApplyEdits = "apply_edits"
	ToolCreateFile = "create_file"
	ToolSearch     = "search"
	ToolListDir    = "list_dir"
	ToolRunCommand = "run_command"
	ToolRunTests   = "run_tests"
)

// Schemas returns the descriptors advertised to the model backend.
func Schemas() []llm.ToolSchema {
	return []llm.ToolSchema{
		{
			Name:        ToolReadFile,
			Description: "Read a file, optionally restricted to a line range. Output lines are numbered.",
			Parameters: []llm.SchemaField{
				{Name: "path", Type: "string", Description: "Path relative to the workspace", Required: true},
				{Name: "start_line", Type: "integer", Description: "First line to read (1-based)", Required: false},
				{Name: "end_line", Type: "integer", Description: "Last line to read, inclusive", Required: false},
			},
		},
		{
			Name:        ToolApplyEdits,
			Description: "Apply search/replace edits to an existing file. Each search block must match exactly one location; all edits apply atomically or none do.",
			Parameters: []llm.SchemaField{
				{Name: "path", Type: "string", Description: "Path relative to the workspace", Required: true},
				{Name: "edits", Type: "array", Description: "List of {search, replace} blocks applied in order", Required: true},
			},
		},
		{
			Name:        ToolCreateFile,
			Description: "Create a new file with the given content. Fails if the file already exists.",
			Parameters: []llm.SchemaField{
				{Name: "path", Type: "string", Description: "Path relative to the workspace", Required: true},
				{Name: "content", Type: "string", Description: "Full file content", Required: true},
			},
		},
		{
			Name:        ToolSearch,
			Description: "Search workspace files for a literal substring.",
			Parameters: []llm.SchemaField{
				{Name: "pattern", Type: "string", Description: "Substring to look for", Required: true},
				{Name: "path", Type: "string", Description: "Directory to search under, defaults to the workspace root", Required: false},
				{Name: "max_results", Type: "integer", Description: "Result cap, defaults to 20", Required: false},
			},
		},
		{
			Name:        ToolListDir,
			Description: "List the entries of a directory.",
			Parameters: []llm.SchemaField{
				{Name: "path", Type: "string", Description: "Directory relative to the workspace", Required: true},
			},
		},
		{
			Name:        ToolRunCommand,
			Description: "Run a shell command inside the workspace. Destructive commands are blocked; output is truncated.",
			Parameters: []llm.SchemaField{
				{Name: "command", Type: "string", Description: "Shell command to execute", Required: true},
			},
		},
		{
			Name:        ToolRunTests,
			Description: "Run the project's test suite, optionally narrowed to a target.",
			Parameters: []llm.SchemaField{
				{Name: "target", Type: "string", Description: "Package, file, or test filter understood by the test command", Required: false},
			},
		},
	}
}
