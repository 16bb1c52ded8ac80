package tools

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Workspace provides file operations rooted at a task's working directory.
// Every path is validated against the guard before it touches the disk.
type Workspace struct {
	guard *PathGuard
}

// NewWorkspace builds a workspace rooted at baseDir.
func NewWorkspace(baseDir string) (*Workspace, error) {
	guard, err := NewPathGuard(baseDir)
	if err != nil {
		return nil, err
	}
	return &Workspace{guard: guard}, nil
}

// Root returns the absolute workspace directory.
func (w *Workspace) Root() string { return w.guard.BaseDir }

// ReadFile returns the full contents of a file.
func (w *Workspace) ReadFile(path string) (string, error) {
	resolved, err := w.guard.Resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReadFileRange returns lines startLine through endLine (1-based, inclusive),
// each prefixed with its line number. A zero endLine means through the end of
// the file; a zero startLine means from the beginning.
func (w *Workspace) ReadFileRange(path string, startLine, endLine int) (string, error) {
	content, err := w.ReadFile(path)
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")

	if startLine <= 0 {
		startLine = 1
	}
	if endLine <= 0 || endLine > len(lines) {
		endLine = len(lines)
	}
	if startLine > len(lines) {
		return "", fmt.Errorf("start line %d is past the end of %s (%d lines)", startLine, path, len(lines))
	}
	if startLine > endLine {
		return "", fmt.Errorf("start line %d is after end line %d", startLine, endLine)
	}

	var b strings.Builder
	for i := startLine; i <= endLine; i++ {
		fmt.Fprintf(&b, "%d: %s\n", i, lines[i-1])
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

// WriteFile replaces a file's contents, creating parent directories as needed.
func (w *Workspace) WriteFile(path string, content string) error {
	resolved, err := w.guard.Resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return err
	}
	return os.WriteFile(resolved, []byte(content), 0o644)
}

// CreateFile writes a new file. It refuses to overwrite an existing one.
func (w *Workspace) CreateFile(path string, content string) error {
	resolved, err := w.guard.Resolve(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(resolved); err == nil {
		return fmt.Errorf("%s already exists; use apply_edits to modify it", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return err
	}
	return os.WriteFile(resolved, []byte(content), 0o644)
}

// ListDir lists directory entries, directories suffixed with a slash, sorted.
func (w *Workspace) ListDir(path string) ([]string, error) {
	resolved, err := w.guard.Resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// SearchResult represents a single pattern match.
type SearchResult struct {
	Path    string
	Line    int
	Snippet string
}

// Search looks for substring occurrences in files under root (relative path).
func (w *Workspace) Search(root string, pattern string, maxResults int) ([]SearchResult, error) {
	if pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}
	if root == "" {
		root = "."
	}
	if maxResults <= 0 {
		maxResults = 20
	}

	resolved, err := w.guard.Resolve(root)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, maxResults)
	err = filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipSearchDir(d.Name()) && path != resolved {
				return filepath.SkipDir
			}
			return nil
		}
		if len(results) >= maxResults {
			return filepath.SkipAll
		}
		rel, _ := filepath.Rel(w.guard.BaseDir, path)

		file, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		lineNum := 1
		for scanner.Scan() {
			text := scanner.Text()
			if strings.Contains(text, "\x00") {
				return nil
			}
			if strings.Contains(text, pattern) {
				results = append(results, SearchResult{
					Path:    filepath.ToSlash(rel),
					Line:    lineNum,
					Snippet: text,
				})
				if len(results) >= maxResults {
					return filepath.SkipAll
				}
			}
			lineNum++
		}
		return nil
	})
	if err != nil && !errors.Is(err, filepath.SkipAll) {
		return results, err
	}
	return results, nil
}

func skipSearchDir(name string) bool {
	switch strings.ToLower(name) {
	case ".git", "node_modules", ".idea", ".vscode", "vendor", ".cache":
		return true
	default:
		return false
	}
}
