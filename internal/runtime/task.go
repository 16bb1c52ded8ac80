package runtime

import "github.com/google/uuid"

// Task is the immutable input of one run: what to do and where. It is created
// by the caller and read-only for the duration of the run.
type Task struct {
	ID            uuid.UUID
	Title         string
	Body          string
	WorkspaceRoot string
}

// NewTask builds a task with a fresh identity.
func NewTask(title, body, workspaceRoot string) Task {
	return Task{
		ID:            uuid.New(),
		Title:         title,
		Body:          body,
		WorkspaceRoot: workspaceRoot,
	}
}
