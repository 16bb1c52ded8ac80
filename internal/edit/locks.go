package edit

import (
	"path/filepath"
	"strings"
	"sync"
)

// PathLocks serializes writes to globally scoped files across concurrently
// running loop controller instances. Locks are keyed by normalized path and
// held only for the duration of applying one edit request, never for a whole
// run.
type PathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPathLocks creates an empty lock registry.
func NewPathLocks() *PathLocks {
	return &PathLocks{locks: make(map[string]*sync.Mutex)}
}

// NormalizePath canonicalizes a path for lock keying so that "./a/b" and
// "a//b" contend on the same lock.
func NormalizePath(path string) string {
	return filepath.ToSlash(filepath.Clean(strings.TrimSpace(path)))
}

// Acquire locks the given path and returns the release function. Callers must
// release promptly after the write completes.
func (p *PathLocks) Acquire(path string) func() {
	key := NormalizePath(path)

	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &sync.Mutex{}
		p.locks[key] = l
	}
	p.mu.Unlock()

	l.Lock()
	return l.Unlock
}
