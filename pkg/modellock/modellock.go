// Package modellock serializes access to heavy model instances across
// cooperating processes. Loading two vision or decomposition models at once
// can exhaust local memory, so callers acquire the guard before loading and
// release it when the model is evicted.
package modellock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const retryInterval = 50 * time.Millisecond

// Guard is a cross-process single-instance lock backed by a lock file.
// At most one Guard per lock path is held at a time, across processes.
type Guard struct {
	path  string
	flock *flock.Flock

	mu   sync.Mutex
	held bool
}

// New creates a guard for the given lock file path. The parent directory is
// created if missing.
func New(path string) (*Guard, error) {
	if path == "" {
		return nil, fmt.Errorf("lock path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &Guard{
		path:  path,
		flock: flock.New(path),
	}, nil
}

// Acquire blocks until the lock is held or ctx is done. It returns a release
// function; calling it more than once is safe.
func (g *Guard) Acquire(ctx context.Context) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held {
		return nil, fmt.Errorf("lock already held: %s", g.path)
	}

	ok, err := g.flock.TryLockContext(ctx, retryInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("failed to acquire lock: %s", g.path)
	}
	g.held = true

	var once sync.Once
	release := func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			g.held = false
			_ = g.flock.Unlock()
		})
	}
	return release, nil
}

// Held reports whether this guard currently holds the lock
func (g *Guard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}
