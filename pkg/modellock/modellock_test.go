package modellock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("requires a path", func(t *testing.T) {
		_, err := New("")
		assert.Error(t, err)
	})

	t.Run("creates the parent directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "model.lock")
		guard, err := New(path)
		require.NoError(t, err)
		assert.NotNil(t, guard)
	})
}

func TestGuardAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.lock")
	guard, err := New(path)
	require.NoError(t, err)

	release, err := guard.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, guard.Held())

	// Double acquire on the same guard fails while held
	_, err = guard.Acquire(context.Background())
	assert.Error(t, err)

	release()
	assert.False(t, guard.Held())

	// Release is idempotent
	release()
	assert.False(t, guard.Held())

	// Reacquire after release works
	release2, err := guard.Acquire(context.Background())
	require.NoError(t, err)
	release2()
}

func TestGuardBlocksSecondGuard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.lock")

	first, err := New(path)
	require.NoError(t, err)
	release, err := first.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	second, err := New(path)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err = second.Acquire(ctx)
	assert.Error(t, err)
	assert.False(t, second.Held())
}

func TestGuardAcquireAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.lock")

	first, err := New(path)
	require.NoError(t, err)
	release, err := first.Acquire(context.Background())
	require.NoError(t, err)
	release()

	second, err := New(path)
	require.NoError(t, err)
	release2, err := second.Acquire(context.Background())
	require.NoError(t, err)
	release2()
}
