package keeper

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJanitorRejectsBadSchedule(t *testing.T) {
	env := newTestEnv(t)

	_, err := NewJanitor(env.keeper, nil, JanitorConfig{Schedule: "not a schedule", Logger: zerolog.Nop()})
	assert.Error(t, err)
}

func TestJanitorSweepPrunesVersions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.keeper.Put(ctx, PutRequest{ID: "doc-1", Content: "first"})
	require.NoError(t, err)
	_, err = env.keeper.Put(ctx, PutRequest{ID: "doc-1", Content: "second"})
	require.NoError(t, err)
	_, err = env.keeper.Put(ctx, PutRequest{ID: "doc-1", Content: "third"})
	require.NoError(t, err)

	n, err := env.docs.VersionCount(ctx, "test", "doc-1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	j, err := NewJanitor(env.keeper, nil, JanitorConfig{KeepVersions: 1, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, j.Sweep(ctx))

	n, err = env.docs.VersionCount(ctx, "test", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestJanitorSweepQueuesStaleAnalyses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.keeper.Put(ctx, PutRequest{ID: "doc-1", Content: "never analyzed"})
	require.NoError(t, err)

	queue := NewAnalyzeQueue(env.keeper, 8, zerolog.Nop())
	t.Cleanup(func() { _ = queue.Close() })

	j, err := NewJanitor(env.keeper, queue, JanitorConfig{Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, j.Sweep(ctx))

	// Only the visible document is queued; seeded hidden docs are skipped
	assert.Equal(t, 1, queue.Len())
}

func TestJanitorStartStop(t *testing.T) {
	env := newTestEnv(t)

	j, err := NewJanitor(env.keeper, nil, JanitorConfig{Logger: zerolog.Nop()})
	require.NoError(t, err)

	j.Start()
	j.Stop()
}
