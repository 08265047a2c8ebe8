package flatfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoveryStore_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewRecoveryStore(dir, testLogger())
	ctx := context.Background()

	_, ok := store.Load(ctx)
	assert.False(t, ok, "no marker before first save")

	require.NoError(t, store.Save(ctx, 1234))
	offset, ok := store.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(1234), offset)

	// Continuous rewrite keeps a single line.
	require.NoError(t, store.Save(ctx, 9999))
	data, err := os.ReadFile(filepath.Join(dir, RecoveryFile))
	require.NoError(t, err)
	assert.Equal(t, "line_processed 9999\n", string(data))
}

func TestRecoveryStore_Remove(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewRecoveryStore(dir, testLogger())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, 55))
	store.Remove(ctx)

	_, ok := store.Load(ctx)
	assert.False(t, ok)

	// Removing twice is harmless.
	store.Remove(ctx)
}

func TestRecoveryStore_Malformed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, RecoveryFile), []byte("garbage\n"), 0o644))

	store := NewRecoveryStore(dir, testLogger())
	_, ok := store.Load(context.Background())
	assert.False(t, ok)
}

func TestSentinelStore_Lifecycle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewSentinelStore(dir, testLogger())
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	store.MarkStarted(ctx, now)
	assert.FileExists(t, filepath.Join(dir, StartedFile))
	assert.NoFileExists(t, filepath.Join(dir, DoneFile))

	store.MarkDone(ctx, now.Add(90*time.Second), 90*time.Second)
	assert.NoFileExists(t, filepath.Join(dir, StartedFile))
	assert.FileExists(t, filepath.Join(dir, DoneFile))

	data, err := os.ReadFile(filepath.Join(dir, DoneFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "elapsed 90")
}
