package flatfile

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/dagwatch/internal/domain/tracking"
	"github.com/ahrav/dagwatch/pkg/common/logger"
)

func testLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelDebug, "test", nil)
}

func testWorkflow(t *testing.T) *tracking.Workflow {
	t.Helper()
	desc := tracking.Descriptor{WorkflowID: uuid.New(), DAGFile: "workflow.dag"}
	return tracking.NewWorkflow(desc, desc.WorkflowID, uuid.Nil)
}

func TestCheckpointStore_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewCheckpointStore(dir, testLogger())
	ctx := context.Background()

	wf := testWorkflow(t)
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	wf.AddJob("job_b", tracking.JobStateSubmit, "1.0", ts, nil)
	wf.AddJob("job_a", tracking.JobStateSubmit, "2.0", ts, nil)
	wf.SetLastProcessed(8192)
	wf.IncRestartCount()

	require.NoError(t, store.Save(ctx, wf))

	cp, ok := store.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(3), cp.JobSequence)
	assert.Equal(t, int64(8192), cp.LastOffset)
	assert.Equal(t, 1, cp.RestartCount)
	assert.Equal(t, map[string]int{"job_a": 0, "job_b": 0}, cp.Resubmissions)
}

func TestCheckpointStore_Deterministic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewCheckpointStore(dir, testLogger())
	ctx := context.Background()

	wf := testWorkflow(t)
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for _, name := range []string{"zeta", "alpha", "mid", "beta"} {
		wf.AddJob(name, tracking.JobStateSubmit, "", ts, nil)
	}

	require.NoError(t, store.Save(ctx, wf))
	first, err := os.ReadFile(filepath.Join(dir, CheckpointFile))
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, wf))
	second, err := os.ReadFile(filepath.Join(dir, CheckpointFile))
	require.NoError(t, err)

	assert.Equal(t, first, second, "checkpoint writes must be byte-identical")
	assert.Equal(t, "monitord_job_sequence 5\nmonitord_dagman_out_sequence 0\nmonitord_workflow_restart_count 0\nalpha 0\nbeta 0\nmid 0\nzeta 0\n", string(first))
}

func TestCheckpointStore_LoadMissing(t *testing.T) {
	t.Parallel()

	store := NewCheckpointStore(t.TempDir(), testLogger())
	cp, ok := store.Load(context.Background())
	assert.False(t, ok)
	assert.Nil(t, cp)
}

func TestCheckpointStore_LoadMalformed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, CheckpointFile), []byte("monitord_job_sequence not-a-number\n"), 0o644))

	store := NewCheckpointStore(dir, testLogger())
	_, ok := store.Load(context.Background())
	assert.False(t, ok)
}
