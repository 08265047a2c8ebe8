package fileloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/dagwatch/internal/config"
)

func TestFileLoader_Load(t *testing.T) {
	t.Parallel()

	content := `
workflows:
  - name: diamond
    run_dir: /runs/diamond/run0001
sink:
  type: file
  path: events.ndjson
  retry:
    max_attempts: 5
    initial_wait: 500ms
monitor:
  checkpoint_interval: 10s
  max_output_length: 1024
`
	path := filepath.Join(t.TempDir(), "dagwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := NewFileLoader(path).Load(context.Background())
	require.NoError(t, err)

	require.Len(t, cfg.Workflows, 1)
	assert.Equal(t, "diamond", cfg.Workflows[0].Name)
	assert.Equal(t, "/runs/diamond/run0001", cfg.Workflows[0].RunDir)

	assert.Equal(t, config.SinkTypeFile, cfg.Sink.Type)
	assert.Equal(t, "events.ndjson", cfg.Sink.Path)
	assert.Equal(t, 5, cfg.Sink.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Sink.Retry.InitialWait)

	assert.Equal(t, 10*time.Second, cfg.Monitor.CheckpointInterval)
	assert.Equal(t, 1024, cfg.Monitor.MaxOutputLength)
}

func TestFileLoader_Defaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dagwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workflows:\n  - run_dir: /runs/x\n"), 0o644))

	cfg, err := NewFileLoader(path).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, config.SinkTypeFile, cfg.Sink.Type)
	assert.Equal(t, config.DefaultCheckpointInterval, cfg.Monitor.CheckpointInterval)
	assert.Equal(t, config.DefaultMaxOutputLength, cfg.Monitor.MaxOutputLength)
	assert.Equal(t, config.DefaultPollInterval, cfg.Monitor.PollInterval)
	assert.Equal(t, config.DefaultRetryMaxAttempts, cfg.Sink.Retry.MaxAttempts)
	assert.InEpsilon(t, config.DefaultMarkerWritesPerSec, cfg.Monitor.MarkerWritesPerSec, 0.001)
}

func TestFileLoader_Errors(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := NewFileLoader(filepath.Join(t.TempDir(), "absent.yaml")).Load(context.Background())
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "dagwatch.yaml")
		require.NoError(t, os.WriteFile(path, []byte("workflows: [\n"), 0o644))
		_, err := NewFileLoader(path).Load(context.Background())
		assert.Error(t, err)
	})
}
