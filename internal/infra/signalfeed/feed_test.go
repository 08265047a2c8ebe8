package signalfeed

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/dagwatch/internal/domain/tracking"
	"github.com/ahrav/dagwatch/pkg/common/logger"
)

func testLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelDebug, "test", nil)
}

type capturingHandler struct {
	signals  []tracking.Signal
	controls []tracking.ControlSignal
	err      error
}

func (h *capturingHandler) ApplySignal(ctx context.Context, sig tracking.Signal) error {
	if h.err != nil {
		return h.err
	}
	h.signals = append(h.signals, sig)
	return nil
}

func (h *capturingHandler) ApplyControl(ctx context.Context, sig tracking.ControlSignal) error {
	if h.err != nil {
		return h.err
	}
	h.controls = append(h.controls, sig)
	return nil
}

func writeFeed(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, SignalFile)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFeed_DeliversInOrder(t *testing.T) {
	t.Parallel()

	path := writeFeed(t, ""+
		"100 INTERNAL DAGMAN_STARTED -\n"+
		"110 create_dir SUBMIT 120.0 - -\n"+
		"170 create_dir JOB_SUCCESS - 0 60.0\n"+
		"200 INTERNAL DAGMAN_FINISHED 0\n")

	h := &capturingHandler{}
	feed := New(path, 10*time.Millisecond, testLogger())
	require.NoError(t, feed.Run(context.Background(), h))

	require.Len(t, h.controls, 2)
	assert.Equal(t, tracking.ControlStarted, h.controls[0].Kind)
	assert.Equal(t, tracking.ControlFinished, h.controls[1].Kind)
	assert.Equal(t, 0, h.controls[1].ExitCode)

	require.Len(t, h.signals, 2)

	submit := h.signals[0]
	assert.Equal(t, "create_dir", submit.JobName)
	assert.Equal(t, tracking.JobStateSubmit, submit.Kind)
	assert.Equal(t, "120.0", submit.SchedulerID)
	assert.Nil(t, submit.Status)
	assert.Equal(t, time.Unix(110, 0).UTC(), submit.Timestamp)

	success := h.signals[1]
	assert.Equal(t, tracking.JobStateSuccess, success.Kind)
	require.NotNil(t, success.Status)
	assert.Equal(t, 0, *success.Status)
	assert.Equal(t, "60.0", success.Walltime)

	// Offsets advance strictly with the input bytes.
	assert.Greater(t, success.Offset, submit.Offset)
	assert.Greater(t, h.controls[1].Offset, success.Offset)
}

func TestFeed_SkipsMalformedLines(t *testing.T) {
	t.Parallel()

	path := writeFeed(t, ""+
		"garbage line\n"+
		"110 job_a NOT_A_STATE - - -\n"+
		"120 job_a SUBMIT 1.0 - -\n"+
		"130 job_a BADSTATUS x notanumber -\n"+
		"200 INTERNAL DAGMAN_FINISHED 0\n")

	h := &capturingHandler{}
	feed := New(path, 10*time.Millisecond, testLogger())
	require.NoError(t, feed.Run(context.Background(), h))

	require.Len(t, h.signals, 1)
	assert.Equal(t, tracking.JobStateSubmit, h.signals[0].Kind)
}

func TestFeed_StopsOnHandlerError(t *testing.T) {
	t.Parallel()

	path := writeFeed(t, "120 job_a SUBMIT 1.0 - -\n")

	wantErr := errors.New("replay log gone")
	h := &capturingHandler{err: wantErr}
	feed := New(path, 10*time.Millisecond, testLogger())

	err := feed.Run(context.Background(), h)
	assert.ErrorIs(t, err, wantErr)
}

func TestFeed_WaitsForFileThenCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	feed := New(filepath.Join(t.TempDir(), SignalFile), 5*time.Millisecond, testLogger())
	err := feed.Run(ctx, &capturingHandler{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFeed_TailsGrowingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, SignalFile)
	require.NoError(t, os.WriteFile(path, []byte("120 job_a SUBMIT 1.0 - -\n"), 0o644))

	h := &capturingHandler{}
	feed := New(path, 5*time.Millisecond, testLogger())

	done := make(chan error, 1)
	go func() { done <- feed.Run(context.Background(), h) }()

	// Give the feed a moment to reach EOF, then finish the run.
	time.Sleep(30 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("200 INTERNAL DAGMAN_FINISHED 0\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not finish after controller-finished signal")
	}
	require.Len(t, h.signals, 1)
	require.Len(t, h.controls, 1)
}
