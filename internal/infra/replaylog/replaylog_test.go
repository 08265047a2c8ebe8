package replaylog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/dagwatch/internal/domain/tracking"
)

func TestWriter_LineFormat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, w.AppendInternal(1709290800, MarkMonitorStarted))
	require.NoError(t, w.AppendInternal(1709290801, MarkControllerStarted))
	require.NoError(t, w.Append(1709290810, "create_dir", tracking.JobStateSubmit, "120.0", "local", "", 1))
	require.NoError(t, w.Append(1709290870, "create_dir", tracking.JobStateSuccess, "0", "local", "60.0", 1))
	require.NoError(t, w.Append(1709290880, "analyze", tracking.JobStateExecute, "", "", "", 2))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(filepath.Join(dir, LogFile))
	require.NoError(t, err)

	want := "1709290800 INTERNAL *** MONITORD_STARTED ***\n" +
		"1709290801 INTERNAL *** DAGMAN_STARTED ***\n" +
		"1709290810 create_dir SUBMIT 120.0 local - 1\n" +
		"1709290870 create_dir JOB_SUCCESS 0 local 60.0 1\n" +
		"1709290880 analyze EXECUTE - - - 2\n"
	assert.Equal(t, want, string(data))
}

func TestWriter_AppendResumesExistingLog(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	w, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, w.Append(100, "a", tracking.JobStateSubmit, "1.0", "", "", 1))
	require.NoError(t, w.Close())

	w, err = Open(dir)
	require.NoError(t, err)
	require.NoError(t, w.Append(200, "b", tracking.JobStateSubmit, "2.0", "", "", 2))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(filepath.Join(dir, LogFile))
	require.NoError(t, err)
	assert.Equal(t, "100 a SUBMIT 1.0 - - 1\n200 b SUBMIT 2.0 - - 2\n", string(data))
}

func TestOpenFresh_RotatesExistingLog(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	w, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, w.Append(100, "a", tracking.JobStateSubmit, "1.0", "", "", 1))
	require.NoError(t, w.Close())

	w, err = OpenFresh(dir)
	require.NoError(t, err)
	require.NoError(t, w.Append(300, "c", tracking.JobStateSubmit, "3.0", "", "", 3))
	require.NoError(t, w.Close())

	fresh, err := os.ReadFile(filepath.Join(dir, LogFile))
	require.NoError(t, err)
	assert.Equal(t, "300 c SUBMIT 3.0 - - 3\n", string(fresh))

	rotated, err := os.ReadFile(filepath.Join(dir, LogFile+".old.000"))
	require.NoError(t, err)
	assert.Equal(t, "100 a SUBMIT 1.0 - - 1\n", string(rotated))
}

func TestOpenFresh_SkipsTakenRotationSlots(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, LogFile)
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))
	require.NoError(t, os.WriteFile(path+".old.000", []byte("older\n"), 0o644))

	w, err := OpenFresh(dir)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path + ".old.001")
	require.NoError(t, err)
	assert.Equal(t, "old\n", string(data))
}

func TestOpenFresh_NoExistingLog(t *testing.T) {
	t.Parallel()

	w, err := OpenFresh(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, w.Close())
}
