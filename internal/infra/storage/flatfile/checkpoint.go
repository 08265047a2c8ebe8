// Package flatfile persists the monitor's durable state as small flat files
// inside the workflow run directory. Nothing here coordinates across
// processes; one monitor owns one run directory.
package flatfile

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ahrav/dagwatch/internal/domain/tracking"
	"github.com/ahrav/dagwatch/pkg/common/logger"
)

// CheckpointFile is the counters checkpoint inside the run directory.
const CheckpointFile = "monitord.info"

// Reserved checkpoint keys. Any other key is a per-job resubmission counter.
const (
	keyJobSequence  = "monitord_job_sequence"
	keyLastOffset   = "monitord_dagman_out_sequence"
	keyRestartCount = "monitord_workflow_restart_count"
)

// Checkpoint is the wholesale counter snapshot written at workflow end and
// periodically in between.
type Checkpoint struct {
	JobSequence   int64
	LastOffset    int64
	RestartCount  int
	Resubmissions map[string]int
}

// CheckpointStore reads and overwrites the counters checkpoint of one run
// directory. Failures are logged and treated as "no prior state"; checkpoint
// loss costs efficiency on restart, never correctness.
type CheckpointStore struct {
	runDir string
	logger *logger.Logger
}

// NewCheckpointStore creates a store bound to runDir.
func NewCheckpointStore(runDir string, log *logger.Logger) *CheckpointStore {
	return &CheckpointStore{runDir: runDir, logger: log.With("component", "checkpoint_store")}
}

func (s *CheckpointStore) path() string { return filepath.Join(s.runDir, CheckpointFile) }

// Load reads the checkpoint back. A missing file returns (nil, false); so
// does any unreadable or malformed file, after a warning.
func (s *CheckpointStore) Load(ctx context.Context) (*Checkpoint, bool) {
	f, err := os.Open(s.path())
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn(ctx, "checkpoint unreadable, starting cold", "path", s.path(), "error", err)
		}
		return nil, false
	}
	defer f.Close()

	cp := &Checkpoint{Resubmissions: make(map[string]int)}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, " ")
		if !found {
			s.logger.Warn(ctx, "malformed checkpoint line, starting cold", "path", s.path(), "line", line)
			return nil, false
		}
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			s.logger.Warn(ctx, "malformed checkpoint value, starting cold", "path", s.path(), "line", line)
			return nil, false
		}

		switch key {
		case keyJobSequence:
			cp.JobSequence = n
		case keyLastOffset:
			cp.LastOffset = n
		case keyRestartCount:
			cp.RestartCount = int(n)
		default:
			cp.Resubmissions[key] = int(n)
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn(ctx, "checkpoint read failed, starting cold", "path", s.path(), "error", err)
		return nil, false
	}

	return cp, true
}

// Save overwrites the checkpoint atomically (write temp, rename). Per-job
// counters are written sorted by name so the file is deterministic.
func (s *CheckpointStore) Save(ctx context.Context, wf *tracking.Workflow) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d\n", keyJobSequence, wf.NextSubmitSeq())
	fmt.Fprintf(&b, "%s %d\n", keyLastOffset, wf.LastProcessed())
	fmt.Fprintf(&b, "%s %d\n", keyRestartCount, wf.RestartCount())
	for _, counter := range wf.Resubmissions() {
		fmt.Fprintf(&b, "%s %d\n", counter.Name, counter.Count)
	}

	tmp, err := os.CreateTemp(s.runDir, CheckpointFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing checkpoint: %w", err)
	}
	return nil
}
