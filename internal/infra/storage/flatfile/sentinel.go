package flatfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ahrav/dagwatch/pkg/common/logger"
)

// Sentinel files bracketing one monitor run of a workflow.
const (
	StartedFile = "monitord.started"
	DoneFile    = "monitord.done"
)

// SentinelStore writes the started/done sentinels external tooling polls to
// learn whether a monitor is attached to a run directory. Sentinels are
// advisory; write failures are logged and ignored.
type SentinelStore struct {
	runDir string
	logger *logger.Logger
}

// NewSentinelStore creates a store bound to runDir.
func NewSentinelStore(runDir string, log *logger.Logger) *SentinelStore {
	return &SentinelStore{runDir: runDir, logger: log.With("component", "sentinel_store")}
}

// MarkStarted writes the start sentinel (pid and timestamp) and clears any
// stale done sentinel from a previous run.
func (s *SentinelStore) MarkStarted(ctx context.Context, now time.Time) {
	path := filepath.Join(s.runDir, StartedFile)
	content := fmt.Sprintf("pid %d\nstarted %s\n", os.Getpid(), now.UTC().Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		s.logger.Warn(ctx, "failed to write start sentinel", "path", path, "error", err)
	}
	if err := os.Remove(filepath.Join(s.runDir, DoneFile)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn(ctx, "failed to remove stale done sentinel", "error", err)
	}
}

// MarkDone writes the done sentinel (timestamp and elapsed seconds) and
// removes the start sentinel.
func (s *SentinelStore) MarkDone(ctx context.Context, now time.Time, elapsed time.Duration) {
	path := filepath.Join(s.runDir, DoneFile)
	content := fmt.Sprintf("finished %s\nelapsed %.0f\n", now.UTC().Format(time.RFC3339), elapsed.Seconds())
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		s.logger.Warn(ctx, "failed to write done sentinel", "path", path, "error", err)
	}
	if err := os.Remove(filepath.Join(s.runDir, StartedFile)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn(ctx, "failed to remove start sentinel", "error", err)
	}
}
