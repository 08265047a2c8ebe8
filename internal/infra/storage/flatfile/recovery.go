package flatfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ahrav/dagwatch/pkg/common/logger"
)

// RecoveryFile marks in-flight progress. Its presence at startup means the
// previous monitor instance died mid-run.
const RecoveryFile = "monitord.recover"

const recoveryKey = "line_processed"

// RecoveryStore maintains the single-line recovery marker for one run
// directory. The marker is rewritten as progress is made and removed on a
// clean workflow end; marker loss degrades a restart into duplicate sink
// events at worst, so failures are logged, never fatal.
type RecoveryStore struct {
	runDir string
	logger *logger.Logger
}

// NewRecoveryStore creates a store bound to runDir.
func NewRecoveryStore(runDir string, log *logger.Logger) *RecoveryStore {
	return &RecoveryStore{runDir: runDir, logger: log.With("component", "recovery_store")}
}

func (s *RecoveryStore) path() string { return filepath.Join(s.runDir, RecoveryFile) }

// Load returns the marker's offset. (0, false) when no marker exists or it
// cannot be read.
func (s *RecoveryStore) Load(ctx context.Context) (int64, bool) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn(ctx, "recovery marker unreadable, assuming clean start", "path", s.path(), "error", err)
		}
		return 0, false
	}

	line := strings.TrimSpace(string(data))
	key, value, found := strings.Cut(line, " ")
	if !found || key != recoveryKey {
		s.logger.Warn(ctx, "malformed recovery marker, assuming clean start", "path", s.path(), "line", line)
		return 0, false
	}
	offset, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		s.logger.Warn(ctx, "malformed recovery marker offset, assuming clean start", "path", s.path(), "line", line)
		return 0, false
	}
	return offset, true
}

// Save rewrites the marker with the latest fully processed offset.
func (s *RecoveryStore) Save(ctx context.Context, offset int64) error {
	line := fmt.Sprintf("%s %d\n", recoveryKey, offset)
	if err := os.WriteFile(s.path(), []byte(line), 0o644); err != nil {
		return fmt.Errorf("writing recovery marker: %w", err)
	}
	return nil
}

// Remove deletes the marker on clean workflow end.
func (s *RecoveryStore) Remove(ctx context.Context) {
	if err := os.Remove(s.path()); err != nil && !os.IsNotExist(err) {
		s.logger.Warn(ctx, "failed to remove recovery marker", "path", s.path(), "error", err)
	}
}
