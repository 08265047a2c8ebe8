package monitoring

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ahrav/dagwatch/internal/domain/tracking"
	"github.com/ahrav/dagwatch/pkg/common/logger"
)

// SubWorkflowResolver locates the run directory of the nested workflow a
// container job spawned. Runs are often monitored from a different mount than
// they were planned on, so declared paths are rebased from the original
// submit directory onto the current run directory.
//
// Not safe for concurrent use; each orchestrator owns one resolver.
type SubWorkflowResolver struct {
	runDir            string
	originalSubmitDir string

	// retries tracks, per base directory, how many times a container job has
	// been resolved. Each resubmission of the container lands in the next
	// numbered retry directory.
	retries map[string]int

	logger *logger.Logger
}

// NewSubWorkflowResolver creates a resolver for one workflow run.
func NewSubWorkflowResolver(runDir, originalSubmitDir string, log *logger.Logger) *SubWorkflowResolver {
	return &SubWorkflowResolver{
		runDir:            runDir,
		originalSubmitDir: originalSubmitDir,
		retries:           make(map[string]int),
		logger:            log.With("component", "subwf_resolver"),
	}
}

// Resolve returns the nested workflow's run directory for one resolution of
// the container job. Missing directories are skipped with a warning; the
// parent keeps tracking the container job either way.
func (r *SubWorkflowResolver) Resolve(ctx context.Context, inst *tracking.JobInstance, info tracking.JobStaticInfo) (string, bool) {
	base := r.baseDir(inst, info)
	if base == "" {
		r.logger.Warn(ctx, "container job declares no nested workflow location", "job", inst.Name())
		return "", false
	}

	retry := r.retries[base]
	r.retries[base]++

	candidate := fmt.Sprintf("%s.%03d", base, retry)
	if dirExists(candidate) {
		return candidate, true
	}
	fallback := fmt.Sprintf("%s.%03d", base, 0)
	if dirExists(fallback) {
		return fallback, true
	}
	if dirExists(base) {
		return base, true
	}

	r.logger.Warn(ctx, "nested workflow run directory not found, skipping",
		"job", inst.Name(), "base", base, "retry", retry)
	return "", false
}

// baseDir derives the unnumbered nested run directory from what the instance
// or the static description declares, rebased under the current run dir.
func (r *SubWorkflowResolver) baseDir(inst *tracking.JobInstance, info tracking.JobStaticInfo) string {
	if path := inst.NestedLogPath(); path != "" {
		return r.rebase(filepath.Dir(path))
	}
	if info.SubWorkflowDir != "" {
		return r.rebase(info.SubWorkflowDir)
	}
	if info.SubWorkflowDAG != "" {
		return r.rebase(filepath.Dir(info.SubWorkflowDAG))
	}
	return ""
}

// rebase maps a planner-time path into the current run directory.
func (r *SubWorkflowResolver) rebase(dir string) string {
	if !filepath.IsAbs(dir) {
		return filepath.Join(r.runDir, dir)
	}
	if r.originalSubmitDir != "" {
		if rel, err := filepath.Rel(r.originalSubmitDir, dir); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.Join(r.runDir, rel)
		}
	}
	return dir
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
