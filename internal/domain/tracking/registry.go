package tracking

import (
	"sync"

	"github.com/google/uuid"
)

// Membership links one run directory to its place in the workflow hierarchy.
type Membership struct {
	WorkflowID uuid.UUID
	ParentID   uuid.UUID
}

// WorkflowRegistry maps run directories to workflow identities for the whole
// monitored hierarchy. The process owner registers every workflow as it is
// discovered; parent orchestrators consult it to link container jobs to the
// sub-workflow they spawned.
//
// Safe for concurrent use by the per-workflow orchestrator goroutines.
type WorkflowRegistry struct {
	mu      sync.RWMutex
	entries map[string]Membership
}

// NewWorkflowRegistry creates an empty registry.
func NewWorkflowRegistry() *WorkflowRegistry {
	return &WorkflowRegistry{entries: make(map[string]Membership)}
}

// Register records the identity of the workflow running in runDir.
func (r *WorkflowRegistry) Register(runDir string, m Membership) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[runDir] = m
}

// Lookup returns the identity of the workflow running in runDir.
func (r *WorkflowRegistry) Lookup(runDir string) (Membership, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.entries[runDir]
	return m, ok
}

// Len returns the number of registered run directories.
func (r *WorkflowRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
