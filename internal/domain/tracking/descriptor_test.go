package tracking

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDescriptor(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DescriptorFile), []byte(content), 0o644))
	return dir
}

func TestLoadDescriptor(t *testing.T) {
	t.Parallel()

	wfID := uuid.New()
	rootID := uuid.New()
	dir := writeDescriptor(t, `
wf_uuid: `+wfID.String()+`
root_wf_uuid: `+rootID.String()+`
wf_name: diamond
dag: workflow.dag
submit_dir: /submit/run0001
submit_hostname: submit.example.org
user: alice
planner_version: 5.0.1
`)

	desc, err := LoadDescriptor(dir)
	require.NoError(t, err)
	assert.Equal(t, wfID, desc.WorkflowID)
	assert.Equal(t, rootID, desc.RootID)
	assert.Equal(t, "diamond", desc.WorkflowName)
	assert.Equal(t, "workflow.dag", desc.DAGFile)
	assert.Equal(t, "/submit/run0001", desc.SubmitDir)
	assert.Equal(t, "alice", desc.User)
}

func TestLoadDescriptor_RootDefaultsToSelf(t *testing.T) {
	t.Parallel()

	wfID := uuid.New()
	dir := writeDescriptor(t, "wf_uuid: "+wfID.String()+"\ndag: workflow.dag\n")

	desc, err := LoadDescriptor(dir)
	require.NoError(t, err)
	assert.Equal(t, wfID, desc.RootID)
}

func TestLoadDescriptor_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{name: "missing wf_uuid", content: "dag: workflow.dag\n"},
		{name: "missing dag", content: "wf_uuid: " + uuid.NewString() + "\n"},
		{name: "bad uuid", content: "wf_uuid: not-a-uuid\ndag: workflow.dag\n"},
		{name: "not yaml", content: "{{{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := writeDescriptor(t, tt.content)
			_, err := LoadDescriptor(dir)
			assert.Error(t, err)
		})
	}
}

func TestLoadDescriptor_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadDescriptor(t.TempDir())
	assert.Error(t, err)
}
