package tracking

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DescriptorFile is the planner-written metadata file in every run directory.
const DescriptorFile = "braindump.yml"

// Descriptor carries the planner metadata for one workflow run. The planner
// writes it into the run directory before the controller starts; it is the
// source of the workflow's identity and of the fields on the planning event.
type Descriptor struct {
	WorkflowID   uuid.UUID
	RootID       uuid.UUID
	WorkflowName string

	// DAGFile is the static job description file, relative to the run dir.
	DAGFile string

	SubmitDir      string
	SubmitHostname string
	User           string
	GridDN         string

	PlannerVersion   string
	PlannerArguments string
	Timestamp        time.Time
}

// rawDescriptor is the on-disk yaml shape. Identifiers stay strings here
// because the yaml decoder does not understand uuid values directly.
type rawDescriptor struct {
	WorkflowID   string `yaml:"wf_uuid"`
	RootID       string `yaml:"root_wf_uuid"`
	WorkflowName string `yaml:"wf_name"`

	DAGFile string `yaml:"dag"`

	SubmitDir      string `yaml:"submit_dir"`
	SubmitHostname string `yaml:"submit_hostname"`
	User           string `yaml:"user"`
	GridDN         string `yaml:"grid_dn"`

	PlannerVersion   string    `yaml:"planner_version"`
	PlannerArguments string    `yaml:"planner_arguments"`
	Timestamp        time.Time `yaml:"timestamp"`
}

// LoadDescriptor reads and validates the planner descriptor of a run
// directory.
func LoadDescriptor(runDir string) (Descriptor, error) {
	path := filepath.Join(runDir, DescriptorFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("reading workflow descriptor %s: %w", path, err)
	}

	var raw rawDescriptor
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Descriptor{}, fmt.Errorf("parsing workflow descriptor %s: %w", path, err)
	}
	if raw.WorkflowID == "" {
		return Descriptor{}, fmt.Errorf("workflow descriptor %s: missing wf_uuid", path)
	}
	if raw.DAGFile == "" {
		return Descriptor{}, fmt.Errorf("workflow descriptor %s: missing dag", path)
	}

	wfID, err := uuid.Parse(raw.WorkflowID)
	if err != nil {
		return Descriptor{}, fmt.Errorf("workflow descriptor %s: invalid wf_uuid: %w", path, err)
	}

	rootID := wfID
	if raw.RootID != "" {
		rootID, err = uuid.Parse(raw.RootID)
		if err != nil {
			return Descriptor{}, fmt.Errorf("workflow descriptor %s: invalid root_wf_uuid: %w", path, err)
		}
	}

	return Descriptor{
		WorkflowID:       wfID,
		RootID:           rootID,
		WorkflowName:     raw.WorkflowName,
		DAGFile:          raw.DAGFile,
		SubmitDir:        raw.SubmitDir,
		SubmitHostname:   raw.SubmitHostname,
		User:             raw.User,
		GridDN:           raw.GridDN,
		PlannerVersion:   raw.PlannerVersion,
		PlannerArguments: raw.PlannerArguments,
		Timestamp:        raw.Timestamp,
	}, nil
}
