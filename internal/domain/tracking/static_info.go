package tracking

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// JobStaticInfo describes one job name in the workflow's static description.
// There is one value per name, shared read-only by every instance of that
// name. Empty strings mean "not declared".
type JobStaticInfo struct {
	// SubmitFile is the path to the job's main submit file, absolute once
	// loaded. Empty for pure container jobs.
	SubmitFile string

	PreExecutable string
	PreArguments  string

	PostExecutable string
	PostArguments  string

	// IsSubWorkflow marks jobs whose execution is itself a nested workflow
	// run. Such jobs never have their captured output parsed for task
	// records.
	IsSubWorkflow  bool
	SubWorkflowDAG string
	SubWorkflowDir string
}

// HasPostScript reports whether instances of this job run a post-script,
// which decides where the terminal state of an attempt lives.
func (i JobStaticInfo) HasPostScript() bool { return i.PostExecutable != "" }

// Patterns for the workflow's static job description.
var (
	reJobLine    = regexp.MustCompile(`(?i)JOB\s+(\S+)\s(\S+)(\s+DONE)?`)
	reScriptLine = regexp.MustCompile(`(?i)SCRIPT (?:PRE|POST)\s+(\S+)\s(\S+)\s(.*)`)
	reSubDAGLine = regexp.MustCompile(`(?i)SUBDAG EXTERNAL\s+(\S+)\s(\S+)\s?(?:DIR)?\s?(\S+)?`)
)

// LoadStaticInfo parses the workflow's static job description file and
// returns the per-name table. Jobs flagged DONE (rescue runs) are skipped:
// they will never produce signals. The whole table is loaded before any
// signal processing begins, so a signal naming an unknown job stays unknown
// for the rest of the run.
func LoadStaticInfo(runDir, dagFile string) (map[string]JobStaticInfo, error) {
	path := filepath.Join(runDir, dagFile)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening job description %s: %w", path, err)
	}
	defer f.Close()

	table := make(map[string]JobStaticInfo)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		lower := strings.ToLower(line)

		switch {
		case strings.Contains(lower, "script post"):
			if m := reScriptLine.FindStringSubmatch(line); m != nil {
				info := table[m[1]]
				info.PostExecutable = m[2]
				info.PostArguments = m[3]
				table[m[1]] = info
			}
		case strings.Contains(lower, "script pre"):
			if m := reScriptLine.FindStringSubmatch(line); m != nil {
				info := table[m[1]]
				info.PreExecutable = m[2]
				info.PreArguments = m[3]
				table[m[1]] = info
			}
		case strings.Contains(lower, "subdag external"):
			if m := reSubDAGLine.FindStringSubmatch(line); m != nil {
				info := table[m[1]]
				info.IsSubWorkflow = true
				info.SubWorkflowDAG = m[2]
				if m[3] != "" {
					info.SubWorkflowDir = m[3]
				} else {
					info.SubWorkflowDir = filepath.Dir(m[2])
				}
				table[m[1]] = info
			}
		case strings.Contains(lower, "job"):
			if m := reJobLine.FindStringSubmatch(line); m != nil {
				if m[3] != "" {
					// DONE job from a rescue run, nothing to track.
					continue
				}
				info := table[m[1]]
				info.SubmitFile = filepath.Join(runDir, m[2])
				table[m[1]] = info
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading job description %s: %w", path, err)
	}

	return table, nil
}
