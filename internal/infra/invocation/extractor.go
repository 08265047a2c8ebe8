// Package invocation recovers per-task records from the captured output the
// job launcher writes for every attempt. The capture is best effort: a
// missing or garbled file degrades the attempt's events, never the run.
package invocation

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ahrav/dagwatch/internal/domain/tracking"
	"github.com/ahrav/dagwatch/pkg/common/logger"
)

// FileExtractor reads rotated captured-output files from the run directory
// and parses the launcher's invocation records out of them. It implements
// tracking.InvocationExtractor.
type FileExtractor struct{ logger *logger.Logger }

// NewFileExtractor creates an extractor.
func NewFileExtractor(log *logger.Logger) *FileExtractor {
	return &FileExtractor{logger: log.With("component", "invocation_extractor")}
}

var _ tracking.InvocationExtractor = (*FileExtractor)(nil)

// Extract reads the attempt's captured output and returns its task records
// plus the raw stdout/stderr. The rotated name for the attempt's counter is
// preferred; the unrotated and first-rotation names cover launchers that do
// not rotate.
func (e *FileExtractor) Extract(ctx context.Context, runDir, jobName string, rotation int) (tracking.Extraction, bool) {
	stdout, stdoutPath := e.readFirst(ctx, runDir, jobName, "out", rotation)
	stderr, stderrPath := e.readFirst(ctx, runDir, jobName, "err", rotation)
	if stdoutPath == "" && stderrPath == "" {
		e.logger.Debug(ctx, "no captured output for job", "job", jobName, "rotation", rotation)
		return tracking.Extraction{}, false
	}

	ext := tracking.Extraction{
		StdoutText: stdout,
		StderrText: stderr,
	}
	if stdoutPath != "" {
		ext.StdoutFile = filepath.Base(stdoutPath)
	}
	if stderrPath != "" {
		ext.StderrFile = filepath.Base(stderrPath)
	}

	ext.Records = parseRecords(stdout)
	if len(ext.Records) == 0 {
		e.logger.Warn(ctx, "captured output held no invocation records", "path", stdoutPath)
	}
	for i := range ext.Records {
		ext.Records[i].TaskID = i + 1
	}
	return ext, true
}

// readFirst returns the content and path of the first existing candidate
// output file for the given stream extension.
func (e *FileExtractor) readFirst(ctx context.Context, runDir, jobName, ext string, rotation int) (string, string) {
	candidates := []string{
		filepath.Join(runDir, fmt.Sprintf("%s.%s.%03d", jobName, ext, rotation)),
		filepath.Join(runDir, fmt.Sprintf("%s.%s", jobName, ext)),
		filepath.Join(runDir, fmt.Sprintf("%s.%s.%03d", jobName, ext, 0)),
	}
	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err == nil {
			return string(data), candidate
		}
		if !os.IsNotExist(err) {
			e.logger.Warn(ctx, "captured output unreadable", "path", candidate, "error", err)
		}
	}
	return "", ""
}

// invocationDoc mirrors the launcher's per-task XML record, reduced to the
// fields the projection needs.
type invocationDoc struct {
	Start          string  `xml:"start,attr"`
	Duration       float64 `xml:"duration,attr"`
	Transformation string  `xml:"transformation,attr"`
	Derivation     string  `xml:"derivation,attr"`
	Resource       string  `xml:"resource,attr"`
	Hostname       string  `xml:"hostname,attr"`
	HostAddr       string  `xml:"hostaddr,attr"`
	User           string  `xml:"user,attr"`

	Cwd string `xml:"cwd"`

	MainJob struct {
		StatCall struct {
			File struct {
				Name string `xml:"name,attr"`
			} `xml:"file"`
		} `xml:"statcall"`
		Arguments struct {
			Args []string `xml:"arg"`
		} `xml:"argument-vector"`
	} `xml:"mainjob"`

	Status struct {
		Raw     int `xml:"raw,attr"`
		Regular struct {
			ExitCode int `xml:"exitcode,attr"`
		} `xml:"regular"`
	} `xml:"status"`
}

// parseRecords pulls every invocation document out of the captured output.
// The launcher concatenates one XML document per task, interleaved with raw
// job output, so the text is scanned for document boundaries rather than
// decoded wholesale.
func parseRecords(text string) []tracking.InvocationRecord {
	var records []tracking.InvocationRecord

	rest := text
	for {
		start := strings.Index(rest, "<invocation")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start:], "</invocation>")
		if end < 0 {
			break
		}
		doc := rest[start : start+end+len("</invocation>")]
		rest = rest[start+end+len("</invocation>"):]

		var inv invocationDoc
		if err := xml.Unmarshal([]byte(doc), &inv); err != nil {
			continue
		}
		records = append(records, toRecord(inv))
	}
	return records
}

func toRecord(inv invocationDoc) tracking.InvocationRecord {
	startTime, _ := time.Parse(time.RFC3339, inv.Start)
	return tracking.InvocationRecord{
		Transformation: inv.Transformation,
		Derivation:     inv.Derivation,
		Executable:     inv.MainJob.StatCall.File.Name,
		Arguments:      strings.Join(inv.MainJob.Arguments.Args, " "),
		Start:          startTime,
		Duration:       inv.Duration,
		ExitCode:       inv.Status.Regular.ExitCode,
		RawStatus:      inv.Status.Raw,
		Hostname:       inv.Hostname,
		HostIP:         inv.HostAddr,
		User:           inv.User,
		Site:           inv.Resource,
		WorkDir:        strings.TrimSpace(inv.Cwd),
	}
}
