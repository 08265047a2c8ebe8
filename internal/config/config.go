package config

import "time"

// SinkType enumerates the supported event sink backends.
type SinkType string

const (
	SinkTypeFile   SinkType = "file"   // newline-delimited JSON file
	SinkTypeMemory SinkType = "memory" // in-process buffer, mostly for tests
	SinkTypeNone   SinkType = "none"   // discard events, replay log only
)

// Config represents the top-level configuration.
type Config struct {
	Workflows []WorkflowTarget `yaml:"workflows"`
	Sink      SinkConfig       `yaml:"sink"`
	Monitor   MonitorConfig    `yaml:"monitor"`
}

// WorkflowTarget names one root workflow run directory to monitor.
// Sub-workflow run directories are discovered at runtime, never listed here.
type WorkflowTarget struct {
	Name   string `yaml:"name,omitempty"`
	RunDir string `yaml:"run_dir"`
}

// SinkConfig selects and parameterizes the normalized event sink.
type SinkConfig struct {
	Type SinkType `yaml:"type"`

	// Path is the event file location for the file sink, relative paths
	// resolved against the run directory.
	Path string `yaml:"path,omitempty"`

	// Retry bounds the redelivery attempts before the sink is disabled for
	// the remainder of the run.
	Retry RetryConfig `yaml:"retry,omitempty"`
}

// RetryConfig defines bounded backoff for sink delivery.
type RetryConfig struct {
	// MaxAttempts is how many times to retry before giving up.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// InitialWait is the initial backoff duration (e.g., 1s).
	InitialWait time.Duration `yaml:"initial_wait,omitempty"`

	// MaxWait is the upper bound for the backoff (e.g., 30s).
	MaxWait time.Duration `yaml:"max_wait,omitempty"`
}

// MonitorConfig tunes the tracking engine itself.
type MonitorConfig struct {
	// CheckpointInterval is how often counters are persisted while signals
	// keep arriving. Progress markers are additionally throttled to at most
	// MarkerWritesPerSec writes per second.
	CheckpointInterval time.Duration `yaml:"checkpoint_interval,omitempty"`
	MarkerWritesPerSec float64       `yaml:"marker_writes_per_sec,omitempty"`

	// MaxOutputLength caps captured stdout/stderr carried on job completion
	// events, in bytes.
	MaxOutputLength int `yaml:"max_output_length,omitempty"`

	// PollInterval is how long the tailer sleeps when the controller log has
	// no new data.
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
}

// Default values applied by Normalize.
const (
	DefaultCheckpointInterval = 30 * time.Second
	DefaultMarkerWritesPerSec = 1.0
	DefaultMaxOutputLength    = 65535
	DefaultPollInterval       = 5 * time.Second
	DefaultRetryMaxAttempts   = 3
	DefaultRetryInitialWait   = time.Second
	DefaultRetryMaxWait       = 30 * time.Second
)

// Normalize fills unset fields with defaults.
func (c *Config) Normalize() {
	if c.Sink.Type == "" {
		c.Sink.Type = SinkTypeFile
	}
	if c.Sink.Retry.MaxAttempts == 0 {
		c.Sink.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}
	if c.Sink.Retry.InitialWait == 0 {
		c.Sink.Retry.InitialWait = DefaultRetryInitialWait
	}
	if c.Sink.Retry.MaxWait == 0 {
		c.Sink.Retry.MaxWait = DefaultRetryMaxWait
	}
	if c.Monitor.CheckpointInterval == 0 {
		c.Monitor.CheckpointInterval = DefaultCheckpointInterval
	}
	if c.Monitor.MarkerWritesPerSec == 0 {
		c.Monitor.MarkerWritesPerSec = DefaultMarkerWritesPerSec
	}
	if c.Monitor.MaxOutputLength == 0 {
		c.Monitor.MaxOutputLength = DefaultMaxOutputLength
	}
	if c.Monitor.PollInterval == 0 {
		c.Monitor.PollInterval = DefaultPollInterval
	}
}
