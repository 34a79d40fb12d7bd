package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/behouba/criu-coordinator/internal/session"
)

// Defaults applied before the config file, environment and flags.
const (
	DefaultIterations = 100
	DefaultOutputDir  = "flakerun-logs"
	DefaultDelay      = time.Second
	DefaultKillGrace  = 10 * time.Second
)

// DefaultCommand is repeated when no command is given.
var DefaultCommand = []string{"make", "test"}

// EnvKeepLogs switches the retention policy: unset or 0 keeps failures only,
// 1 keeps every run log.
const EnvKeepLogs = "KEEP_LOGS"

type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

type Config struct {
	Iterations     int                     `mapstructure:"iterations"`
	Command        []string                `mapstructure:"command"`
	OutputDir      string                  `mapstructure:"output_dir"`
	Retention      session.RetentionPolicy `mapstructure:"retention"`
	Delay          time.Duration           `mapstructure:"delay"`
	KillGrace      time.Duration           `mapstructure:"kill_grace"`
	FailOnFailures bool                    `mapstructure:"fail_on_failures"`
	Thresholds     []string                `mapstructure:"thresholds"`
	JSONOutput     bool                    `mapstructure:"json_output"`
	HTMLOutput     string                  `mapstructure:"html_output"`
	MetricsFile    string                  `mapstructure:"metrics_file"`
	Color          ColorMode               `mapstructure:"color"`
	LogLevel       string                  `mapstructure:"log_level"`
	ConfigFile     string                  `mapstructure:"-"`
	Tracing        TracingConfig           `mapstructure:"tracing"`
}

// TracingConfig configures OpenTelemetry export of session and run spans.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	ServiceName string  `mapstructure:"service_name"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Propagate   bool    `mapstructure:"propagate"` // export TRACEPARENT to the command
}

// Enabled reports whether an OTLP endpoint is configured, either explicitly
// or through the standard OTEL_EXPORTER_OTLP_ENDPOINT variable.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate reports whether trace context is handed to the command.
func (t TracingConfig) ShouldPropagate() bool {
	return t.Propagate
}

// Session builds the immutable session description from the config.
func (c Config) Session() session.Session {
	policy, err := session.ParseRetentionPolicy(string(c.Retention))
	if err != nil {
		policy = session.RetainFailures
	}
	return session.New(c.Iterations, c.Command, policy, c.Delay)
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if c.Iterations < 0 {
		issues = append(issues, "iteration count must be >= 0")
	}
	if len(c.Command) == 0 || strings.TrimSpace(c.Command[0]) == "" {
		issues = append(issues, "command is required")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		issues = append(issues, "output directory is required")
	}
	if _, err := session.ParseRetentionPolicy(string(c.Retention)); err != nil {
		issues = append(issues, err.Error())
	}
	if c.Delay < 0 {
		issues = append(issues, "delay must be >= 0")
	}
	if c.KillGrace < 0 {
		issues = append(issues, "kill grace must be >= 0")
	}

	switch c.Color {
	case ColorAuto, ColorAlways, ColorNever, "":
	default:
		issues = append(issues, fmt.Sprintf("color must be auto, always or never (got %q)", c.Color))
	}

	issues = append(issues, validateTracingConfig(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateTracingConfig(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(strings.TrimSpace(t.Protocol)) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing protocol must be grpc or http (got %q)", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, "tracing sample_rate must be between 0.0 and 1.0")
	}
	return issues
}
