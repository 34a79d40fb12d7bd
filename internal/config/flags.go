package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/behouba/criu-coordinator/internal/session"
)

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "flakerun [flags] [iterations] [command [args...]]",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	flags := cmd.Flags()
	// Everything after the iteration count belongs to the repeated command.
	flags.SetInterspersed(false)
	configureFlags(flags)
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Session flags
	flags.StringP("output-dir", "o", DefaultOutputDir, "Directory that receives one timestamped folder per session")
	flags.String("retention", string(session.RetainFailures), "Which run logs to keep: failures-only or all (KEEP_LOGS=1 selects all)")
	flags.Duration("delay", DefaultDelay, "Pause between the end of one run and the start of the next")
	flags.Duration("kill-grace", DefaultKillGrace, "Time an interrupted command gets to exit before it is killed")

	// Exit policy flags
	flags.Bool("fail-on-failures", false, "Exit with status 1 when any run failed")
	flags.StringSlice("threshold", nil, "Reliability thresholds (repeatable, e.g., 'run_failed:rate < 5')")

	// Output flags
	flags.Bool("json-output", false, "Emit the session report as JSON on stdout")
	flags.String("html-output", "", "Generate HTML report to the specified file path")
	flags.String("metrics-file", "", "Write session metrics in Prometheus text format to this path")
	flags.String("color", string(ColorAuto), "Colorize output: auto, always or never")
	flags.String("log-level", "", "Diagnostics level: debug, info, warn or error")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP endpoint for session and run spans")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.String("tracing-service-name", "", "Service name reported with spans")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of sessions to sample (0.0-1.0)")
	flags.Bool("tracing-propagate", false, "Pass TRACEPARENT to the repeated command")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\n", cmd.UseLine())
	fmt.Fprintf(out, "Runs the command (default %q) the given number of times (default %d).\n\nFlags:\n",
		strings.Join(DefaultCommand, " "), DefaultIterations)
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file and the environment.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("output-dir") {
		val, err := fs.GetString("output-dir")
		if err != nil {
			return err
		}
		cfg.OutputDir = strings.TrimSpace(val)
	}
	if fs.Changed("retention") {
		val, err := fs.GetString("retention")
		if err != nil {
			return err
		}
		cfg.Retention = session.RetentionPolicy(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("delay") {
		val, err := fs.GetDuration("delay")
		if err != nil {
			return err
		}
		cfg.Delay = val
	}
	if fs.Changed("kill-grace") {
		val, err := fs.GetDuration("kill-grace")
		if err != nil {
			return err
		}
		cfg.KillGrace = val
	}
	if fs.Changed("fail-on-failures") {
		val, err := fs.GetBool("fail-on-failures")
		if err != nil {
			return err
		}
		cfg.FailOnFailures = val
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = append(cfg.Thresholds, val...)
	}
	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("html-output") {
		val, err := fs.GetString("html-output")
		if err != nil {
			return err
		}
		cfg.HTMLOutput = strings.TrimSpace(val)
	}
	if fs.Changed("metrics-file") {
		val, err := fs.GetString("metrics-file")
		if err != nil {
			return err
		}
		cfg.MetricsFile = strings.TrimSpace(val)
	}
	if fs.Changed("color") {
		val, err := fs.GetString("color")
		if err != nil {
			return err
		}
		cfg.Color = ColorMode(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.LogLevel = val
	}
	return applyTracingFlagOverrides(&cfg.Tracing, fs)
}

func applyTracingFlagOverrides(t *TracingConfig, fs *pflag.FlagSet) error {
	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		t.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-service-name") {
		val, err := fs.GetString("tracing-service-name")
		if err != nil {
			return err
		}
		t.ServiceName = val
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		t.Insecure = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		t.SampleRate = val
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		t.Propagate = val
	}
	return nil
}
