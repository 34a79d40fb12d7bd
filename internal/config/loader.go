package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/behouba/criu-coordinator/internal/session"
)

// Loader handles loading configuration from files, the environment and
// command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses args (without the program name) into a validated Config.
// Precedence, lowest first: defaults, config file, KEEP_LOGS, flags and
// positional arguments.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	flagSet := cmd.Flags()
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}
	settings := cfgViper.AllSettings()

	cfg := defaultConfig()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, settings); err != nil {
		return nil, err
	}

	if err := cfgViper.BindEnv("keep_logs", EnvKeepLogs); err != nil {
		return nil, err
	}
	if err := applyKeepLogs(cfg, cfgViper); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}
	if err := applyPositionals(cfg, flagSet.Args()); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Iterations: DefaultIterations,
		Command:    append([]string(nil), DefaultCommand...),
		OutputDir:  DefaultOutputDir,
		Retention:  session.RetainFailures,
		Delay:      DefaultDelay,
		KillGrace:  DefaultKillGrace,
		Color:      ColorAuto,
		Tracing: TracingConfig{
			Protocol:   "grpc",
			SampleRate: 1.0,
		},
	}
}

// applyKeepLogs maps KEEP_LOGS onto the retention policy. Unset or empty
// leaves the policy untouched.
func applyKeepLogs(cfg *Config, v *viper.Viper) error {
	if !v.IsSet("keep_logs") {
		return nil
	}
	raw := strings.TrimSpace(v.GetString("keep_logs"))
	if raw == "" {
		return nil
	}
	keep, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", EnvKeepLogs, raw, err)
	}
	if keep {
		cfg.Retention = session.RetainAll
	} else {
		cfg.Retention = session.RetainFailures
	}
	return nil
}

// applyPositionals reads the optional iteration count and command that follow
// the flags.
func applyPositionals(cfg *Config, rest []string) error {
	if len(rest) == 0 {
		return nil
	}
	n, err := strconv.Atoi(rest[0])
	if err != nil {
		return ValidationError{issues: []string{fmt.Sprintf("iteration count %q is not an integer", rest[0])}}
	}
	cfg.Iterations = n
	if len(rest) > 1 {
		cfg.Command = append([]string(nil), rest[1:]...)
	}
	return nil
}

// applyConfigSettings applies settings from a config file to the config.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	for key, value := range settings {
		switch strings.ToLower(key) {
		case "iterations":
			n, err := asInt(value)
			if err != nil {
				return fmt.Errorf("iterations: %w", err)
			}
			cfg.Iterations = n
		case "command":
			argv, err := asCommand(value)
			if err != nil {
				return fmt.Errorf("command: %w", err)
			}
			cfg.Command = argv
		case "output_dir":
			s, err := asString(value)
			if err != nil {
				return fmt.Errorf("output_dir: %w", err)
			}
			cfg.OutputDir = strings.TrimSpace(s)
		case "retention":
			s, err := asString(value)
			if err != nil {
				return fmt.Errorf("retention: %w", err)
			}
			cfg.Retention = session.RetentionPolicy(strings.ToLower(strings.TrimSpace(s)))
		case "delay":
			d, err := asDuration(value)
			if err != nil {
				return fmt.Errorf("delay: %w", err)
			}
			cfg.Delay = d
		case "kill_grace":
			d, err := asDuration(value)
			if err != nil {
				return fmt.Errorf("kill_grace: %w", err)
			}
			cfg.KillGrace = d
		case "fail_on_failures":
			b, err := asBool(value)
			if err != nil {
				return fmt.Errorf("fail_on_failures: %w", err)
			}
			cfg.FailOnFailures = b
		case "thresholds":
			list, err := asStringSlice(value)
			if err != nil {
				return fmt.Errorf("thresholds: %w", err)
			}
			cfg.Thresholds = list
		case "json_output":
			b, err := asBool(value)
			if err != nil {
				return fmt.Errorf("json_output: %w", err)
			}
			cfg.JSONOutput = b
		case "html_output":
			s, err := asString(value)
			if err != nil {
				return fmt.Errorf("html_output: %w", err)
			}
			cfg.HTMLOutput = strings.TrimSpace(s)
		case "metrics_file":
			s, err := asString(value)
			if err != nil {
				return fmt.Errorf("metrics_file: %w", err)
			}
			cfg.MetricsFile = strings.TrimSpace(s)
		case "color":
			s, err := asString(value)
			if err != nil {
				return fmt.Errorf("color: %w", err)
			}
			cfg.Color = ColorMode(strings.ToLower(strings.TrimSpace(s)))
		case "log_level":
			s, err := asString(value)
			if err != nil {
				return fmt.Errorf("log_level: %w", err)
			}
			cfg.LogLevel = s
		case "tracing":
			if err := applyTracingSettings(&cfg.Tracing, value); err != nil {
				return fmt.Errorf("tracing: %w", err)
			}
		}
	}
	return nil
}

func applyTracingSettings(t *TracingConfig, value interface{}) error {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if v, ok := lookupSetting(settings, "endpoint"); ok {
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		t.Endpoint = strings.TrimSpace(s)
	}
	if v, ok := lookupSetting(settings, "protocol"); ok {
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		t.Protocol = strings.ToLower(strings.TrimSpace(s))
	}
	if v, ok := lookupSetting(settings, "service_name", "serviceName"); ok {
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
		t.ServiceName = s
	}
	if v, ok := lookupSetting(settings, "insecure"); ok {
		b, err := asBool(v)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		t.Insecure = b
	}
	if v, ok := lookupSetting(settings, "sample_rate", "sampleRate"); ok {
		f, err := asFloat64(v)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		t.SampleRate = f
	}
	if v, ok := lookupSetting(settings, "propagate"); ok {
		b, err := asBool(v)
		if err != nil {
			return fmt.Errorf("propagate: %w", err)
		}
		t.Propagate = b
	}
	return nil
}
