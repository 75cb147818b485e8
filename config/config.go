package config

import (
	"fmt"
	"net"
	"time"

	"github.com/robmorgan/halodeck/crossfade"
	"github.com/robmorgan/halodeck/tempo"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables overriding configuration keys.
const EnvPrefix = "HALODECK"

// Config represents options that configure the global behavior of the program
type Config struct {
	Verbose      bool   `mapstructure:"verbose"`
	LogLevel     string `mapstructure:"log_level"`
	OutputFormat string `mapstructure:"output_format"`

	Analysis AnalysisConfig `mapstructure:"analysis"`
	Deck     DeckConfig     `mapstructure:"deck"`
	Mixer    MixerConfig    `mapstructure:"mixer"`
	OSC      OSCConfig      `mapstructure:"osc"`
	Output   OutputConfig   `mapstructure:"output"`
}

// AnalysisConfig tunes bpm detection
type AnalysisConfig struct {
	BufferSize       int           `mapstructure:"buffer_size"`
	FrameInterval    time.Duration `mapstructure:"frame_interval"`
	SamplesPerSecond float64       `mapstructure:"samples_per_second"`
	MaxSeconds       float64       `mapstructure:"max_seconds"`
}

// Options converts the analysis settings for the estimator.
func (c AnalysisConfig) Options() tempo.Options {
	return tempo.Options{
		BufferSize:       c.BufferSize,
		FrameInterval:    c.FrameInterval,
		SamplesPerSecond: c.SamplesPerSecond,
		MaxSeconds:       c.MaxSeconds,
	}
}

type DeckConfig struct {
	Volume float64 `mapstructure:"volume"`
}

type MixerConfig struct {
	Crossfader float64 `mapstructure:"crossfader"`
	Curve      string  `mapstructure:"curve"`
}

// OSCConfig configures the control surface. Feedback is the host:port receiving state updates, empty to disable.
type OSCConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Listen   string `mapstructure:"listen"`
	Feedback string `mapstructure:"feedback"`
}

// OutputConfig configures the speaker
type OutputConfig struct {
	Buffer time.Duration `mapstructure:"buffer"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	defaults := tempo.DefaultOptions()

	v.SetDefault("verbose", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("output_format", "table")

	v.SetDefault("analysis.buffer_size", defaults.BufferSize)
	v.SetDefault("analysis.frame_interval", defaults.FrameInterval.String())
	v.SetDefault("analysis.samples_per_second", defaults.SamplesPerSecond)
	v.SetDefault("analysis.max_seconds", defaults.MaxSeconds)

	v.SetDefault("deck.volume", 0.8)

	v.SetDefault("mixer.crossfader", crossfade.Center)
	v.SetDefault("mixer.curve", string(crossfade.EqualPower))

	v.SetDefault("osc.enabled", true)
	v.SetDefault("osc.listen", "127.0.0.1:8765")
	v.SetDefault("osc.feedback", "")

	v.SetDefault("output.buffer", "100ms")
}

// Load decodes the configuration held by v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	config := &Config{}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode configuration: %w", err)
	}
	if err := Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks that every setting is usable
func Validate(config *Config) error {
	switch config.OutputFormat {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unsupported output format %q", config.OutputFormat)
	}

	if config.Analysis.BufferSize <= 0 {
		return fmt.Errorf("analysis buffer size must be positive")
	}
	if config.Analysis.FrameInterval <= 0 {
		return fmt.Errorf("analysis frame interval must be positive")
	}
	if config.Analysis.SamplesPerSecond <= 0 || config.Analysis.MaxSeconds <= 0 {
		return fmt.Errorf("analysis sample budget must be positive")
	}

	if config.Deck.Volume < 0 || config.Deck.Volume > 1 {
		return fmt.Errorf("deck volume must be between 0 and 1")
	}
	if config.Mixer.Crossfader < 0 || config.Mixer.Crossfader > 1 {
		return fmt.Errorf("crossfader must be between 0 and 1")
	}
	if _, err := crossfade.ParseCurve(config.Mixer.Curve); err != nil {
		return err
	}

	if config.OSC.Enabled {
		if _, _, err := net.SplitHostPort(config.OSC.Listen); err != nil {
			return fmt.Errorf("invalid osc listen address: %w", err)
		}
	}
	if config.OSC.Feedback != "" {
		if _, _, err := net.SplitHostPort(config.OSC.Feedback); err != nil {
			return fmt.Errorf("invalid osc feedback address: %w", err)
		}
	}

	if config.Output.Buffer <= 0 {
		return fmt.Errorf("output buffer must be positive")
	}

	return nil
}
