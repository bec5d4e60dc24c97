// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file. Unset values are nil.
type FileConfig struct {
	Acquisition AcquisitionConfig        `toml:"acquisition"`
	Channel     map[string]ChannelConfig `toml:"channel"`
	Trigger     TriggerConfig            `toml:"trigger"`
	Stimulus    StimulusConfig           `toml:"stimulus"`
	Output      OutputConfig             `toml:"output"`
	Metrics     MetricsConfig            `toml:"metrics"`
}

// AcquisitionConfig maps capture timing and loop settings. Durations use
// time.ParseDuration syntax.
type AcquisitionConfig struct {
	Device       *string  `toml:"device"`
	Samples      *int     `toml:"samples"`
	PreTrigger   *float64 `toml:"pre-trigger"`
	Timebase     *int     `toml:"timebase"`
	PollInterval *string  `toml:"poll-interval"`
	MaxWait      *string  `toml:"max-wait"`
	RetryBackoff *string  `toml:"retry-backoff"`
	Events       *int     `toml:"events"`
}

// ChannelConfig maps one [channel.x] table.
type ChannelConfig struct {
	Enabled  *bool    `toml:"enabled"`
	Coupling *string  `toml:"coupling"`
	Range    *string  `toml:"range"`
	Offset   *float64 `toml:"offset"`
}

// TriggerConfig maps the trigger thresholds and directions.
type TriggerConfig struct {
	LevelMV       *float64 `toml:"level-mv"`
	Hysteresis    *int     `toml:"hysteresis"`
	DirectionA    *string  `toml:"direction-a"`
	DirectionB    *string  `toml:"direction-b"`
	AutoTriggerMs *int     `toml:"auto-trigger-ms"`
}

// StimulusConfig maps the signal generator settings.
type StimulusConfig struct {
	Enabled       *bool    `toml:"enabled"`
	Wave          *string  `toml:"wave"`
	OffsetMicroV  *int     `toml:"offset-uv"`
	PkToPkMicroV  *int     `toml:"pk-pk-uv"`
	StartHz       *float64 `toml:"start-hz"`
	StopHz        *float64 `toml:"stop-hz"`
	Shots         *int     `toml:"shots"`
	Sweeps        *int     `toml:"sweeps"`
	TriggerType   *string  `toml:"trigger-type"`
	TriggerSource *string  `toml:"trigger-source"`
}

// OutputConfig maps artifact and index locations.
type OutputConfig struct {
	Dir *string `toml:"dir"`
	DB  *string `toml:"db"`
}

// MetricsConfig maps the metrics listener.
type MetricsConfig struct {
	Addr *string `toml:"addr"`
}

// ChannelFor returns the [channel.<name>] table, empty when absent.
func (c FileConfig) ChannelFor(name string) ChannelConfig {
	if c.Channel == nil {
		return ChannelConfig{}
	}
	return c.Channel[name]
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return FileConfig{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	for name := range cfg.Channel {
		if name != "a" && name != "b" {
			return FileConfig{}, fmt.Errorf("unknown channel table [channel.%s]", name)
		}
	}
	return cfg, nil
}
