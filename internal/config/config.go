// Package config loads run settings from a YAML file.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds everything a crossfade run can be configured with.
// Command line flags that are set explicitly take precedence over it.
type Config struct {
	Input         string      `yaml:"input"`
	Output        string      `yaml:"output"`          // frame path prefix
	Frames        int         `yaml:"frames"`
	Workers       int         `yaml:"workers"`         // 0 means one per CPU
	Transport     string      `yaml:"transport"`       // process, local
	Format        string      `yaml:"format"`          // output file extension
	OnOutputError string      `yaml:"on_output_error"` // abort, skip
	Compress      bool        `yaml:"compress"`
	DB            string      `yaml:"db"`
	Video         VideoConfig `yaml:"video"`
	MQTT          MQTTConfig  `yaml:"mqtt"`
}

// VideoConfig controls assembling the frames into a video afterwards.
type VideoConfig struct {
	Path string `yaml:"path"` // empty disables assembly
	FPS  int    `yaml:"fps"`
}

// MQTTConfig contains the optional frame event emitter settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // host:port, empty disables the emitter
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

// Default returns the settings used when neither a file nor flags say otherwise.
func Default() *Config {
	return &Config{
		Output:        "frame",
		Frames:        96,
		Transport:     "process",
		Format:        "png",
		OnOutputError: "abort",
		Video:         VideoConfig{FPS: 24},
		MQTT:          MQTTConfig{Topic: "crossfade/frames", ClientID: "crossfade"},
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that do not depend on the input image.
func Validate(cfg *Config) error {
	if cfg.Frames < 2 {
		return fmt.Errorf("frames must be at least 2, got %d", cfg.Frames)
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("workers cannot be negative, got %d", cfg.Workers)
	}
	switch cfg.Transport {
	case "process", "local":
	default:
		return fmt.Errorf("unknown transport %q (use process or local)", cfg.Transport)
	}
	switch cfg.OnOutputError {
	case "abort", "skip":
	default:
		return fmt.Errorf("unknown on_output_error %q (use abort or skip)", cfg.OnOutputError)
	}
	if strings.TrimSpace(cfg.Output) == "" {
		return fmt.Errorf("output prefix cannot be empty")
	}
	if cfg.Video.Path != "" && cfg.Video.FPS < 1 {
		return fmt.Errorf("video fps must be at least 1, got %d", cfg.Video.FPS)
	}
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}
	if cfg.MQTT.Broker != "" && cfg.MQTT.Topic == "" {
		return fmt.Errorf("mqtt topic is required when a broker is set")
	}
	return nil
}
