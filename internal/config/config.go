package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/menta2k/focuspoint"
	"github.com/menta2k/focuspoint/pkg/backend"
	"github.com/menta2k/focuspoint/pkg/cropper"
)

// Suggestion methods
const (
	MethodSmartcrop = "smartcrop"
	MethodModel     = "model"
)

// Config holds the application configuration
type Config struct {
	Quality      int                `json:"quality"`
	BackendRules string             `json:"backend_rules"`
	ExternalTool ExternalToolConfig `json:"external_tool"`
	Output       OutputConfig       `json:"output"`
	Suggest      SuggestConfig      `json:"suggest"`
	Workers      int                `json:"workers"`
}

// ExternalToolConfig holds configuration for the ImageMagick executor
type ExternalToolConfig struct {
	Command string `json:"command"`
}

// OutputConfig holds configuration for output naming
type OutputConfig struct {
	Dir    string `json:"dir"`
	Suffix string `json:"suffix"`
}

// SuggestConfig holds configuration for focus point suggestion
type SuggestConfig struct {
	Method    string `json:"method"`
	OllamaURL string `json:"ollama_url"`
	Model     string `json:"model"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Quality:      cropper.DefaultQuality,
		BackendRules: backend.DefaultRules,
		ExternalTool: ExternalToolConfig{
			Command: cropper.DefaultCommand,
		},
		Output: OutputConfig{
			Dir:    "",
			Suffix: "_crop",
		},
		Suggest: SuggestConfig{
			Method:    MethodSmartcrop,
			OllamaURL: "http://localhost:11434",
			Model:     "qwen2.5vl:7b",
		},
		Workers: 0,
	}
}

// LoadFromFile loads configuration from a JSON file. Fields missing from the
// file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid. Any quality is clamped into
// [10, 100] and unusable backend rules are skipped, so neither is an error.
func (c *Config) Validate() error {
	switch c.Suggest.Method {
	case "", MethodSmartcrop, MethodModel:
	default:
		return fmt.Errorf("suggest.method must be %q or %q", MethodSmartcrop, MethodModel)
	}

	if c.Suggest.Method == MethodModel && (c.Suggest.OllamaURL == "" || c.Suggest.Model == "") {
		return fmt.Errorf("suggest.ollama_url and suggest.model are required for method %q", MethodModel)
	}

	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}

	return nil
}

// Options returns the engine options described by the configuration
func (c *Config) Options() focuspoint.Options {
	return focuspoint.Options{
		Quality:        c.Quality,
		BackendRules:   c.BackendRules,
		ConvertCommand: c.ExternalTool.Command,
		Workers:        c.Workers,
	}
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "focuspoint", "config.json")
}
