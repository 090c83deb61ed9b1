// Package config loads the dataset loader settings used by the commands.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DatasetConfig holds the loader parameters of a single dataset. Fields left
// nil in the JSON file fall back to the defaults returned by the Get* methods.
type DatasetConfig struct {
	DataDir                *string `json:"data_dir,omitempty"`
	BatchSize              *int    `json:"batch_size,omitempty"`
	EvalBatchSize          *int    `json:"eval_batch_size,omitempty"`
	ShuffleBufferSize      *int    `json:"shuffle_buffer_size,omitempty"`
	NumParallelParserCalls *int    `json:"num_parallel_parser_calls,omitempty"`
	Seed                   *uint64 `json:"seed,omitempty"`
}

// Config is the root configuration, one section per dataset.
type Config struct {
	Criteo         DatasetConfig `json:"criteo"`
	SpeechCommands DatasetConfig `json:"speech_commands"`
}

func ptrInt(v int) *int          { return &v }
func ptrString(v string) *string { return &v }

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Criteo: DatasetConfig{
			DataDir:                ptrString("data/criteo"),
			BatchSize:              ptrInt(512),
			EvalBatchSize:          ptrInt(512),
			ShuffleBufferSize:      ptrInt(10000),
			NumParallelParserCalls: ptrInt(64),
		},
		SpeechCommands: DatasetConfig{
			DataDir:                ptrString("data/speech_commands"),
			BatchSize:              ptrInt(128),
			EvalBatchSize:          ptrInt(128),
			ShuffleBufferSize:      ptrInt(2048),
			NumParallelParserCalls: ptrInt(8),
		},
	}
}

// LoadConfig loads a Config from a JSON file. The file must have a .json
// extension and be at most 1MB. Sections omitted from the file keep nil
// fields, which the getters resolve to defaults.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if err := c.Criteo.Validate(); err != nil {
		return fmt.Errorf("criteo: %w", err)
	}
	if err := c.SpeechCommands.Validate(); err != nil {
		return fmt.Errorf("speech_commands: %w", err)
	}
	return nil
}

// Validate checks that the dataset values are valid.
func (d *DatasetConfig) Validate() error {
	if d.BatchSize != nil && *d.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", *d.BatchSize)
	}
	if d.EvalBatchSize != nil && *d.EvalBatchSize <= 0 {
		return fmt.Errorf("eval_batch_size must be positive, got %d", *d.EvalBatchSize)
	}
	if d.ShuffleBufferSize != nil && *d.ShuffleBufferSize < 0 {
		return fmt.Errorf("shuffle_buffer_size must be non-negative, got %d", *d.ShuffleBufferSize)
	}
	if d.NumParallelParserCalls != nil && *d.NumParallelParserCalls <= 0 {
		return fmt.Errorf("num_parallel_parser_calls must be positive, got %d", *d.NumParallelParserCalls)
	}
	return nil
}

// GetDataDir returns the data_dir value or the default.
func (d *DatasetConfig) GetDataDir() string {
	if d.DataDir == nil {
		return ""
	}
	return *d.DataDir
}

// GetBatchSize returns the batch_size value or the default.
func (d *DatasetConfig) GetBatchSize() int {
	if d.BatchSize == nil {
		return 32
	}
	return *d.BatchSize
}

// GetEvalBatchSize returns the eval_batch_size value, falling back to the
// training batch size.
func (d *DatasetConfig) GetEvalBatchSize() int {
	if d.EvalBatchSize == nil {
		return d.GetBatchSize()
	}
	return *d.EvalBatchSize
}

// GetShuffleBufferSize returns the shuffle_buffer_size value or the default.
func (d *DatasetConfig) GetShuffleBufferSize() int {
	if d.ShuffleBufferSize == nil {
		return 1000
	}
	return *d.ShuffleBufferSize
}

// GetNumParallelParserCalls returns the num_parallel_parser_calls value or the default.
func (d *DatasetConfig) GetNumParallelParserCalls() int {
	if d.NumParallelParserCalls == nil {
		return 8
	}
	return *d.NumParallelParserCalls
}

// GetSeed returns the seed value. Zero means "pick one at build time".
func (d *DatasetConfig) GetSeed() uint64 {
	if d.Seed == nil {
		return 0
	}
	return *d.Seed
}
