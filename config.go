// config.go: Configuration for allocator auditing and the shared tools
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shared

import (
	"os"
	"time"

	"github.com/agilira/go-errors"
	"go.yaml.in/yaml/v3"
)

// Config configures AuditAllocator and the command-line tools.
type Config struct {
	// Audit configures the audit trail.
	Audit AuditConfig `yaml:"audit"`

	// RingCapacity is the lifecycle event ring size, rounded up to a power
	// of two.
	RingCapacity int64 `yaml:"ring_capacity"`

	// BatchSize is the number of events the ring processor handles per pass.
	BatchSize int64 `yaml:"batch_size"`

	// TrackBlocks makes the tools allocate through a TestAllocator so leaks
	// and misuse are detected.
	TrackBlocks bool `yaml:"track_blocks"`

	// AllocationLimit caps the blocks in use. Zero disables the cap.
	AllocationLimit int64 `yaml:"allocation_limit"`

	// Stress configures the concurrent clone/reset stress run.
	Stress StressConfig `yaml:"stress"`
}

// StressConfig configures a clone/reset stress run.
type StressConfig struct {
	Goroutines int           `yaml:"goroutines"`
	Iterations int           `yaml:"iterations"`
	Timeout    time.Duration `yaml:"timeout"`
}

// WithDefaults returns a copy of c with every unset field defaulted.
// Auditing stays off unless Audit.Enabled is set.
func (c *Config) WithDefaults() *Config {
	config := *c

	defaultAudit := DefaultAuditConfig()
	if config.Audit.BufferSize <= 0 {
		config.Audit.BufferSize = defaultAudit.BufferSize
	}
	if config.Audit.FlushInterval <= 0 {
		config.Audit.FlushInterval = defaultAudit.FlushInterval
	}
	if config.RingCapacity <= 0 {
		config.RingCapacity = 256
	}
	if config.RingCapacity&(config.RingCapacity-1) != 0 {
		capacity := int64(1)
		for capacity < config.RingCapacity {
			capacity <<= 1
		}
		config.RingCapacity = capacity
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 16
	}
	if config.BatchSize > config.RingCapacity {
		config.BatchSize = config.RingCapacity
	}
	if config.AllocationLimit < 0 {
		config.AllocationLimit = 0
	}
	if config.Stress.Goroutines <= 0 {
		config.Stress.Goroutines = 8
	}
	if config.Stress.Iterations <= 0 {
		config.Stress.Iterations = 10000
	}
	if config.Stress.Timeout <= 0 {
		config.Stress.Timeout = 30 * time.Second
	}

	return &config
}

// Validate reports the first invalid field of an already defaulted
// configuration.
func (c *Config) Validate() error {
	if err := c.Audit.Validate(); err != nil {
		return err
	}
	if c.RingCapacity <= 0 || c.RingCapacity&(c.RingCapacity-1) != 0 {
		return errors.New(ErrCodeInvalidConfig, "ring capacity must be a positive power of two").
			WithContext("ring_capacity", c.RingCapacity)
	}
	if c.BatchSize <= 0 || c.BatchSize > c.RingCapacity {
		return errors.New(ErrCodeInvalidConfig, "batch size must be between 1 and the ring capacity").
			WithContext("batch_size", c.BatchSize).
			WithContext("ring_capacity", c.RingCapacity)
	}
	if c.AllocationLimit < 0 {
		return errors.New(ErrCodeInvalidConfig, "allocation limit cannot be negative").
			WithContext("allocation_limit", c.AllocationLimit)
	}
	if c.Stress.Goroutines <= 0 || c.Stress.Iterations <= 0 {
		return errors.New(ErrCodeInvalidConfig, "stress goroutines and iterations must be positive").
			WithContext("goroutines", c.Stress.Goroutines).
			WithContext("iterations", c.Stress.Iterations)
	}
	return nil
}

// LoadConfigFile reads a YAML configuration file and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- caller-chosen configuration file
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to read configuration file").
			WithContext("path", path)
	}

	config, err := decodeConfig(data)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "failed to parse configuration file").
			WithContext("path", path)
	}

	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfigFile writes c as YAML with owner-only permissions. The file is
// replaced atomically, so readers never see a partial configuration.
func SaveConfigFile(path string, c *Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, ErrCodeInvalidConfig, "failed to encode configuration")
	}
	if err := writeFileAtomic(path, data, 0600); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to write configuration file").
			WithContext("path", path)
	}
	return nil
}

func decodeConfig(data []byte) (*Config, error) {
	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}
	return config, nil
}
