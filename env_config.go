// env_config.go: Environment variable configuration
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shared

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agilira/go-errors"
)

// Environment variables read by LoadConfigFromEnv and LoadConfigMultiSource.
const (
	EnvAuditEnabled       = "SHARED_AUDIT_ENABLED"
	EnvAuditOutputFile    = "SHARED_AUDIT_OUTPUT_FILE"
	EnvAuditMinLevel      = "SHARED_AUDIT_MIN_LEVEL"
	EnvAuditBufferSize    = "SHARED_AUDIT_BUFFER_SIZE"
	EnvAuditFlushInterval = "SHARED_AUDIT_FLUSH_INTERVAL"
	EnvRingCapacity       = "SHARED_RING_CAPACITY"
	EnvBatchSize          = "SHARED_BATCH_SIZE"
	EnvTrackBlocks        = "SHARED_TRACK_BLOCKS"
	EnvAllocationLimit    = "SHARED_ALLOCATION_LIMIT"
	EnvStressGoroutines   = "SHARED_STRESS_GOROUTINES"
	EnvStressIterations   = "SHARED_STRESS_ITERATIONS"
	EnvStressTimeout      = "SHARED_STRESS_TIMEOUT"
)

// LoadConfigFromEnv builds a configuration from SHARED_* variables on top
// of the defaults.
func LoadConfigFromEnv() (*Config, error) {
	config := (&Config{}).WithDefaults()
	if err := applyEnv(config); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "failed to load environment configuration")
	}
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadConfigMultiSource loads configuration with precedence:
//  1. environment variables (highest)
//  2. configFile, when non-empty and present
//  3. defaults
func LoadConfigMultiSource(configFile string) (*Config, error) {
	config := (&Config{}).WithDefaults()

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			loaded, err := LoadConfigFile(configFile)
			if err != nil {
				return nil, err
			}
			config = loaded
		}
	}

	if err := applyEnv(config); err != nil {
		return config, errors.Wrap(err, ErrCodeInvalidConfig, "failed to apply environment configuration")
	}
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// applyEnv overrides fields of config whose variable is set.
func applyEnv(config *Config) error {
	if v := os.Getenv(EnvAuditEnabled); v != "" {
		config.Audit.Enabled = parseBool(v)
	}
	if v := os.Getenv(EnvAuditOutputFile); v != "" {
		config.Audit.OutputFile = v
	}
	if v := os.Getenv(EnvAuditMinLevel); v != "" {
		level, err := ParseAuditLevel(v)
		if err != nil {
			return err
		}
		config.Audit.MinLevel = level
	}
	if err := envInt(EnvAuditBufferSize, &config.Audit.BufferSize); err != nil {
		return err
	}
	if err := envDuration(EnvAuditFlushInterval, &config.Audit.FlushInterval); err != nil {
		return err
	}
	if err := envInt64(EnvRingCapacity, &config.RingCapacity); err != nil {
		return err
	}
	if err := envInt64(EnvBatchSize, &config.BatchSize); err != nil {
		return err
	}
	if v := os.Getenv(EnvTrackBlocks); v != "" {
		config.TrackBlocks = parseBool(v)
	}
	if err := envInt64(EnvAllocationLimit, &config.AllocationLimit); err != nil {
		return err
	}
	if err := envInt(EnvStressGoroutines, &config.Stress.Goroutines); err != nil {
		return err
	}
	if err := envInt(EnvStressIterations, &config.Stress.Iterations); err != nil {
		return err
	}
	return envDuration(EnvStressTimeout, &config.Stress.Timeout)
}

func envInt(key string, into *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return errors.New(ErrCodeInvalidConfig, "invalid integer in environment").
			WithContext("variable", key).
			WithContext("value", v)
	}
	*into = n
	return nil
}

func envInt64(key string, into *int64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return errors.New(ErrCodeInvalidConfig, "invalid integer in environment").
			WithContext("variable", key).
			WithContext("value", v)
	}
	*into = n
	return nil
}

func envDuration(key string, into *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return errors.New(ErrCodeInvalidConfig, "invalid duration in environment").
			WithContext("variable", key).
			WithContext("value", v)
	}
	*into = d
	return nil
}

// parseBool accepts true/false, 1/0, yes/no, on/off and enabled/disabled.
// Anything else is false.
func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on", "enabled":
		return true
	default:
		return false
	}
}
