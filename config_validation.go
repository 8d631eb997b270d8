// config_validation.go: Detailed configuration validation
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shared

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agilira/go-errors"
)

// ValidationResult lists the problems found in a configuration. Errors make
// it unusable; warnings flag settings that work but are probably unintended.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// String returns a human-readable representation of validation results
func (vr ValidationResult) String() string {
	if vr.Valid {
		if len(vr.Warnings) == 0 {
			return "Configuration is valid"
		}
		return fmt.Sprintf("Configuration is valid with %d warning(s)", len(vr.Warnings))
	}
	return fmt.Sprintf("Configuration is invalid: %d error(s), %d warning(s)",
		len(vr.Errors), len(vr.Warnings))
}

// ValidateDetailed collects every error and warning instead of stopping at
// the first problem like Validate does.
func (c *Config) ValidateDetailed() ValidationResult {
	result := ValidationResult{
		Errors:   make([]string, 0),
		Warnings: make([]string, 0),
	}

	c.validateRing(&result)
	c.validateAudit(&result)
	c.validateStress(&result)
	c.validateAllocatorSettings(&result)

	result.Valid = len(result.Errors) == 0
	return result
}

func (c *Config) validateRing(result *ValidationResult) {
	if c.RingCapacity <= 0 || c.RingCapacity&(c.RingCapacity-1) != 0 {
		result.Errors = append(result.Errors,
			fmt.Sprintf("ring capacity %d must be a positive power of two", c.RingCapacity))
	}
	if c.BatchSize <= 0 || c.BatchSize > c.RingCapacity {
		result.Errors = append(result.Errors,
			fmt.Sprintf("batch size %d must be between 1 and the ring capacity", c.BatchSize))
	}
	if c.RingCapacity > 0 && c.RingCapacity < 64 {
		result.Warnings = append(result.Warnings,
			"Small lifecycle rings drop events under concurrent allocation")
	}
}

func (c *Config) validateAudit(result *ValidationResult) {
	if err := c.Audit.Validate(); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	if !c.Audit.Enabled {
		return
	}

	if c.Audit.OutputFile != "" {
		if err := validateOutputFile(c.Audit.OutputFile); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}
	if c.Audit.FlushInterval == 0 {
		result.Warnings = append(result.Warnings,
			"Audit flush interval is 0, events are only written when the buffer fills or on Flush")
	}
	if c.Audit.MinLevel > AuditCritical {
		result.Warnings = append(result.Warnings,
			"Audit level SECURITY hides allocation lifecycle and leak events")
	}
}

func (c *Config) validateStress(result *ValidationResult) {
	if c.Stress.Goroutines <= 0 || c.Stress.Iterations <= 0 {
		result.Errors = append(result.Errors, "stress goroutines and iterations must be positive")
	}
	if c.Stress.Timeout > 0 && c.Stress.Timeout < 100*time.Millisecond {
		result.Warnings = append(result.Warnings,
			"Stress timeouts below 100ms usually cancel the run before it starts")
	}
}

func (c *Config) validateAllocatorSettings(result *ValidationResult) {
	if c.AllocationLimit < 0 {
		result.Errors = append(result.Errors, "allocation limit cannot be negative")
	}
	if c.AllocationLimit > 0 && !c.TrackBlocks {
		result.Warnings = append(result.Warnings,
			"Allocation limit only applies when track_blocks is enabled")
	}
	if c.TrackBlocks && c.Audit.Enabled && int64(c.Stress.Goroutines)*2 > c.RingCapacity {
		result.Warnings = append(result.Warnings,
			"Ring capacity below twice the goroutine count will drop audited lifecycle events")
	}
}

// validateOutputFile checks that the audit output file can be created.
func validateOutputFile(outputFile string) error {
	cleanPath := filepath.Clean(outputFile)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New(ErrCodeInvalidAuditConfig,
			fmt.Sprintf("path '%s' is not a valid file path", outputFile))
	}

	dir := filepath.Dir(cleanPath)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.New(ErrCodeInvalidAuditConfig,
				fmt.Sprintf("directory '%s' does not exist", dir))
		}
		return errors.Wrap(err, ErrCodeInvalidAuditConfig,
			fmt.Sprintf("cannot access directory '%s'", dir))
	}
	if !info.IsDir() {
		return errors.New(ErrCodeInvalidAuditConfig,
			fmt.Sprintf("'%s' is not a directory", dir))
	}
	return nil
}

// ValidateConfigFile loads a YAML configuration without applying it and
// returns its detailed validation result.
func ValidateConfigFile(configPath string) (ValidationResult, error) {
	if configPath == "" {
		return ValidationResult{}, errors.New(ErrCodeInvalidConfig, "configuration file path cannot be empty")
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- caller-chosen configuration file
	if err != nil {
		return ValidationResult{}, errors.Wrap(err, ErrCodeIOError, "failed to read configuration file").
			WithContext("path", configPath)
	}

	config, err := decodeConfig(data)
	if err != nil {
		return ValidationResult{}, errors.Wrap(err, ErrCodeInvalidConfig, "failed to parse configuration file").
			WithContext("path", configPath)
	}
	return config.WithDefaults().ValidateDetailed(), nil
}
