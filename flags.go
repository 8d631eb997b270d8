// flags.go: Command-line configuration through FlashFlags
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shared

import (
	"strings"
	"time"

	flashflags "github.com/agilira/flash-flags"
	"github.com/agilira/go-errors"
)

// ErrCodeHelpRequested is returned by FlagConfig.Parse for -h and --help.
const ErrCodeHelpRequested = "SHARED_HELP_REQUESTED"

// FlagConfig layers command-line flags over LoadConfigMultiSource. Flags
// default to zero values and only non-zero flags override the file and
// environment.
type FlagConfig struct {
	flags   *flashflags.FlagSet
	appName string
}

// NewFlagConfig registers the configuration flags for appName.
func NewFlagConfig(appName, description, version string) *FlagConfig {
	fs := flashflags.New(appName)
	fs.SetDescription(description)
	fs.SetVersion(version)

	fs.String("config", "", "YAML configuration file")
	fs.Bool("audit", false, "Enable the audit trail")
	fs.String("audit-output", "", "Audit output file (.db for SQLite, .jsonl for JSONL)")
	fs.String("audit-level", "", "Minimum audit level (INFO, WARN, CRITICAL, SECURITY)")
	fs.Int("ring-capacity", 0, "Lifecycle event ring capacity")
	fs.Int("batch-size", 0, "Lifecycle events processed per batch")
	fs.Bool("track-blocks", false, "Allocate through an instrumented allocator")
	fs.Int("allocation-limit", 0, "Maximum blocks in use (0 disables)")
	fs.Int("goroutines", 0, "Concurrent goroutines")
	fs.Int("iterations", 0, "Iterations per goroutine")
	fs.Duration("timeout", 0, "Overall run timeout")
	fs.StringSlice("bench", nil, "Benchmarks to run (clone, inplace, buffer, cast)")

	return &FlagConfig{flags: fs, appName: appName}
}

// Parse parses args. Flags can also be set through variables prefixed
// with the upper-cased application name.
func (fc *FlagConfig) Parse(args []string) error {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return errors.New(ErrCodeHelpRequested, "help requested")
		}
	}

	fc.flags.SetEnvPrefix(strings.ToUpper(fc.appName))
	if err := fc.flags.Parse(args); err != nil {
		return errors.Wrap(err, ErrCodeInvalidConfig, "failed to parse command-line flags")
	}
	return nil
}

// Config resolves the configuration: non-zero flags, then SHARED_*
// variables, then the --config file, then defaults.
func (fc *FlagConfig) Config() (*Config, error) {
	config, err := LoadConfigMultiSource(fc.flags.GetString("config"))
	if err != nil {
		return nil, err
	}

	if fc.flags.GetBool("audit") {
		config.Audit.Enabled = true
	}
	if v := fc.flags.GetString("audit-output"); v != "" {
		config.Audit.OutputFile = v
	}
	if v := fc.flags.GetString("audit-level"); v != "" {
		level, err := ParseAuditLevel(v)
		if err != nil {
			return nil, err
		}
		config.Audit.MinLevel = level
	}
	if v := fc.flags.GetInt("ring-capacity"); v > 0 {
		config.RingCapacity = int64(v)
	}
	if v := fc.flags.GetInt("batch-size"); v > 0 {
		config.BatchSize = int64(v)
	}
	if fc.flags.GetBool("track-blocks") {
		config.TrackBlocks = true
	}
	if v := fc.flags.GetInt("allocation-limit"); v > 0 {
		config.AllocationLimit = int64(v)
	}
	if v := fc.flags.GetInt("goroutines"); v > 0 {
		config.Stress.Goroutines = v
	}
	if v := fc.flags.GetInt("iterations"); v > 0 {
		config.Stress.Iterations = v
	}
	if v := fc.flags.GetDuration("timeout"); v > time.Duration(0) {
		config.Stress.Timeout = v
	}

	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Benchmarks returns the --bench selection, empty meaning all.
func (fc *FlagConfig) Benchmarks() []string {
	var names []string
	for _, entry := range fc.flags.GetStringSlice("bench") {
		for _, name := range strings.Split(entry, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

// FlagNames lists the registered flags.
func (fc *FlagConfig) FlagNames() []string {
	var names []string
	fc.flags.VisitAll(func(flag *flashflags.Flag) {
		names = append(names, flag.Name())
	})
	return names
}

// PrintUsage prints the generated help text.
func (fc *FlagConfig) PrintUsage() {
	fc.flags.PrintHelp()
}
