// Package cli provides the sharedctl command-line interface.
//
// The CLI exercises the shared package end to end: concurrent stress runs
// that verify single release, micro-benchmarks of the pointer operations,
// uninitialized buffer allocation and the audit trail statistics. It is
// built on the Orpheus framework.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"io"
	"os"

	"github.com/agilira/orpheus/pkg/orpheus"
	"github.com/agilira/shared"
)

// Version is reported by sharedctl --version and the info command.
const Version = "1.0.0"

// Manager routes sharedctl commands.
type Manager struct {
	app         *orpheus.App
	config      *shared.Config
	auditLogger *shared.AuditLogger // optional
	out         io.Writer
}

// NewManager creates a manager with the default configuration, writing to
// standard output.
func NewManager() *Manager {
	manager := &Manager{
		config: (&shared.Config{}).WithDefaults(),
		out:    os.Stdout,
	}
	manager.buildApp()
	return manager
}

// buildApp creates the command tree. Orpheus keeps parsed flag values on
// the commands, so every Run starts from a fresh tree.
func (m *Manager) buildApp() {
	m.app = orpheus.New("sharedctl").
		SetDescription("Reference-counted shared ownership diagnostics").
		SetVersion(Version)

	m.setupRunCommands()
	m.setupAuditCommands()
	m.setupUtilityCommands()
}

// WithAudit records every command and, for tracked runs, every allocator
// event in auditLogger.
func (m *Manager) WithAudit(auditLogger *shared.AuditLogger) *Manager {
	m.auditLogger = auditLogger
	return m
}

// WithConfig replaces the configuration used for flag defaults.
func (m *Manager) WithConfig(config *shared.Config) *Manager {
	m.config = config.WithDefaults()
	return m
}

// WithOutput redirects command output.
func (m *Manager) WithOutput(w io.Writer) *Manager {
	m.out = w
	return m
}

// Run executes the command line args (without the program name). Flag
// values never carry over from a previous Run.
func (m *Manager) Run(args []string) error {
	m.buildApp()
	return m.app.Run(args)
}

// setupRunCommands configures stress, bench and buffer.
func (m *Manager) setupRunCommands() {
	stressCmd := orpheus.NewCommand("stress", "Concurrent clone/reset stress run").
		SetHandler(m.handleStress)
	stressCmd.AddIntFlag("goroutines", "g", 0, "Concurrent goroutines (0 uses the configuration)")
	stressCmd.AddIntFlag("iterations", "i", 0, "Clone/reset pairs per goroutine (0 uses the configuration)")
	stressCmd.AddBoolFlag("track", "t", false, "Allocate through an instrumented allocator and check for leaks")
	m.app.AddCommand(stressCmd)

	benchCmd := orpheus.NewCommand("bench", "Time pointer operations").
		SetHandler(m.handleBench)
	benchCmd.AddIntFlag("iterations", "i", 100000, "Iterations per operation")
	benchCmd.AddFlag("operation", "o", "all", "Operation (clone|inplace|buffer|cast|all)")
	m.app.AddCommand(benchCmd)

	bufferCmd := orpheus.NewCommand("buffer", "Allocate an uninitialized shared buffer").
		SetHandler(m.handleBuffer)
	bufferCmd.AddIntFlag("size", "s", 4096, "Buffer size in bytes")
	bufferCmd.AddIntFlag("clones", "c", 4, "Aliases taken before release")
	m.app.AddCommand(bufferCmd)
}

// setupAuditCommands configures the audit command group.
func (m *Manager) setupAuditCommands() {
	auditCmd := orpheus.NewCommand("audit", "Audit trail management")

	statsCmd := auditCmd.Subcommand("stats", "Show audit backend statistics", m.handleAuditStats)
	statsCmd.AddFlag("output", "o", "", "Audit file to inspect (.db or .jsonl); empty uses the configured trail")
	statsCmd.AddBoolFlag("json", "j", false, "Print statistics as JSON")

	auditCmd.Subcommand("maintenance", "Apply retention and optimize the audit database", m.handleAuditMaintenance)

	m.app.AddCommand(auditCmd)
}

// setupUtilityCommands configures info, config and completion.
func (m *Manager) setupUtilityCommands() {
	infoCmd := orpheus.NewCommand("info", "Version and runtime information").
		SetHandler(m.handleInfo)
	infoCmd.AddBoolFlag("verbose", "v", false, "Include layout and configuration details")
	m.app.AddCommand(infoCmd)

	configCmd := orpheus.NewCommand("config", "Configuration files")

	showCmd := configCmd.Subcommand("show", "Print the resolved configuration as YAML", m.handleConfigShow)
	showCmd.AddFlag("file", "f", "", "YAML configuration file")

	initCmd := configCmd.Subcommand("init", "Write a default configuration file", m.handleConfigInit)
	initCmd.AddBoolFlag("force", "", false, "Overwrite an existing file")

	configCmd.Subcommand("validate", "Report errors and warnings for a configuration file", m.handleConfigValidate)

	m.app.AddCommand(configCmd)

	completionCmd := orpheus.NewCommand("completion", "Generate shell completion scripts (bash|zsh|fish)").
		SetHandler(m.handleCompletion)
	m.app.AddCommand(completionCmd)
}
