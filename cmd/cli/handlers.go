// Command handlers for the sharedctl CLI
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strconv"

	"github.com/agilira/go-errors"
	"github.com/agilira/orpheus/pkg/orpheus"
	"github.com/agilira/shared"
	"go.yaml.in/yaml/v3"
)

// handleStress runs the concurrent clone/reset check. With --track the
// managed object and its control block come from a TestAllocator wrapped
// in an AuditAllocator, and leftover blocks fail the run.
func (m *Manager) handleStress(ctx *orpheus.Context) error {
	cfg := m.config.Stress
	if g := ctx.GetFlagInt("goroutines"); g > 0 {
		cfg.Goroutines = g
	}
	if i := ctx.GetFlagInt("iterations"); i > 0 {
		cfg.Iterations = i
	}
	track := ctx.GetFlagBool("track") || m.config.TrackBlocks

	m.auditLogger.LogCommand("stress", map[string]interface{}{
		"goroutines": cfg.Goroutines,
		"iterations": cfg.Iterations,
		"track":      track,
	})

	var (
		alloc   shared.Allocator
		tracker *shared.TestAllocator
		audited *shared.AuditAllocator
	)
	if track {
		tracker = shared.NewTestAllocator("stress")
		audited = shared.NewAuditAllocator("stress", tracker, m.auditLogger, *m.config)
		alloc = audited
	}

	result, err := shared.RunCloneResetStress(context.Background(), cfg, alloc)
	if err != nil {
		return err
	}

	fmt.Fprintf(m.out, "Goroutines:  %d\n", result.Goroutines)
	fmt.Fprintf(m.out, "Iterations:  %d\n", result.Iterations)
	fmt.Fprintf(m.out, "Clones:      %d\n", result.Clones)
	fmt.Fprintf(m.out, "Final refs:  %d\n", result.FinalRefs)
	fmt.Fprintf(m.out, "Releases:    %d\n", result.Releases)
	fmt.Fprintf(m.out, "Duration:    %v\n", result.Duration)
	if result.Cancelled {
		fmt.Fprintf(m.out, "Stopped early after %v timeout\n", cfg.Timeout)
	}

	if track {
		if err := audited.Close(); err != nil {
			return err
		}
		if err := tracker.Verify(); err != nil {
			return err
		}
		stats := tracker.Stats()
		fmt.Fprintf(m.out, "Blocks:      %d allocated, %d in use\n", stats.TotalBlocks, stats.BlocksInUse)
	}

	fmt.Fprintln(m.out, "OK")
	return nil
}

// handleBench times the selected pointer operations.
func (m *Manager) handleBench(ctx *orpheus.Context) error {
	iterations := ctx.GetFlagInt("iterations")
	if iterations <= 0 {
		return errors.New(shared.ErrCodeInvalidConfig, "iterations must be positive").
			WithContext("iterations", iterations)
	}
	selected, err := selectBenchmarks(ctx.GetFlagString("operation"))
	if err != nil {
		return err
	}

	m.auditLogger.LogCommand("bench", map[string]interface{}{
		"iterations": iterations,
		"operation":  ctx.GetFlagString("operation"),
	})

	fmt.Fprintf(m.out, "%-10s %12s %12s\n", "OPERATION", "NS/OP", "TOTAL")
	for _, bench := range selected {
		result := runBenchmark(bench, iterations)
		fmt.Fprintf(m.out, "%-10s %12.1f %12v\n", result.Name, result.NsPerOp(), result.Elapsed)
	}
	return nil
}

// handleBuffer allocates an uninitialized buffer, fills it, takes a few
// clones and checks that releasing the last one frees the block.
func (m *Manager) handleBuffer(ctx *orpheus.Context) error {
	size := ctx.GetFlagInt("size")
	if arg := ctx.GetArg(0); arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return errors.New(shared.ErrCodeInvalidBufferSize, "buffer size must be an integer").
				WithContext("size", arg)
		}
		size = n
	}
	clones := ctx.GetFlagInt("clones")

	m.auditLogger.LogCommand("buffer", map[string]interface{}{
		"size":   size,
		"clones": clones,
	})

	tracker := shared.NewTestAllocator("buffer")
	buf, err := shared.CreateInplaceUninitializedBuffer(size, tracker)
	if err != nil {
		return err
	}

	data := shared.BufferBytes(buf)
	for i := range data {
		data[i] = byte(i)
	}

	aliases := make([]shared.Ptr[byte], 0, clones)
	for i := 0; i < clones; i++ {
		aliases = append(aliases, buf.Clone())
	}
	refs := buf.NumReferences()
	stats := tracker.Stats()

	buf.Reset()
	for i := range aliases {
		aliases[i].Reset()
	}

	fmt.Fprintf(m.out, "Size:        %d bytes\n", size)
	fmt.Fprintf(m.out, "References:  %d\n", refs)
	fmt.Fprintf(m.out, "Block bytes: %d\n", stats.BytesInUse)
	if err := tracker.Verify(); err != nil {
		return err
	}
	fmt.Fprintln(m.out, "Released:    yes")
	return nil
}

// handleAuditStats prints statistics for an audit file.
func (m *Manager) handleAuditStats(ctx *orpheus.Context) error {
	m.auditLogger.LogCommand("audit_stats", nil)

	logger, owned, err := m.statsLogger(ctx.GetFlagString("output"))
	if err != nil {
		return err
	}
	if owned {
		defer func() { _ = logger.Close() }()
	}

	stats, err := logger.Stats()
	if err != nil {
		return err
	}

	if ctx.GetFlagBool("json") {
		encoder := json.NewEncoder(m.out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(stats)
	}

	fmt.Fprintf(m.out, "Backend:        %s\n", stats.Backend)
	fmt.Fprintf(m.out, "Path:           %s\n", stats.Path)
	fmt.Fprintf(m.out, "Total events:   %d\n", stats.TotalEvents)
	if stats.SchemaVersion > 0 {
		fmt.Fprintf(m.out, "Schema version: %d\n", stats.SchemaVersion)
	}
	if stats.OldestEvent != nil && stats.NewestEvent != nil {
		fmt.Fprintf(m.out, "Span:           %s .. %s\n", stats.OldestEvent.Format("2006-01-02 15:04:05"), stats.NewestEvent.Format("2006-01-02 15:04:05"))
	}
	printCounts(m.out, "By level", stats.EventsByLevel)
	printCounts(m.out, "By type", stats.EventsByType)
	printCounts(m.out, "By component", stats.EventsByComponent)
	return nil
}

// handleAuditMaintenance applies retention to the configured audit trail.
func (m *Manager) handleAuditMaintenance(ctx *orpheus.Context) error {
	m.auditLogger.LogCommand("audit_maintenance", nil)

	logger, owned, err := m.statsLogger("")
	if err != nil {
		return err
	}
	if owned {
		defer func() { _ = logger.Close() }()
	}

	if err := logger.Maintenance(); err != nil {
		return errors.Wrap(err, shared.ErrCodeIOError, "audit maintenance failed")
	}
	fmt.Fprintln(m.out, "Maintenance complete")
	return nil
}

// handleInfo prints version and runtime information.
func (m *Manager) handleInfo(ctx *orpheus.Context) error {
	m.auditLogger.LogCommand("info", nil)

	fmt.Fprintf(m.out, "sharedctl %s\n", Version)
	fmt.Fprintf(m.out, "Go:          %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(m.out, "CPUs:        %d\n", runtime.NumCPU())
	fmt.Fprintf(m.out, "Audit:       %s\n", enabledString(m.config.Audit.Enabled))

	if ctx.GetFlagBool("verbose") {
		fmt.Fprintf(m.out, "Audit file:  %s\n", auditTarget(m.config.Audit))
		fmt.Fprintf(m.out, "Min level:   %s\n", m.config.Audit.MinLevel)
		fmt.Fprintf(m.out, "Ring:        %d events, batch %d\n", m.config.RingCapacity, m.config.BatchSize)
		fmt.Fprintf(m.out, "Limit:       %d blocks\n", m.config.AllocationLimit)
		fmt.Fprintf(m.out, "Layouts:     %d cached\n", shared.LayoutCacheSize())
	}
	return nil
}

// handleConfigShow prints the resolved configuration as YAML.
func (m *Manager) handleConfigShow(ctx *orpheus.Context) error {
	file := ctx.GetFlagString("file")
	m.auditLogger.LogCommand("config_show", map[string]interface{}{"file": file})

	config := m.config
	if file != "" {
		loaded, err := shared.LoadConfigFile(file)
		if err != nil {
			return err
		}
		config = loaded
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, shared.ErrCodeInvalidConfig, "failed to encode configuration")
	}
	_, err = m.out.Write(data)
	return err
}

// handleConfigInit writes the current configuration to a file.
func (m *Manager) handleConfigInit(ctx *orpheus.Context) error {
	path := ctx.GetArg(0)
	if path == "" {
		path = "shared.yaml"
	}
	m.auditLogger.LogCommand("config_init", map[string]interface{}{"file": path})

	if _, err := os.Stat(path); err == nil && !ctx.GetFlagBool("force") {
		return errors.New(shared.ErrCodeInvalidConfig, "configuration file already exists (use --force)").
			WithContext("path", path)
	}
	if err := checkFileWriteable(path); err != nil {
		return err
	}
	if err := shared.SaveConfigFile(path, m.config); err != nil {
		return err
	}
	fmt.Fprintf(m.out, "Wrote %s\n", path)
	return nil
}

// handleConfigValidate validates the file given as argument, or the
// resolved configuration when none is given.
func (m *Manager) handleConfigValidate(ctx *orpheus.Context) error {
	path := ctx.GetArg(0)
	m.auditLogger.LogCommand("config_validate", map[string]interface{}{"file": path})

	result := m.config.ValidateDetailed()
	if path != "" {
		var err error
		if result, err = shared.ValidateConfigFile(path); err != nil {
			return err
		}
	}

	fmt.Fprintln(m.out, result.String())
	for _, e := range result.Errors {
		fmt.Fprintf(m.out, "  error:   %s\n", e)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(m.out, "  warning: %s\n", w)
	}
	if !result.Valid {
		return errors.New(shared.ErrCodeInvalidConfig, "configuration is invalid").
			WithContext("errors", len(result.Errors))
	}
	return nil
}

// statsLogger returns the manager's logger when no output is given and it
// is enabled, otherwise a logger opened on output or the configured file.
// owned reports whether the caller must close it.
func (m *Manager) statsLogger(output string) (*shared.AuditLogger, bool, error) {
	if output == "" && m.auditLogger != nil {
		return m.auditLogger, false, nil
	}

	config := m.config.Audit
	config.Enabled = true
	if output != "" {
		if _, err := os.Stat(output); err != nil {
			return nil, false, errors.Wrap(err, shared.ErrCodeIOError, "audit file not found").
				WithContext("path", output)
		}
		config.OutputFile = output
	}

	logger, err := shared.NewAuditLogger(config)
	if err != nil {
		return nil, false, err
	}
	return logger, true, nil
}

func printCounts(w io.Writer, title string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(w, "%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-20s %d\n", k, counts[k])
	}
}

// handleCompletion generates shell completion scripts.
func (m *Manager) handleCompletion(ctx *orpheus.Context) error {
	const commands = "stress bench buffer audit config info completion"
	shell := ctx.GetArg(0)

	switch shell {
	case "bash":
		fmt.Fprintf(m.out, "# Bash completion for sharedctl\n")
		fmt.Fprintf(m.out, "# Add to ~/.bashrc: source <(sharedctl completion bash)\n")
		fmt.Fprintf(m.out, "_sharedctl_completion() {\n")
		fmt.Fprintf(m.out, "  COMPREPLY=($(compgen -W '%s' -- \"${COMP_WORDS[COMP_CWORD]}\"))\n", commands)
		fmt.Fprintf(m.out, "}\n")
		fmt.Fprintf(m.out, "complete -F _sharedctl_completion sharedctl\n")
	case "zsh":
		fmt.Fprintf(m.out, "#compdef sharedctl\n")
		fmt.Fprintf(m.out, "_sharedctl() {\n")
		fmt.Fprintf(m.out, "  _arguments '1: :(%s)'\n", commands)
		fmt.Fprintf(m.out, "}\n")
	case "fish":
		fmt.Fprintf(m.out, "complete -c sharedctl -f -a '%s'\n", commands)
	default:
		return errors.New(shared.ErrCodeInvalidConfig, fmt.Sprintf("unsupported shell: %s", shell))
	}
	return nil
}
