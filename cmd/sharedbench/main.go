// sharedbench - pointer operation benchmarks and audited stress runs
//
// Flags are layered over SHARED_* environment variables and an optional
// YAML file (--config). With --track-blocks the stress run allocates
// through an audited TestAllocator and fails on leaks.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/agilira/go-errors"
	"github.com/agilira/shared"
	"github.com/agilira/shared/cmd/cli"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := shared.NewFlagConfig("sharedbench", "Shared pointer benchmarks and stress runs", cli.Version)
	if err := flags.Parse(args); err != nil {
		if coder, ok := err.(errors.ErrorCoder); ok && string(coder.ErrorCode()) == shared.ErrCodeHelpRequested {
			flags.PrintUsage()
			return nil
		}
		return err
	}

	config, err := flags.Config()
	if err != nil {
		return err
	}

	benchmarks, err := cli.SelectBenchmarks(flags.Benchmarks())
	if err != nil {
		return err
	}

	var auditLogger *shared.AuditLogger
	if config.Audit.Enabled {
		auditLogger, err = shared.NewAuditLogger(config.Audit)
		if err != nil {
			return err
		}
		defer func() { _ = auditLogger.Close() }()
	}

	fmt.Printf("%-10s %12s %12s\n", "OPERATION", "NS/OP", "TOTAL")
	for _, b := range benchmarks {
		result := cli.RunBenchmark(b, config.Stress.Iterations)
		fmt.Printf("%-10s %12.1f %12v\n", result.Name, result.NsPerOp(), result.Elapsed)
	}

	var (
		alloc   shared.Allocator
		tracker *shared.TestAllocator
		audited *shared.AuditAllocator
	)
	if config.TrackBlocks {
		tracker = shared.NewTestAllocator("sharedbench")
		audited = shared.NewAuditAllocator("sharedbench", tracker, auditLogger, *config)
		alloc = audited
	}

	result, err := shared.RunCloneResetStress(context.Background(), config.Stress, alloc)
	if err != nil {
		return err
	}
	fmt.Printf("\nstress: %d goroutines x %d iterations, %d clones in %v (refs=%d, releases=%d)\n",
		result.Goroutines, result.Iterations, result.Clones, result.Duration, result.FinalRefs, result.Releases)

	if config.TrackBlocks {
		if err := audited.Close(); err != nil {
			return err
		}
		if err := tracker.Verify(); err != nil {
			return err
		}
		ring := audited.RingStats()
		fmt.Printf("audit ring: %d events published, %d processed\n", ring["writer_position"], ring["items_processed"])
	}
	return nil
}
