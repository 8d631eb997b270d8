// Utility functions for the sharedctl CLI
//
// Benchmark bodies, output helpers and filesystem checks shared by the
// command handlers.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/shared"
)

// Benchmark is a named pointer operation timed by the bench command and
// by sharedbench.
type Benchmark struct {
	Name string
	Run  func(iterations int)
}

// BenchmarkResult is the timing of one Benchmark.
type BenchmarkResult struct {
	Name       string        `json:"name"`
	Iterations int           `json:"iterations"`
	Elapsed    time.Duration `json:"elapsed"`
}

// NsPerOp is the mean time per iteration.
func (r BenchmarkResult) NsPerOp() float64 {
	if r.Iterations == 0 {
		return 0
	}
	return float64(r.Elapsed.Nanoseconds()) / float64(r.Iterations)
}

type benchBase struct {
	id int64
}

type benchDerived struct {
	benchBase
	payload [4]int64
}

// Benchmarks lists the available operations in display order.
func Benchmarks() []Benchmark {
	return []Benchmark{
		{Name: "clone", Run: benchClone},
		{Name: "inplace", Run: benchInplace},
		{Name: "buffer", Run: benchBuffer},
		{Name: "cast", Run: benchCast},
	}
}

// selectBenchmarks resolves a comma separated selection; "all" or an
// empty string selects everything.
func selectBenchmarks(selection string) ([]Benchmark, error) {
	all := Benchmarks()
	selection = strings.TrimSpace(selection)
	if selection == "" || selection == "all" {
		return all, nil
	}
	return SelectBenchmarks(strings.Split(selection, ","))
}

// SelectBenchmarks returns the benchmarks named in names, in the order
// given.
func SelectBenchmarks(names []string) ([]Benchmark, error) {
	all := Benchmarks()
	if len(names) == 0 {
		return all, nil
	}

	selected := make([]Benchmark, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		found := false
		for _, b := range all {
			if b.Name == name {
				selected = append(selected, b)
				found = true
				break
			}
		}
		if !found {
			return nil, errors.New(shared.ErrCodeInvalidConfig, "unknown benchmark").
				WithContext("benchmark", name)
		}
	}
	return selected, nil
}

func runBenchmark(b Benchmark, iterations int) BenchmarkResult {
	start := time.Now()
	b.Run(iterations)
	return BenchmarkResult{Name: b.Name, Iterations: iterations, Elapsed: time.Since(start)}
}

// RunBenchmark times b over iterations.
func RunBenchmark(b Benchmark, iterations int) BenchmarkResult {
	return runBenchmark(b, iterations)
}

func benchClone(iterations int) {
	p := shared.New(&benchDerived{})
	for i := 0; i < iterations; i++ {
		c := p.Clone()
		c.Reset()
	}
	p.Reset()
}

func benchInplace(iterations int) {
	for i := 0; i < iterations; i++ {
		p := shared.CreateInplaceValue(nil, benchDerived{payload: [4]int64{int64(i)}})
		p.Reset()
	}
}

func benchBuffer(iterations int) {
	for i := 0; i < iterations; i++ {
		p, err := shared.CreateInplaceUninitializedBuffer(256, nil)
		if err != nil {
			return
		}
		p.Reset()
	}
}

func benchCast(iterations int) {
	p := shared.CreateInplaceValue(nil, benchDerived{})
	for i := 0; i < iterations; i++ {
		base := shared.StaticCast[benchBase](p)
		back := shared.DynamicCast[benchDerived](base)
		back.Reset()
		base.Reset()
	}
	p.Reset()
}

func enabledString(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func auditTarget(config shared.AuditConfig) string {
	switch filepath.Ext(config.OutputFile) {
	case ".jsonl", ".db":
		return config.OutputFile
	}
	return shared.UnifiedAuditPath()
}

// checkFileWriteable verifies that path can be created or overwritten.
func checkFileWriteable(filePath string) error {
	dir := filepath.Dir(filePath)
	if dir == "" {
		dir = "."
	}
	info, err := os.Stat(dir)
	if err != nil {
		return errors.Wrap(err, shared.ErrCodeIOError, "directory does not exist").
			WithContext("path", dir)
	}
	if !info.IsDir() {
		return errors.New(shared.ErrCodeIOError, "parent path is not a directory").
			WithContext("path", dir)
	}

	if fileInfo, err := os.Stat(filePath); err == nil {
		if fileInfo.Mode().Perm()&0200 == 0 {
			return errors.New(shared.ErrCodeIOError, "file is not writable").
				WithContext("path", filePath)
		}
	}
	return nil
}
