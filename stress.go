// stress.go: Concurrent clone/reset stress run
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shared

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-errors"
)

// ErrCodeReleaseMismatch reports a stress run whose release count or final
// reference count was wrong.
const ErrCodeReleaseMismatch = "SHARED_RELEASE_MISMATCH"

// StressResult summarizes a clone/reset stress run.
type StressResult struct {
	Goroutines    int           `json:"goroutines"`
	Iterations    int           `json:"iterations"`
	Clones        int64         `json:"clones"`
	FinalRefs     int           `json:"final_refs"`
	Releases      int64         `json:"releases"`
	Duration      time.Duration `json:"duration"`
	Cancelled     bool          `json:"cancelled"`
	AllocatorName string        `json:"allocator,omitempty"`
}

type stressPayload struct {
	values [8]int64
}

// RunCloneResetStress shares one object among cfg.Goroutines goroutines
// that each clone and immediately reset it cfg.Iterations times. Afterwards
// the original must be the only reference left, and resetting it must run
// the deleter exactly once. Cancelling ctx stops the workers early; the
// checks still run.
func RunCloneResetStress(ctx context.Context, cfg StressConfig, a Allocator) (StressResult, error) {
	defaults := (&Config{Stress: cfg}).WithDefaults().Stress
	result := StressResult{Goroutines: defaults.Goroutines, Iterations: defaults.Iterations}
	if s, ok := a.(interface{ Stats() AllocatorStats }); ok {
		result.AllocatorName = s.Stats().Name
	}

	ctx, cancel := context.WithTimeout(ctx, defaults.Timeout)
	defer cancel()

	var releases atomic.Int64
	a = allocatorOrDefault(a)
	original := NewWithDeleter(NewObject[stressPayload](a), func(p *stressPayload) {
		releases.Add(1)
		DestroyObject(a, p)
	}, a)

	var (
		wg     sync.WaitGroup
		clones atomic.Int64
	)
	start := time.Now()
	for g := 0; g < defaults.Goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < defaults.Iterations; i++ {
				if i&255 == 0 && ctx.Err() != nil {
					return
				}
				c := original.Clone()
				c.Reset()
				clones.Add(1)
			}
		}()
	}
	wg.Wait()
	result.Duration = time.Since(start)
	result.Clones = clones.Load()
	result.Cancelled = ctx.Err() != nil

	result.FinalRefs = original.NumReferences()
	if result.FinalRefs != 1 || releases.Load() != 0 {
		return result, errors.New(ErrCodeReleaseMismatch, "reference count changed by balanced clone/reset").
			WithContext("final_refs", result.FinalRefs).
			WithContext("releases", releases.Load())
	}

	original.Reset()
	result.Releases = releases.Load()
	if result.Releases != 1 {
		return result, errors.New(ErrCodeReleaseMismatch, "managed object not released exactly once").
			WithContext("releases", result.Releases)
	}
	return result, nil
}
