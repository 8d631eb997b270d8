// handlers_test.go: Command handler tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/agilira/shared"
)

func TestHandleStress(t *testing.T) {
	t.Run("untracked", func(t *testing.T) {
		f := NewCLITestFixture(t)
		output, err := f.RunCLI("stress", "--goroutines", "4", "--iterations", "200")
		if err != nil {
			t.Fatalf("stress failed: %v", err)
		}
		f.AssertContains(output, "Goroutines:  4", "Clones:      800", "Final refs:  1", "Releases:    1", "OK")
	})

	t.Run("tracked", func(t *testing.T) {
		f := NewCLITestFixture(t)
		output, err := f.RunCLI("stress", "--goroutines", "2", "--iterations", "100", "--track")
		if err != nil {
			t.Fatalf("tracked stress failed: %v", err)
		}
		f.AssertContains(output, "Blocks:      2 allocated, 0 in use", "OK")
	})

	t.Run("tracked_with_audit", func(t *testing.T) {
		f := NewAuditedCLITestFixture(t)
		if _, err := f.RunCLI("stress", "--goroutines", "2", "--iterations", "50", "--track"); err != nil {
			t.Fatalf("tracked stress failed: %v", err)
		}

		stats, err := f.auditLogger.Stats()
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if stats.EventsByType["cli_stress"] != 1 {
			t.Errorf("Expected one cli_stress event, got %d", stats.EventsByType["cli_stress"])
		}
		if stats.EventsByType["block_allocate"] != 2 {
			t.Errorf("Expected 2 block_allocate events, got %d", stats.EventsByType["block_allocate"])
		}
		if stats.EventsByType["block_deallocate"] != 2 {
			t.Errorf("Expected 2 block_deallocate events, got %d", stats.EventsByType["block_deallocate"])
		}
		if stats.EventsByComponent["stress"] != 4 {
			t.Errorf("Expected 4 events from the stress allocator, got %d", stats.EventsByComponent["stress"])
		}
	})
}

func TestHandleBench(t *testing.T) {
	f := NewCLITestFixture(t)

	for _, op := range []string{"clone", "inplace", "buffer", "cast"} {
		t.Run(op, func(t *testing.T) {
			output, err := f.RunCLI("bench", "--iterations", "50", "--operation", op)
			if err != nil {
				t.Fatalf("bench %s failed: %v", op, err)
			}
			f.AssertContains(output, "OPERATION", op)
		})
	}

	t.Run("all", func(t *testing.T) {
		output, err := f.RunCLI("bench", "--iterations", "10")
		if err != nil {
			t.Fatalf("bench failed: %v", err)
		}
		f.AssertContains(output, "clone", "inplace", "buffer", "cast")
	})

	t.Run("unknown_operation", func(t *testing.T) {
		_, err := f.RunCLI("bench", "--operation", "bogus")
		assertCommandError(t, err, shared.ErrCodeInvalidConfig, "unknown benchmark")
	})

	t.Run("zero_iterations", func(t *testing.T) {
		_, err := f.RunCLI("bench", "--iterations", "0")
		assertCommandError(t, err, shared.ErrCodeInvalidConfig, "iterations must be positive")
	})
}

func TestHandleBuffer(t *testing.T) {
	f := NewCLITestFixture(t)

	t.Run("positional_size", func(t *testing.T) {
		output, err := f.RunCLI("buffer", "1024")
		if err != nil {
			t.Fatalf("buffer failed: %v", err)
		}
		f.AssertContains(output, "Size:        1024 bytes", "References:  5", "Released:    yes")
	})

	t.Run("flags", func(t *testing.T) {
		output, err := f.RunCLI("buffer", "--size", "64", "--clones", "0")
		if err != nil {
			t.Fatalf("buffer failed: %v", err)
		}
		f.AssertContains(output, "Size:        64 bytes", "References:  1")
	})

	t.Run("zero_size", func(t *testing.T) {
		output, err := f.RunCLI("buffer", "0")
		if err != nil {
			t.Fatalf("zero-size buffer failed: %v", err)
		}
		f.AssertContains(output, "Size:        0 bytes", "Released:    yes")
	})

	t.Run("invalid_size", func(t *testing.T) {
		_, err := f.RunCLI("buffer", "abc")
		assertCommandError(t, err, shared.ErrCodeInvalidBufferSize, "buffer size must be an integer")
	})
}

func TestHandleAuditStats(t *testing.T) {
	t.Run("manager_logger", func(t *testing.T) {
		f := NewAuditedCLITestFixture(t)
		if _, err := f.RunCLI("info"); err != nil {
			t.Fatalf("info failed: %v", err)
		}

		output, err := f.RunCLI("audit", "stats")
		if err != nil {
			t.Fatalf("audit stats failed: %v", err)
		}
		f.AssertContains(output, "Backend:        jsonl", "cli_info", "sharedctl")
	})

	t.Run("explicit_output_json", func(t *testing.T) {
		f := NewAuditedCLITestFixture(t)
		if _, err := f.RunCLI("info"); err != nil {
			t.Fatalf("info failed: %v", err)
		}
		if err := f.auditLogger.Flush(); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}

		plain := NewCLITestFixture(t)
		output, err := plain.RunCLI("audit", "stats", "--output", f.auditPath, "--json")
		if err != nil {
			t.Fatalf("audit stats failed: %v", err)
		}

		var stats shared.AuditDatabaseStats
		if err := json.Unmarshal([]byte(output), &stats); err != nil {
			t.Fatalf("Output is not JSON: %v\n%s", err, output)
		}
		if stats.Backend != "jsonl" {
			t.Errorf("Expected jsonl backend, got %s", stats.Backend)
		}
		if stats.EventsByType["cli_info"] != 1 {
			t.Errorf("Expected one cli_info event, got %d", stats.EventsByType["cli_info"])
		}
	})

	t.Run("sqlite_output", func(t *testing.T) {
		f := NewCLITestFixture(t)
		dbPath := f.Path("audit.db")

		config := shared.DefaultAuditConfig()
		config.OutputFile = dbPath
		logger, err := shared.NewAuditLogger(config)
		if err != nil {
			t.Fatalf("Failed to create SQLite audit logger: %v", err)
		}
		logger.LogCommand("seed", nil)
		if err := logger.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		output, err := f.RunCLI("audit", "stats", "--output", dbPath)
		if err != nil {
			t.Fatalf("audit stats failed: %v", err)
		}
		f.AssertContains(output, "Backend:        sqlite", "Schema version: 2", "cli_seed")
	})

	t.Run("missing_output", func(t *testing.T) {
		f := NewCLITestFixture(t)
		_, err := f.RunCLI("audit", "stats", "--output", f.Path("missing.jsonl"))
		assertCommandError(t, err, shared.ErrCodeIOError, "audit file not found")
	})
}

func TestHandleAuditMaintenance(t *testing.T) {
	f := NewAuditedCLITestFixture(t)
	output, err := f.RunCLI("audit", "maintenance")
	if err != nil {
		t.Fatalf("audit maintenance failed: %v", err)
	}
	f.AssertContains(output, "Maintenance complete")
}

func TestHandleInfo(t *testing.T) {
	f := NewCLITestFixture(t)

	output, err := f.RunCLI("info")
	if err != nil {
		t.Fatalf("info failed: %v", err)
	}
	f.AssertContains(output, "sharedctl "+Version, "Go:", "Audit:       disabled")
	if strings.Contains(output, "Layouts:") {
		t.Error("Layout details should only appear with --verbose")
	}

	output, err = f.RunCLI("info", "--verbose")
	if err != nil {
		t.Fatalf("info --verbose failed: %v", err)
	}
	f.AssertContains(output, "Ring:        256 events, batch 16", "Layouts:", "Min level:   INFO")
}

func TestHandleConfig(t *testing.T) {
	f := NewCLITestFixture(t)

	t.Run("show_defaults", func(t *testing.T) {
		output, err := f.RunCLI("config", "show")
		if err != nil {
			t.Fatalf("config show failed: %v", err)
		}
		f.AssertContains(output, "ring_capacity: 256", "batch_size: 16", "goroutines: 8", "min_level: INFO")
	})

	t.Run("init_then_show", func(t *testing.T) {
		path := f.Path("shared.yaml")
		output, err := f.RunCLI("config", "init", path)
		if err != nil {
			t.Fatalf("config init failed: %v", err)
		}
		f.AssertContains(output, "Wrote")

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("config file not written: %v", err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("Expected 0600 permissions, got %v", info.Mode().Perm())
		}

		output, err = f.RunCLI("config", "show", "--file", path)
		if err != nil {
			t.Fatalf("config show --file failed: %v", err)
		}
		f.AssertContains(output, "ring_capacity: 256")
	})

	t.Run("init_refuses_overwrite", func(t *testing.T) {
		path := f.Path("existing.yaml")
		if err := os.WriteFile(path, []byte("ring_capacity: 64\n"), 0600); err != nil {
			t.Fatal(err)
		}

		_, err := f.RunCLI("config", "init", path)
		assertCommandError(t, err, shared.ErrCodeInvalidConfig, "already exists")

		if _, err := f.RunCLI("config", "init", path, "--force"); err != nil {
			t.Fatalf("config init --force failed: %v", err)
		}
	})

	t.Run("show_invalid_file", func(t *testing.T) {
		path := f.Path("invalid.yaml")
		if err := os.WriteFile(path, []byte("ring_capacity: [1, 2\n"), 0600); err != nil {
			t.Fatal(err)
		}
		_, err := f.RunCLI("config", "show", "--file", path)
		assertCommandError(t, err, shared.ErrCodeInvalidConfig, "failed to parse configuration file")
	})

	t.Run("validate_current", func(t *testing.T) {
		output, err := f.RunCLI("config", "validate")
		if err != nil {
			t.Fatalf("config validate failed: %v", err)
		}
		f.AssertContains(output, "Configuration is valid")
	})

	t.Run("validate_warnings", func(t *testing.T) {
		path := f.Path("small.yaml")
		if err := os.WriteFile(path, []byte("ring_capacity: 16\nallocation_limit: 5\n"), 0600); err != nil {
			t.Fatal(err)
		}
		output, err := f.RunCLI("config", "validate", path)
		if err != nil {
			t.Fatalf("config validate failed: %v", err)
		}
		f.AssertContains(output, "valid with 2 warning(s)", "warning:", "track_blocks")
	})

	t.Run("validate_invalid", func(t *testing.T) {
		path := f.Path("bad-audit.yaml")
		content := "audit:\n  enabled: true\n  output_file: " + f.Path("nowhere/audit.jsonl") + "\n"
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
		_, err := f.RunCLI("config", "validate", path)
		assertCommandError(t, err, shared.ErrCodeInvalidConfig, "configuration is invalid")
		f.AssertContains(f.out.String(), "error:", "does not exist")
	})
}

func TestHandleCompletion(t *testing.T) {
	f := NewCLITestFixture(t)

	for _, shell := range []string{"bash", "zsh", "fish"} {
		t.Run(shell, func(t *testing.T) {
			output, err := f.RunCLI("completion", shell)
			if err != nil {
				t.Fatalf("completion %s failed: %v", shell, err)
			}
			f.AssertContains(output, "sharedctl", "stress")
		})
	}

	t.Run("unsupported", func(t *testing.T) {
		_, err := f.RunCLI("completion", "powershell")
		assertCommandError(t, err, shared.ErrCodeInvalidConfig, "unsupported shell")
	})
}

func TestSelectBenchmarks(t *testing.T) {
	all, err := SelectBenchmarks(nil)
	if err != nil || len(all) != 4 {
		t.Fatalf("Expected all 4 benchmarks, got %d (%v)", len(all), err)
	}

	selected, err := SelectBenchmarks([]string{"Cast", " clone "})
	if err != nil {
		t.Fatalf("SelectBenchmarks failed: %v", err)
	}
	if len(selected) != 2 || selected[0].Name != "cast" || selected[1].Name != "clone" {
		t.Errorf("Unexpected selection: %+v", selected)
	}

	if _, err := SelectBenchmarks([]string{"nope"}); err == nil {
		t.Error("Expected error for unknown benchmark")
	}

	result := RunBenchmark(selected[0], 10)
	if result.Iterations != 10 || result.NsPerOp() < 0 {
		t.Errorf("Unexpected result: %+v", result)
	}
	if (BenchmarkResult{}).NsPerOp() != 0 {
		t.Error("Zero iterations should report 0 ns/op")
	}
}
