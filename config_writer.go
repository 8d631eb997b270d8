// config_writer.go: Atomic file replacement
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shared

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/agilira/go-timecache"
)

// writeFileAtomic writes data to a temporary file next to path and renames
// it into place. The temporary file shares the target's directory so the
// rename stays on one filesystem.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tempPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp.%d", base, timecache.CachedTimeNano()))

	if err := os.WriteFile(tempPath, data, perm); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
