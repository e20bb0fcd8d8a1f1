// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// MaxConfigFileSize caps how much ReadFileSafely will load.
const MaxConfigFileSize = 1 << 20

// ReadFileSafely reads a small regular file such as the YAML configuration.
// Directories and files over MaxConfigFileSize are rejected.
func ReadFileSafely(path string) ([]byte, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("could not get absolute path for %s: %w", path, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", absPath)
	}
	if info.Size() > MaxConfigFileSize {
		return nil, fmt.Errorf("%s is %d bytes, limit is %d", absPath, info.Size(), MaxConfigFileSize)
	}

	return os.ReadFile(absPath) // #nosec G304
}
