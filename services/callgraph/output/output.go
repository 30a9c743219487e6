// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package output writes rendered graphs to disk.
//
// Writers to the same path serialise on an OS lock held on "<path>.lock",
// and each write lands atomically through a temp file and rename, so a
// reader never observes a half-written graph even when watch and generate
// target the same file.
package output

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

var (
	// ErrLockTimeout is returned when the output lock cannot be acquired
	// before the context is done.
	ErrLockTimeout = errors.New("timeout acquiring output lock")

	// ErrPathRequired is returned for an empty output path.
	ErrPathRequired = errors.New("output path is required")
)

// lockPollInterval is how often a contended lock is retried.
const lockPollInterval = 10 * time.Millisecond

// FileMode is the permission of written graph files.
const FileMode os.FileMode = 0o644

// WriteFile atomically replaces path with data.
//
// Description:
//
//	Creates the parent directory, takes the lock on path+".lock", writes
//	data to a temp file in the same directory, syncs it and renames it
//	over path. The lock file is left in place; flock locks vanish with the
//	process, so a stale file never blocks a later run.
//
// Inputs:
//
//	ctx - Bounds the wait for the lock.
//	path - Destination file.
//	data - Complete file contents.
//
// Outputs:
//
//	error - ErrPathRequired, ErrLockTimeout, or an I/O failure.
func WriteFile(ctx context.Context, path string, data []byte) error {
	if path == "" {
		return ErrPathRequired
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory %s: %w", dir, err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockPollInterval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %s", ErrLockTimeout, path)
		}
		return fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLockTimeout, path)
	}
	defer func() { _ = lock.Unlock() }()

	return replace(path, data)
}

func replace(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = os.Chmod(tmp.Name(), FileMode); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tmp.Name(), path, err)
	}
	return nil
}
