// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFile_CreatesAndReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "callgraph.dot")

	require.NoError(t, WriteFile(context.Background(), path, []byte("digraph a {}\n")))
	require.NoError(t, WriteFile(context.Background(), path, []byte("digraph b {}\n")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "digraph b {}\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, FileMode, info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp.", "temp files are renamed away")
	}
}

func TestWriteFile_EmptyPath(t *testing.T) {
	assert.ErrorIs(t, WriteFile(context.Background(), "", nil), ErrPathRequired)
}

func TestWriteFile_WaitsForLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	held := flock.New(path + ".lock")
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = WriteFile(ctx, path, []byte("{}"))
	assert.ErrorIs(t, err, ErrLockTimeout)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	require.NoError(t, held.Unlock())
	assert.NoError(t, WriteFile(context.Background(), path, []byte("{}")))
}

func TestWriteFile_ConcurrentWritersNeverInterleave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.dot")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			body := strings.Repeat(fmt.Sprintf("%d", i), 4096)
			assert.NoError(t, WriteFile(context.Background(), path, []byte(body)))
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, 4096)
	assert.Equal(t, strings.Repeat(string(data[0]), 4096), string(data))
}
