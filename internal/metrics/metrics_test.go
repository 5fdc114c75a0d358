// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndRecent(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenAt(filepath.Join(dir, "metrics.db"))
	require.NoError(t, err)
	defer store.Close()

	err = store.Record(&RunStats{
		ModulePath:        "example.wasm",
		FunctionsSeen:     12,
		StructsToLocal:    3,
		ArraysToLocal:     1,
		AllocationsKept:   2,
		SubstringsFound:   5,
		FunctionsOutlined: 2,
		CalleesCreated:    2,
		BytesBefore:       4096,
		BytesAfter:        3800,
		Warnings:          []string{"array size 24 exceeds MaxArraySize"},
	})
	require.NoError(t, err)

	err = store.Record(&RunStats{ModulePath: "example.wasm", FunctionsSeen: 12})
	require.NoError(t, err)

	runs, err := store.Recent("example.wasm", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "example.wasm", runs[0].ModulePath)
	assert.Equal(t, 12, runs[0].FunctionsSeen)
}

func TestRecentLimit(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenAt(filepath.Join(dir, "metrics.db"))
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(&RunStats{ModulePath: "a.wasm"}))
	}

	runs, err := store.Recent("", 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRecentFiltersByModule(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenAt(filepath.Join(dir, "metrics.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Record(&RunStats{ModulePath: "a.wasm"}))
	require.NoError(t, store.Record(&RunStats{ModulePath: "b.wasm"}))

	runs, err := store.Recent("b.wasm", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "b.wasm", runs[0].ModulePath)
}

func TestWarningsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenAt(filepath.Join(dir, "metrics.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Record(&RunStats{
		ModulePath: "a.wasm",
		Warnings:   []string{"one", "two"},
	}))

	runs, err := store.Recent("a.wasm", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, []string{"one", "two"}, runs[0].Warnings)
}
