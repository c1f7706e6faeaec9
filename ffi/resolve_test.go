// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package ffi

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/etch-lang/etch/cache"
)

func TestLibraryFilenameMatchesCurrentPlatform(t *testing.T) {
	name := LibraryFilename("m")
	switch runtime.GOOS {
	case "windows":
		require.Equal(t, "m.dll", name)
	case "darwin":
		require.Equal(t, "libm.dylib", name)
	default:
		require.Equal(t, "libm.so", name)
	}
}

func TestResolverFindsAndCachesLibrary(t *testing.T) {
	dir := t.TempDir()
	libPath := filepath.Join(dir, LibraryFilename("foo"))
	require.NoError(t, os.WriteFile(libPath, []byte("fake"), 0o644))

	idx, err := cache.OpenModuleIndex(filepath.Join(dir, "modules.leveldb"))
	require.NoError(t, err)
	defer idx.Close()

	r := NewResolver(idx, dir)
	got, err := r.Resolve("foo")
	require.NoError(t, err)
	require.Equal(t, libPath, got)

	entry, ok, err := idx.Resolve("foo")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, libPath, entry.ResolvedPath)
}

func TestResolverReturnsErrorWhenNotFound(t *testing.T) {
	dir := t.TempDir()
	idx, err := cache.OpenModuleIndex(filepath.Join(dir, "modules.leveldb"))
	require.NoError(t, err)
	defer idx.Close()

	r := NewResolver(idx, dir)
	_, err = r.Resolve("doesnotexist")
	require.Error(t, err)
}
