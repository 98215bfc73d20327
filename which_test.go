package dfork_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/catern/dfork"
)

func TestWhichAbsolutePath(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "prog")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755))

	got, ok := dfork.Which(exe, "")
	require.True(t, ok)
	require.Equal(t, exe, got)
}

func TestWhichSearchesPath(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "prog")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755))

	got, ok := dfork.Which("prog", dir)
	require.True(t, ok)
	require.Equal(t, exe, got)
}

func TestWhichRejectsNonExecutable(t *testing.T) {
	dir := t.TempDir()
	notExe := filepath.Join(dir, "data.txt")
	require.NoError(t, os.WriteFile(notExe, []byte("data"), 0o644))

	_, ok := dfork.Which("data.txt", dir)
	require.False(t, ok)
}

func TestWhichMissing(t *testing.T) {
	_, ok := dfork.Which("definitely_not_a_real_binary_xyz", t.TempDir())
	require.False(t, ok)
}
