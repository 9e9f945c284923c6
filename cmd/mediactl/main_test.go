package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// run executes the package-level rootCmd with args, one invocation at a
// time. The same command tree is reused across calls, so flag values set by
// an earlier invocation stay on the package-level vars.
func run(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestImportThenSummarySucceeds(t *testing.T) {
	dbRoot := t.TempDir()
	assetPath := filepath.Join(t.TempDir(), "photo.bin")
	require.NoError(t, os.WriteFile(assetPath, []byte("some bytes"), 0644))

	require.NoError(t, run(t, "import", dbRoot, assetPath))
	require.NoError(t, run(t, "summary", dbRoot))
}

func TestReplicateCopiesIntoFreshDestination(t *testing.T) {
	srcRoot := t.TempDir()
	dstRoot := t.TempDir()
	assetPath := filepath.Join(t.TempDir(), "photo.bin")
	require.NoError(t, os.WriteFile(assetPath, []byte("replicate me"), 0644))

	require.NoError(t, run(t, "import", srcRoot, assetPath))
	require.NoError(t, run(t, "replicate", srcRoot, dstRoot, "--force"))
}

func TestRepairWithNoSourceSucceedsOnHealthyDatabase(t *testing.T) {
	dbRoot := t.TempDir()
	assetPath := filepath.Join(t.TempDir(), "photo.bin")
	require.NoError(t, os.WriteFile(assetPath, []byte("healthy"), 0644))

	require.NoError(t, run(t, "import", dbRoot, assetPath))
	require.NoError(t, run(t, "repair", dbRoot))
}
