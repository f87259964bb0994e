package mapping_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gravityproxy/internal/mapping"
)

func TestSnapshotResolveLongestMatchWins(t *testing.T) {
	snap := mapping.NewStaticSnapshot(map[string]string{
		"sonnet":        "claude-3-7-sonnet",
		"claude-sonnet": "claude-3-5-sonnet-latest",
	})

	assert.Equal(t, "claude-3-5-sonnet-latest", snap.Resolve("claude-sonnet-4"))
}

func TestSnapshotResolvePassesThroughUnknown(t *testing.T) {
	snap := mapping.NewStaticSnapshot(map[string]string{"sonnet": "claude-3-7-sonnet"})
	assert.Equal(t, "gemini-3-pro-preview", snap.Resolve("gemini-3-pro-preview"))
}

func TestSnapshotResolveNilTable(t *testing.T) {
	var snap mapping.Snapshot
	assert.Equal(t, "haiku", snap.Resolve("haiku"))
}

func TestNewWatcherLoadsOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	require.NoError(t, os.WriteFile(path, []byte("anthropic_model_mapping:\n  sonnet: claude-3-7-sonnet\n"), 0o644))

	w, err := mapping.NewWatcher(path, "anthropic_model_mapping")
	require.NoError(t, err)

	assert.Equal(t, "claude-3-7-sonnet", w.Current().Resolve("sonnet-4"))
}

func TestNewWatcherMissingFile(t *testing.T) {
	_, err := mapping.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), "anthropic_model_mapping")
	require.Error(t, err)
}
