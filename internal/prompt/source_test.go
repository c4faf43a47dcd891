// ABOUTME: Tests for static and file-backed system prompt sources
// ABOUTME: Verifies defaults, live reload on write, and keeping the last good prompt

package prompt

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	assert.Equal(t, "be kind", Static("be kind").Get())
	assert.Equal(t, DefaultPrompt, Static("   ").Get())
	assert.NoError(t, Static("x").Close())
}

func TestFromFile_LoadsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("first prompt\n"), 0o644))

	src, err := FromFile(path, nil)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, "first prompt", src.Get())

	require.NoError(t, os.WriteFile(path, []byte("second prompt"), 0o644))

	assert.Eventually(t, func() bool {
		return src.Get() == "second prompt"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestFromFile_EmptyReloadKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("stable"), 0o644))

	src, err := FromFile(path, nil)
	require.NoError(t, err)
	defer src.Close()

	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))
	time.Sleep(3 * reloadDebounce)

	assert.Equal(t, "stable", src.Get())
}

func TestFromFile_Missing(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "absent.txt"), nil)
	assert.Error(t, err)
}

func TestClose_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("p"), 0o644))

	src, err := FromFile(path, nil)
	require.NoError(t, err)

	assert.NoError(t, src.Close())
	assert.NoError(t, src.Close())
}
