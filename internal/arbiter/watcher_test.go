package arbiter

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsWatcher_FiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	require.NoError(t, os.WriteFile(path, []byte("[a]\nk = v\n"), 0o600))

	var fired atomic.Int32
	w := NewSettingsWatcher(path, func() { fired.Add(1) })
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("[a]\nk = w\n"), 0o600))

	assert.Eventually(t, func() bool {
		return fired.Load() > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSettingsWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")

	var fired atomic.Int32
	w := NewSettingsWatcher(path, func() { fired.Add(1) })
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other"), []byte("x"), 0o600))

	assert.Never(t, func() bool {
		return fired.Load() > 0
	}, 300*time.Millisecond, 25*time.Millisecond)
}

func TestSettingsWatcher_StopIsSafe(t *testing.T) {
	w := NewSettingsWatcher(filepath.Join(t.TempDir(), "config"), func() {})

	// Stop before Start is a no-op.
	w.Stop()

	require.NoError(t, w.Start())
	// Start twice is a no-op.
	require.NoError(t, w.Start())

	w.Stop()
	w.Stop()
}
