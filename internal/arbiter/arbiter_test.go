package arbiter

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcbridge/kcbridge/internal/model"
)

func TestArbiter_Suppress(t *testing.T) {
	a, store, backupPath := newTestArbiter(t,
		"[phone-123]\npairingNotifications = true\nreceiveNotifications = yes\n")

	rule, err := a.Suppress("phone-123")
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.True(t, rule.Suppressed)
	assert.ElementsMatch(t, model.AllEventClasses(), rule.Classes)

	for _, key := range []string{"pairingNotifications", "shareNotifications", "receiveNotifications"} {
		value, existed, err := store.Value("phone-123", key)
		require.NoError(t, err)
		assert.True(t, existed, key)
		assert.Equal(t, "false", value, key)
	}

	// The backup holds the prior state of every touched key.
	backup, err := LoadBackupFile(backupPath)
	require.NoError(t, err)
	require.Len(t, backup.Entries, 3)

	entry := backup.Entries[entryKey("phone-123", "pairingNotifications")]
	assert.True(t, entry.Existed)
	assert.Equal(t, "true", entry.Value)

	entry = backup.Entries[entryKey("phone-123", "shareNotifications")]
	assert.False(t, entry.Existed)
}

func TestArbiter_RestoreVerbatim(t *testing.T) {
	a, store, backupPath := newTestArbiter(t,
		"[phone-123]\npairingNotifications = true\nreceiveNotifications = yes\n")

	_, err := a.Suppress("phone-123")
	require.NoError(t, err)
	require.NoError(t, a.Restore("phone-123"))

	value, existed, err := store.Value("phone-123", "pairingNotifications")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "true", value)

	value, existed, err = store.Value("phone-123", "receiveNotifications")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "yes", value)

	// A key absent before suppression is deleted again.
	_, existed, err = store.Value("phone-123", "shareNotifications")
	require.NoError(t, err)
	assert.False(t, existed)

	assert.Nil(t, a.Suppressed("phone-123"))

	backup, err := LoadBackupFile(backupPath)
	require.NoError(t, err)
	assert.Empty(t, backup.Entries)
}

func TestArbiter_SuppressIdempotent(t *testing.T) {
	a, store, backupPath := newTestArbiter(t,
		"[phone-123]\npairingNotifications = true\n")

	_, err := a.Suppress("phone-123")
	require.NoError(t, err)
	_, err = a.Suppress("phone-123")
	require.NoError(t, err)

	// Re-suppressing must not overwrite the original backup.
	backup, err := LoadBackupFile(backupPath)
	require.NoError(t, err)
	entry := backup.Entries[entryKey("phone-123", "pairingNotifications")]
	assert.Equal(t, "true", entry.Value)

	require.NoError(t, a.Restore("phone-123"))
	value, _, err := store.Value("phone-123", "pairingNotifications")
	require.NoError(t, err)
	assert.Equal(t, "true", value)
}

func TestArbiter_RestoreSkipsExternalChange(t *testing.T) {
	a, store, _ := newTestArbiter(t,
		"[phone-123]\npairingNotifications = never\nreceiveNotifications = yes\n")

	_, err := a.Suppress("phone-123")
	require.NoError(t, err)

	// Some other writer takes over one of the keys.
	require.NoError(t, store.SetValue("phone-123", "pairingNotifications", "true"))

	require.NoError(t, a.Restore("phone-123"))

	// The external value wins over the backup.
	value, _, err := store.Value("phone-123", "pairingNotifications")
	require.NoError(t, err)
	assert.Equal(t, "true", value)

	// Untouched keys are still restored.
	value, _, err = store.Value("phone-123", "receiveNotifications")
	require.NoError(t, err)
	assert.Equal(t, "yes", value)
}

func TestArbiter_RehydrateAfterRestart(t *testing.T) {
	a, store, backupPath := newTestArbiter(t,
		"[phone-123]\npairingNotifications = true\n")

	_, err := a.Suppress("phone-123")
	require.NoError(t, err)

	// A fresh instance over the same files, as after a daemon restart.
	fresh := NewArbiter(store, backupPath, true, nil)
	require.NoError(t, fresh.Rehydrate())

	rule := fresh.Suppressed("phone-123")
	require.NotNil(t, rule)
	assert.True(t, rule.Suppressed)

	require.NoError(t, fresh.Restore("phone-123"))
	value, _, err := store.Value("phone-123", "pairingNotifications")
	require.NoError(t, err)
	assert.Equal(t, "true", value)
}

func TestArbiter_ReconcileExternal(t *testing.T) {
	a, store, backupPath := newTestArbiter(t,
		"[phone-123]\npairingNotifications = true\n")

	_, err := a.Suppress("phone-123")
	require.NoError(t, err)

	// One key flipped back externally: its backup entry is dropped but
	// the rule survives on the remaining keys.
	require.NoError(t, store.SetValue("phone-123", "pairingNotifications", "true"))
	require.NoError(t, a.ReconcileExternal())
	assert.NotNil(t, a.Suppressed("phone-123"))

	backup, err := LoadBackupFile(backupPath)
	require.NoError(t, err)
	assert.Len(t, backup.Entries, 2)

	// All keys flipped: the rule is gone.
	require.NoError(t, store.SetValue("phone-123", "shareNotifications", "true"))
	require.NoError(t, store.SetValue("phone-123", "receiveNotifications", "true"))
	require.NoError(t, a.ReconcileExternal())
	assert.Nil(t, a.Suppressed("phone-123"))
}

func TestArbiter_Disabled(t *testing.T) {
	path := writeSettingsFile(t, "[phone-123]\npairingNotifications = true\n")
	store := NewFileStore(path)
	a := NewArbiter(store, filepath.Join(t.TempDir(), "suppression-backup.json"), false, nil)

	rule, err := a.Suppress("phone-123")
	require.NoError(t, err)
	assert.Nil(t, rule)

	// The store was never touched.
	value, _, err := store.Value("phone-123", "pairingNotifications")
	require.NoError(t, err)
	assert.Equal(t, "true", value)

	require.NoError(t, a.Restore("phone-123"))
	require.NoError(t, a.Rehydrate())
	require.NoError(t, a.ReconcileExternal())
	assert.Empty(t, a.Rules())
}

func TestArbiter_StoreUnavailable(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "config"))
	a := NewArbiter(store, filepath.Join(t.TempDir(), "suppression-backup.json"), true, nil)

	_, err := a.Suppress("phone-123")
	assert.ErrorIs(t, err, model.ErrSuppressionUnavailable)
	assert.Nil(t, a.Suppressed("phone-123"))
}

func TestArbiter_Rules(t *testing.T) {
	a, _, _ := newTestArbiter(t,
		"[phone-123]\npairingNotifications = true\n\n[tablet-9]\nshareNotifications = on\n")

	_, err := a.Suppress("tablet-9")
	require.NoError(t, err)
	_, err = a.Suppress("phone-123")
	require.NoError(t, err)

	rules := a.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, "phone-123", rules[0].DeviceID)
	assert.Equal(t, "tablet-9", rules[1].DeviceID)
}

func newTestArbiter(t *testing.T, settings string) (*Arbiter, *FileStore, string) {
	t.Helper()
	store := NewFileStore(writeSettingsFile(t, settings))
	backupPath := filepath.Join(t.TempDir(), "suppression-backup.json")
	return NewArbiter(store, backupPath, true, nil), store, backupPath
}
