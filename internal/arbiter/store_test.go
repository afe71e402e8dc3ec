package arbiter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcbridge/kcbridge/internal/model"
)

func TestFileStore_Value(t *testing.T) {
	path := writeSettingsFile(t, "[phone-123]\npairingNotifications = true\n")
	store := NewFileStore(path)

	value, existed, err := store.Value("phone-123", "pairingNotifications")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "true", value)

	_, existed, err = store.Value("phone-123", "shareNotifications")
	require.NoError(t, err)
	assert.False(t, existed)

	_, existed, err = store.Value("tablet-9", "pairingNotifications")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestFileStore_MissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "config"))

	_, _, err := store.Value("phone-123", "pairingNotifications")
	assert.ErrorIs(t, err, model.ErrSuppressionUnavailable)

	err = store.SetValue("phone-123", "pairingNotifications", "false")
	assert.ErrorIs(t, err, model.ErrSuppressionUnavailable)

	err = store.DeleteKey("phone-123", "pairingNotifications")
	assert.ErrorIs(t, err, model.ErrSuppressionUnavailable)
}

func TestFileStore_SetValue(t *testing.T) {
	path := writeSettingsFile(t, "[phone-123]\npairingNotifications = true\nname = My Phone\n")
	store := NewFileStore(path)

	require.NoError(t, store.SetValue("phone-123", "pairingNotifications", "false"))

	value, existed, err := store.Value("phone-123", "pairingNotifications")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "false", value)

	// Untouched keys survive the rewrite.
	value, existed, err = store.Value("phone-123", "name")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "My Phone", value)

	// Writing leaves no temp file behind.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileStore_SetValue_NewKey(t *testing.T) {
	path := writeSettingsFile(t, "[phone-123]\npairingNotifications = true\n")
	store := NewFileStore(path)

	require.NoError(t, store.SetValue("phone-123", "shareNotifications", "false"))
	require.NoError(t, store.SetValue("tablet-9", "pairingNotifications", "false"))

	value, existed, err := store.Value("phone-123", "shareNotifications")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "false", value)

	value, existed, err = store.Value("tablet-9", "pairingNotifications")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "false", value)
}

func TestFileStore_DeleteKey(t *testing.T) {
	path := writeSettingsFile(t, "[phone-123]\npairingNotifications = true\nshareNotifications = false\n")
	store := NewFileStore(path)

	require.NoError(t, store.DeleteKey("phone-123", "pairingNotifications"))

	_, existed, err := store.Value("phone-123", "pairingNotifications")
	require.NoError(t, err)
	assert.False(t, existed)

	value, existed, err := store.Value("phone-123", "shareNotifications")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "false", value)

	// Deleting an absent key is a no-op.
	require.NoError(t, store.DeleteKey("phone-123", "pairingNotifications"))
	require.NoError(t, store.DeleteKey("tablet-9", "pairingNotifications"))
}

func TestLoadBackupFile_Missing(t *testing.T) {
	backup, err := LoadBackupFile(filepath.Join(t.TempDir(), "suppression-backup.json"))
	require.NoError(t, err)
	assert.Equal(t, CurrentBackupSchemaVersion, backup.SchemaVersion)
	assert.Empty(t, backup.Entries)
}

func TestBackupFile_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "suppression-backup.json")

	backup := DefaultBackupFile()
	backup.Entries[entryKey("phone-123", "pairingNotifications")] = BackupEntry{
		Group:   "phone-123",
		Key:     "pairingNotifications",
		Value:   "true",
		Existed: true,
		SavedAt: time.Now().Unix(),
	}
	backup.Entries[entryKey("phone-123", "shareNotifications")] = BackupEntry{
		Group:   "phone-123",
		Key:     "shareNotifications",
		Existed: false,
		SavedAt: time.Now().Unix(),
	}
	require.NoError(t, SaveBackupFile(path, backup))

	// Saving leaves no temp file behind.
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	loaded, err := LoadBackupFile(path)
	require.NoError(t, err)
	assert.Equal(t, backup.SchemaVersion, loaded.SchemaVersion)
	assert.Equal(t, backup.Entries, loaded.Entries)
	assert.Equal(t, []string{"phone-123"}, loaded.Groups())
}

func TestLoadBackupFile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suppression-backup.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := LoadBackupFile(path)
	assert.Error(t, err)
}

func writeSettingsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
