package arbiter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	// CurrentBackupSchemaVersion is the current version of the backup schema.
	CurrentBackupSchemaVersion = 1
)

// BackupEntry preserves the exact prior state of one settings key so a
// restore can put it back verbatim, including "the key did not exist".
type BackupEntry struct {
	Group   string `json:"group"`
	Key     string `json:"key"`
	Value   string `json:"value"`
	Existed bool   `json:"existed"`
	SavedAt int64  `json:"saved_at"`
}

// BackupFile is the on-disk record of every settings key the arbiter
// has mutated and not yet restored.
// Persisted to ~/.local/share/kcbridge/suppression-backup.json
type BackupFile struct {
	SchemaVersion int                    `json:"schema_version"`
	Entries       map[string]BackupEntry `json:"entries"`
}

// backupFileMutex protects concurrent access to the backup file.
var backupFileMutex sync.Mutex

// DefaultBackupFile returns an empty backup.
func DefaultBackupFile() *BackupFile {
	return &BackupFile{
		SchemaVersion: CurrentBackupSchemaVersion,
		Entries:       make(map[string]BackupEntry),
	}
}

// entryKey identifies a backup entry within the file.
func entryKey(group, key string) string {
	return group + "/" + key
}

// LoadBackupFile loads the backup from disk. A missing file is an
// empty backup; a corrupt file is an error, because discarding it
// would lose the only copy of the original settings.
func LoadBackupFile(path string) (*BackupFile, error) {
	backupFileMutex.Lock()
	defer backupFileMutex.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultBackupFile(), nil
		}
		return nil, err
	}

	var backup BackupFile
	if err := json.Unmarshal(data, &backup); err != nil {
		return nil, fmt.Errorf("backup file %s is corrupt: %w", path, err)
	}

	if backup.SchemaVersion == 0 {
		backup.SchemaVersion = CurrentBackupSchemaVersion
	}
	if backup.Entries == nil {
		backup.Entries = make(map[string]BackupEntry)
	}

	return &backup, nil
}

// SaveBackupFile saves the backup to disk atomically.
func SaveBackupFile(path string, backup *BackupFile) error {
	backupFileMutex.Lock()
	defer backupFileMutex.Unlock()

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	if backup.SchemaVersion == 0 {
		backup.SchemaVersion = CurrentBackupSchemaVersion
	}

	data, err := json.MarshalIndent(backup, "", "  ")
	if err != nil {
		return err
	}

	// Write atomically via temp file
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}

// Groups returns the distinct groups present in the backup.
func (b *BackupFile) Groups() []string {
	seen := make(map[string]bool)
	var groups []string
	for _, e := range b.Entries {
		if !seen[e.Group] {
			seen[e.Group] = true
			groups = append(groups, e.Group)
		}
	}
	return groups
}
