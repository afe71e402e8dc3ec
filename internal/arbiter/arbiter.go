package arbiter

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kcbridge/kcbridge/internal/model"
)

// suppressedValue is what the arbiter writes into a settings key to
// turn the daemon's own notification off.
const suppressedValue = "false"

// settingsKey maps an event class to the daemon settings key holding
// its notification toggle. Settings are grouped by device id.
func settingsKey(c model.EventClass) string {
	switch c {
	case model.EventClassPairRequest:
		return "pairingNotifications"
	case model.EventClassTransferComplete:
		return "shareNotifications"
	case model.EventClassDeviceNotification:
		return "receiveNotifications"
	default:
		return ""
	}
}

// Arbiter turns the daemon's duplicate notifications off for paired
// devices. Before every mutation it backs up the exact prior state of
// the key, and a restore writes that state back verbatim. The backup
// is persisted, so a restore stays possible across restarts.
type Arbiter struct {
	mu     sync.Mutex
	logger *slog.Logger

	store      SettingsStore
	backupPath string
	enabled    bool

	rules map[string]*model.SuppressionRule

	now func() time.Time
}

// NewArbiter creates an arbiter over the given settings store. When
// enabled is false every operation is a no-op.
func NewArbiter(store SettingsStore, backupPath string, enabled bool, logger *slog.Logger) *Arbiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Arbiter{
		logger:     logger,
		store:      store,
		backupPath: backupPath,
		enabled:    enabled,
		rules:      make(map[string]*model.SuppressionRule),
		now:        time.Now,
	}
}

// Rehydrate rebuilds the active suppression rules from the persisted
// backup. Called once at startup so devices suppressed before a
// restart stay restorable.
func (a *Arbiter) Rehydrate() error {
	if !a.enabled {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	backup, err := LoadBackupFile(a.backupPath)
	if err != nil {
		return err
	}

	for _, e := range backup.Entries {
		if rule, ok := a.rules[e.Group]; ok {
			if e.SavedAt < rule.AppliedAt {
				rule.AppliedAt = e.SavedAt
			}
			continue
		}
		a.rules[e.Group] = &model.SuppressionRule{
			DeviceID:   e.Group,
			Suppressed: true,
			Classes:    model.AllEventClasses(),
			AppliedAt:  e.SavedAt,
		}
	}

	if len(a.rules) > 0 {
		a.logger.Info("suppression rules rehydrated", "devices", len(a.rules))
	}
	return nil
}

// Suppress turns the daemon's notifications off for a device. The
// current value of every touched key is backed up first and the backup
// written to disk before any key is mutated, so a crash in between
// never loses the originals. Safe to call repeatedly: keys already
// suppressed are left alone and their backup is not overwritten.
func (a *Arbiter) Suppress(deviceID string) (*model.SuppressionRule, error) {
	if !a.enabled {
		return nil, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	backup, err := LoadBackupFile(a.backupPath)
	if err != nil {
		return nil, err
	}

	// Read the keys fresh and extend the backup.
	var toWrite []string
	backupDirty := false
	for _, class := range model.AllEventClasses() {
		key := settingsKey(class)
		current, existed, err := a.store.Value(deviceID, key)
		if err != nil {
			return nil, err
		}

		ek := entryKey(deviceID, key)
		if _, ok := backup.Entries[ek]; !ok {
			backup.Entries[ek] = BackupEntry{
				Group:   deviceID,
				Key:     key,
				Value:   current,
				Existed: existed,
				SavedAt: a.now().Unix(),
			}
			backupDirty = true
		}

		if !existed || current != suppressedValue {
			toWrite = append(toWrite, key)
		}
	}

	// Persist the backup before mutating anything.
	if backupDirty {
		if err := SaveBackupFile(a.backupPath, backup); err != nil {
			return nil, err
		}
	}

	for _, key := range toWrite {
		if err := a.store.SetValue(deviceID, key, suppressedValue); err != nil {
			return nil, err
		}
	}

	rule, ok := a.rules[deviceID]
	if !ok {
		rule = &model.SuppressionRule{
			DeviceID:   deviceID,
			Suppressed: true,
			Classes:    model.AllEventClasses(),
			AppliedAt:  a.now().Unix(),
		}
		a.rules[deviceID] = rule
	}

	if len(toWrite) > 0 {
		a.logger.Info("daemon notifications suppressed", "device", deviceID, "keys", len(toWrite))
	}
	return rule.Clone(), nil
}

// Restore writes the backed-up state of every key of a device back
// verbatim: prior values are restored byte for byte and keys that did
// not exist are deleted again. A key some other writer changed since
// we suppressed it is left alone; that writer's value wins.
func (a *Arbiter) Restore(deviceID string) error {
	if !a.enabled {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	backup, err := LoadBackupFile(a.backupPath)
	if err != nil {
		return err
	}

	restored := 0
	backupDirty := false
	for _, class := range model.AllEventClasses() {
		key := settingsKey(class)
		ek := entryKey(deviceID, key)
		entry, ok := backup.Entries[ek]
		if !ok {
			continue
		}

		current, existed, err := a.store.Value(deviceID, key)
		if err != nil {
			return err
		}

		if !existed || current != suppressedValue {
			a.logger.Warn("settings key changed externally, not restoring",
				"device", deviceID, "key", key)
			delete(backup.Entries, ek)
			backupDirty = true
			continue
		}

		if entry.Existed {
			if err := a.store.SetValue(deviceID, key, entry.Value); err != nil {
				return err
			}
		} else {
			if err := a.store.DeleteKey(deviceID, key); err != nil {
				return err
			}
		}
		delete(backup.Entries, ek)
		backupDirty = true
		restored++
	}

	if backupDirty {
		if err := SaveBackupFile(a.backupPath, backup); err != nil {
			return err
		}
	}

	delete(a.rules, deviceID)
	if restored > 0 {
		a.logger.Info("daemon notification settings restored", "device", deviceID, "keys", restored)
	}
	return nil
}

// ReconcileExternal re-checks every active rule against the store
// after an external write to the settings file. Keys no longer holding
// the suppressed value were taken over by another writer; their backup
// entries are dropped, and a device with no suppressed keys left loses
// its rule.
func (a *Arbiter) ReconcileExternal() error {
	if !a.enabled {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	backup, err := LoadBackupFile(a.backupPath)
	if err != nil {
		return err
	}

	backupDirty := false
	for deviceID := range a.rules {
		suppressed := 0
		for _, class := range model.AllEventClasses() {
			key := settingsKey(class)
			ek := entryKey(deviceID, key)
			if _, ok := backup.Entries[ek]; !ok {
				continue
			}

			current, existed, err := a.store.Value(deviceID, key)
			if err != nil {
				return err
			}
			if existed && current == suppressedValue {
				suppressed++
				continue
			}

			a.logger.Warn("suppressed key changed externally",
				"device", deviceID, "key", key)
			delete(backup.Entries, ek)
			backupDirty = true
		}

		if suppressed == 0 {
			delete(a.rules, deviceID)
		}
	}

	if backupDirty {
		return SaveBackupFile(a.backupPath, backup)
	}
	return nil
}

// Suppressed returns a copy of the active rule for a device, or nil.
func (a *Arbiter) Suppressed(deviceID string) *model.SuppressionRule {
	a.mu.Lock()
	defer a.mu.Unlock()

	rule, ok := a.rules[deviceID]
	if !ok {
		return nil
	}
	return rule.Clone()
}

// Rules returns copies of all active rules sorted by device id.
func (a *Arbiter) Rules() []model.SuppressionRule {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := make([]model.SuppressionRule, 0, len(a.rules))
	for _, rule := range a.rules {
		result = append(result, *rule.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DeviceID < result[j].DeviceID
	})
	return result
}
