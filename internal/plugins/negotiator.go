// Package plugins reconciles daemon plugin reports into capability records.
package plugins

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kcbridge/kcbridge/internal/model"
)

// Negotiator tracks which plugin kinds each device offers and whether
// they are enabled. Daemon reports drive the records: a kind that
// stops being reported is marked unavailable but never deleted, so a
// device that comes back keeps its toggle history.
type Negotiator struct {
	mu     sync.RWMutex
	logger *slog.Logger

	// device id -> plugin kind -> record
	records map[string]map[model.PluginKind]*model.PluginRecord

	// paired reports whether a device is currently paired.
	paired func(id string) bool

	now func() time.Time
}

// NewNegotiator creates a negotiator. paired is consulted before any
// enable or disable is allowed.
func NewNegotiator(paired func(id string) bool, logger *slog.Logger) *Negotiator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Negotiator{
		logger:  logger,
		records: make(map[string]map[model.PluginKind]*model.PluginRecord),
		paired:  paired,
		now:     time.Now,
	}
}

// Reconcile applies a daemon plugin report for a device. loaded lists
// the raw plugin ids the daemon currently loads; enabled carries the
// per-id enabled flags. Reconcile is idempotent: repeating the same
// report changes nothing. Returns whether any record changed.
func (n *Negotiator) Reconcile(deviceID string, loaded []string, enabled map[string]bool) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	recs, ok := n.records[deviceID]
	if !ok {
		recs = make(map[model.PluginKind]*model.PluginRecord)
		n.records[deviceID] = recs
	}

	// Collapse the raw report onto kinds. Several raw ids can map to
	// the same kind; the kind is available when any of them is loaded
	// and enabled when any of them is enabled.
	type kindReport struct {
		rawID   string
		enabled bool
	}
	reported := make(map[model.PluginKind]kindReport)
	for _, raw := range loaded {
		kind := model.KindFromDaemonID(raw)
		r, seen := reported[kind]
		if !seen {
			r = kindReport{rawID: raw}
		} else if kind == model.PluginUnknown {
			n.logger.Debug("additional unrecognized plugin folded into unknown record",
				"device", deviceID, "plugin", raw, "kept", r.rawID)
		}
		if enabled[raw] {
			r.enabled = true
		}
		reported[kind] = r
	}

	changed := false
	syncedAt := n.now().Unix()

	for kind, report := range reported {
		rec, exists := recs[kind]
		if !exists {
			recs[kind] = &model.PluginRecord{
				DeviceID:   deviceID,
				Kind:       kind,
				RawID:      report.rawID,
				Available:  true,
				Enabled:    report.enabled,
				LastSyncAt: syncedAt,
			}
			changed = true
			continue
		}
		if !rec.Available || rec.Enabled != report.enabled || rec.RawID != report.rawID {
			rec.Available = true
			rec.Enabled = report.enabled
			rec.RawID = report.rawID
			changed = true
		}
		rec.LastSyncAt = syncedAt
	}

	// Kinds the daemon stopped reporting go unavailable, nothing more.
	for kind, rec := range recs {
		if _, stillThere := reported[kind]; !stillThere && rec.Available {
			rec.Available = false
			rec.LastSyncAt = syncedAt
			changed = true
		}
	}

	if changed {
		n.logger.Debug("plugin records reconciled", "device", deviceID, "loaded", len(loaded))
	}
	return changed
}

// SetEnabled applies a consumer toggle optimistically and returns the
// updated record. The next daemon report overwrites the optimistic
// value if the daemon disagrees. Requires the device to be paired.
func (n *Negotiator) SetEnabled(deviceID string, kind model.PluginKind, enabled bool) (*model.PluginRecord, error) {
	if !n.paired(deviceID) {
		return nil, fmt.Errorf("cannot toggle plugin %s on %s: %w", kind, deviceID, model.ErrNotPaired)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	recs, ok := n.records[deviceID]
	if !ok {
		return nil, fmt.Errorf("device %s reports no plugins: %w", deviceID, model.ErrUnknownPlugin)
	}
	rec, ok := recs[kind]
	if !ok {
		return nil, fmt.Errorf("device %s does not report plugin %s: %w", deviceID, kind, model.ErrUnknownPlugin)
	}

	if rec.Enabled != enabled {
		rec.Enabled = enabled
		n.logger.Info("plugin toggled", "device", deviceID, "plugin", kind, "enabled", enabled)
	}

	out := *rec
	return &out, nil
}

// Plugins returns copies of a device's plugin records sorted by kind.
func (n *Negotiator) Plugins(deviceID string) []model.PluginRecord {
	n.mu.RLock()
	defer n.mu.RUnlock()

	recs, ok := n.records[deviceID]
	if !ok {
		return nil
	}

	result := make([]model.PluginRecord, 0, len(recs))
	for _, rec := range recs {
		result = append(result, *rec)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Kind < result[j].Kind
	})
	return result
}

// Plugin returns a copy of one plugin record, or nil if the device
// never reported that kind.
func (n *Negotiator) Plugin(deviceID string, kind model.PluginKind) *model.PluginRecord {
	n.mu.RLock()
	defer n.mu.RUnlock()

	recs, ok := n.records[deviceID]
	if !ok {
		return nil
	}
	rec, ok := recs[kind]
	if !ok {
		return nil
	}
	out := *rec
	return &out
}

// RemoveDevice drops all plugin records of a device. Used when the
// device record itself is removed.
func (n *Negotiator) RemoveDevice(deviceID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.records, deviceID)
}
