package model

import "time"

// PluginKind identifies one protocol plugin on a device. The set is closed;
// daemon plugin ids outside the mapping become PluginUnknown records that
// keep the raw id so nothing the daemon reports is lost.
type PluginKind string

const (
	PluginClipboard      PluginKind = "clipboard"
	PluginSms            PluginKind = "sms"
	PluginNotifications  PluginKind = "notifications"
	PluginMediaControl   PluginKind = "media-control"
	PluginFileTransfer   PluginKind = "file-transfer"
	PluginBattery        PluginKind = "battery"
	PluginFindPhone      PluginKind = "find-phone"
	PluginRemoteCommands PluginKind = "remote-commands"
	PluginSignalStrength PluginKind = "signal-strength"
	PluginBrowseDevice   PluginKind = "browse-device"
	PluginUnknown        PluginKind = "unknown"
)

// KnownPluginKinds returns every kind in the closed set, excluding Unknown.
func KnownPluginKinds() []PluginKind {
	return []PluginKind{
		PluginClipboard,
		PluginSms,
		PluginNotifications,
		PluginMediaControl,
		PluginFileTransfer,
		PluginBattery,
		PluginFindPhone,
		PluginRemoteCommands,
		PluginSignalStrength,
		PluginBrowseDevice,
	}
}

// ParsePluginKind maps a kind name (as used on the consumer surface) onto
// the closed set. The second result is false for unrecognized names.
func ParsePluginKind(s string) (PluginKind, bool) {
	for _, k := range KnownPluginKinds() {
		if PluginKind(s) == k {
			return k, true
		}
	}
	return PluginUnknown, false
}

// daemonPluginIDs maps daemon plugin identifiers onto kinds. The daemon
// ships two media plugins; both map to MediaControl.
var daemonPluginIDs = map[string]PluginKind{
	"kdeconnect_clipboard":           PluginClipboard,
	"kdeconnect_sms":                 PluginSms,
	"kdeconnect_notifications":       PluginNotifications,
	"kdeconnect_mprisremote":         PluginMediaControl,
	"kdeconnect_mpriscontrol":        PluginMediaControl,
	"kdeconnect_share":               PluginFileTransfer,
	"kdeconnect_battery":             PluginBattery,
	"kdeconnect_findmyphone":         PluginFindPhone,
	"kdeconnect_runcommand":          PluginRemoteCommands,
	"kdeconnect_connectivity_report": PluginSignalStrength,
	"kdeconnect_sftp":                PluginBrowseDevice,
}

// KindFromDaemonID maps a daemon plugin identifier onto the closed kind set.
func KindFromDaemonID(id string) PluginKind {
	if k, ok := daemonPluginIDs[id]; ok {
		return k
	}
	return PluginUnknown
}

// DaemonID returns the daemon plugin identifier for a known kind, or ""
// for PluginUnknown (unknown kinds carry their raw id on the record).
func (k PluginKind) DaemonID() string {
	switch k {
	case PluginClipboard:
		return "kdeconnect_clipboard"
	case PluginSms:
		return "kdeconnect_sms"
	case PluginNotifications:
		return "kdeconnect_notifications"
	case PluginMediaControl:
		return "kdeconnect_mprisremote"
	case PluginFileTransfer:
		return "kdeconnect_share"
	case PluginBattery:
		return "kdeconnect_battery"
	case PluginFindPhone:
		return "kdeconnect_findmyphone"
	case PluginRemoteCommands:
		return "kdeconnect_runcommand"
	case PluginSignalStrength:
		return "kdeconnect_connectivity_report"
	case PluginBrowseDevice:
		return "kdeconnect_sftp"
	default:
		return ""
	}
}

// PluginRecord tracks one plugin kind for one device: what the daemon
// reports as available and what the consumer last asked for. At most one
// record exists per (device id, kind, raw id) key. Records are never
// deleted while their device exists; kinds that stop being reported are
// marked unavailable so the history of having seen them survives.
type PluginRecord struct {
	DeviceID   string     `json:"device_id"`
	Kind       PluginKind `json:"kind"`
	RawID      string     `json:"raw_id,omitempty"` // daemon id, kept for Unknown kinds
	Available  bool       `json:"available"`
	Enabled    bool       `json:"enabled"`
	LastSyncAt int64      `json:"last_sync_at"`
}

// LastSyncTime returns the last reconcile timestamp as a time.Time.
func (r *PluginRecord) LastSyncTime() time.Time {
	return time.Unix(r.LastSyncAt, 0)
}
