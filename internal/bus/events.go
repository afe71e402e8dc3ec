// Package bus provides the typed session bus gateway to the KDE Connect daemon.
package bus

import (
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/kcbridge/kcbridge/internal/model"
)

// D-Bus names used by the KDE Connect daemon.
const (
	KDEConnectService     = "org.kde.kdeconnect"
	KDEConnectDaemonPath  = dbus.ObjectPath("/modules/kdeconnect")
	KDEConnectDaemonIface = "org.kde.kdeconnect.daemon"
	KDEConnectDeviceIface = "org.kde.kdeconnect.device"

	BatteryIface      = KDEConnectDeviceIface + ".battery"
	ConnectivityIface = KDEConnectDeviceIface + ".connectivity_report"
	PingIface         = KDEConnectDeviceIface + ".ping"
	FindMyPhoneIface  = KDEConnectDeviceIface + ".findmyphone"

	devicePathPrefix = "/modules/kdeconnect/devices/"
)

// Raw pair states carried by the daemon's pairStateChanged signal.
const (
	RawPairNotPaired       = int32(0)
	RawPairRequested       = int32(1)
	RawPairRequestedByPeer = int32(2)
	RawPairPaired          = int32(3)
)

// PairStateFromDaemon maps a raw pairStateChanged value to a pair state.
func PairStateFromDaemon(v int32) model.PairState {
	switch v {
	case RawPairNotPaired:
		return model.PairStateUnpaired
	case RawPairRequested:
		return model.PairStateRequestSent
	case RawPairRequestedByPeer:
		return model.PairStateRequestReceived
	case RawPairPaired:
		return model.PairStatePaired
	default:
		return model.PairStateUnknown
	}
}

// EventType identifies a gateway event.
type EventType string

const (
	// EventDeviceAdded fires when the daemon announces a new device.
	EventDeviceAdded EventType = "device-added"
	// EventDeviceRemoved fires when the daemon forgets a device.
	EventDeviceRemoved EventType = "device-removed"
	// EventDeviceVisibility fires when a device's visibility changes.
	EventDeviceVisibility EventType = "device-visibility"
	// EventDeviceReachable fires when a device's reachability changes.
	EventDeviceReachable EventType = "device-reachable"
	// EventDeviceName fires when a device renames itself.
	EventDeviceName EventType = "device-name"
	// EventPairState fires when a device's pair state changes.
	EventPairState EventType = "pair-state"
	// EventBatteryRefreshed fires when a device reports battery telemetry.
	EventBatteryRefreshed EventType = "battery-refreshed"
	// EventConnectivityReport fires when a device reports cellular telemetry.
	EventConnectivityReport EventType = "connectivity-report"
	// EventDaemonUp fires when the daemon claims its bus name.
	EventDaemonUp EventType = "daemon-up"
	// EventDaemonDown fires when the daemon loses its bus name.
	EventDaemonDown EventType = "daemon-down"
	// EventBusLost fires when the session bus connection drops.
	EventBusLost EventType = "bus-lost"
	// EventBusRestored fires after a successful reconnect.
	EventBusRestored EventType = "bus-restored"
)

// Event is the typed form of a daemon signal. Only the fields relevant
// to the Type are populated.
type Event struct {
	Type     EventType
	DeviceID string

	Name      string // device-name
	Visible   bool   // device-visibility
	Reachable bool   // device-reachable
	PairState int32  // pair-state, raw daemon value

	Charge   int  // battery-refreshed
	Charging bool // battery-refreshed

	NetworkType    string // connectivity-report
	SignalStrength int    // connectivity-report
}

// deviceIDFromPath extracts the device id from a device object path like
// /modules/kdeconnect/devices/<id> or a plugin path below it.
func deviceIDFromPath(path dbus.ObjectPath) string {
	s := string(path)
	if !strings.HasPrefix(s, devicePathPrefix) {
		return ""
	}
	rest := strings.TrimPrefix(s, devicePathPrefix)
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// parseSignal converts a raw bus signal into a typed event.
// Returns false for signals the gateway does not care about.
func parseSignal(sig *dbus.Signal) (Event, bool) {
	switch sig.Name {
	case "org.freedesktop.DBus.NameOwnerChanged":
		if len(sig.Body) < 3 {
			return Event{}, false
		}
		name, _ := sig.Body[0].(string)
		if name != KDEConnectService {
			return Event{}, false
		}
		newOwner, _ := sig.Body[2].(string)
		if newOwner == "" {
			return Event{Type: EventDaemonDown}, true
		}
		return Event{Type: EventDaemonUp}, true

	case KDEConnectDaemonIface + ".deviceAdded":
		if id, ok := firstString(sig.Body); ok {
			return Event{Type: EventDeviceAdded, DeviceID: id}, true
		}

	case KDEConnectDaemonIface + ".deviceRemoved":
		if id, ok := firstString(sig.Body); ok {
			return Event{Type: EventDeviceRemoved, DeviceID: id}, true
		}

	case KDEConnectDaemonIface + ".deviceVisibilityChanged":
		if len(sig.Body) >= 2 {
			id, okID := sig.Body[0].(string)
			visible, okVis := sig.Body[1].(bool)
			if okID && okVis {
				return Event{Type: EventDeviceVisibility, DeviceID: id, Visible: visible}, true
			}
		}

	case KDEConnectDeviceIface + ".pairStateChanged":
		id := deviceIDFromPath(sig.Path)
		if id == "" || len(sig.Body) < 1 {
			return Event{}, false
		}
		if state, ok := sig.Body[0].(int32); ok {
			return Event{Type: EventPairState, DeviceID: id, PairState: state}, true
		}

	case KDEConnectDeviceIface + ".reachableChanged":
		id := deviceIDFromPath(sig.Path)
		if id == "" || len(sig.Body) < 1 {
			return Event{}, false
		}
		if reachable, ok := sig.Body[0].(bool); ok {
			return Event{Type: EventDeviceReachable, DeviceID: id, Reachable: reachable}, true
		}

	case KDEConnectDeviceIface + ".nameChanged":
		id := deviceIDFromPath(sig.Path)
		if id == "" || len(sig.Body) < 1 {
			return Event{}, false
		}
		if name, ok := sig.Body[0].(string); ok {
			return Event{Type: EventDeviceName, DeviceID: id, Name: name}, true
		}

	case BatteryIface + ".refreshed":
		id := deviceIDFromPath(sig.Path)
		if id == "" || len(sig.Body) < 2 {
			return Event{}, false
		}
		charging, okCharging := sig.Body[0].(bool)
		charge, okCharge := sig.Body[1].(int32)
		if okCharging && okCharge {
			return Event{Type: EventBatteryRefreshed, DeviceID: id, Charging: charging, Charge: int(charge)}, true
		}

	case ConnectivityIface + ".refreshed":
		id := deviceIDFromPath(sig.Path)
		if id == "" || len(sig.Body) < 2 {
			return Event{}, false
		}
		network, okNet := sig.Body[0].(string)
		strength, okStr := sig.Body[1].(int32)
		if okNet && okStr {
			return Event{Type: EventConnectivityReport, DeviceID: id, NetworkType: network, SignalStrength: int(strength)}, true
		}
	}

	return Event{}, false
}

// firstString returns the first body element if it is a string.
func firstString(body []interface{}) (string, bool) {
	if len(body) < 1 {
		return "", false
	}
	s, ok := body[0].(string)
	return s, ok
}
