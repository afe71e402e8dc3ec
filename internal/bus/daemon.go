package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/kcbridge/kcbridge/internal/model"
)

// Client is the typed wrapper around the KDE Connect daemon's D-Bus
// surface. All calls go through the gateway and inherit its retry and
// reconnect behaviour.
type Client struct {
	gw     *Gateway
	logger *slog.Logger
}

// NewClient creates a daemon client on top of the given gateway.
func NewClient(gw *Gateway, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{gw: gw, logger: logger}
}

// DeviceInfo is the property set of a daemon device object.
type DeviceInfo struct {
	ID                  string
	Name                string
	Type                string
	Reachable           bool
	Paired              bool
	Trusted             bool
	PairRequested       bool
	PairRequestedByPeer bool
}

// DevicePath returns the object path of a daemon device.
func DevicePath(id string) dbus.ObjectPath {
	return dbus.ObjectPath(devicePathPrefix + id)
}

// DaemonOwned reports whether the KDE Connect daemon currently owns
// its well-known bus name.
func (c *Client) DaemonOwned(ctx context.Context) (bool, error) {
	call, err := c.gw.Call(ctx, "org.freedesktop.DBus", "/org/freedesktop/DBus",
		"org.freedesktop.DBus.NameHasOwner", KDEConnectService)
	if err != nil {
		return false, err
	}
	var owned bool
	if err := call.Store(&owned); err != nil {
		return false, fmt.Errorf("failed to decode NameHasOwner reply: %w", err)
	}
	return owned, nil
}

// AnnouncedName returns the name the daemon announces to peers.
func (c *Client) AnnouncedName(ctx context.Context) (string, error) {
	call, err := c.gw.Call(ctx, KDEConnectService, KDEConnectDaemonPath,
		KDEConnectDaemonIface+".announcedName")
	if err != nil {
		return "", err
	}
	var name string
	if err := call.Store(&name); err != nil {
		return "", fmt.Errorf("failed to decode announcedName reply: %w", err)
	}
	return name, nil
}

// Devices lists device ids known to the daemon, optionally restricted
// to reachable or paired ones.
func (c *Client) Devices(ctx context.Context, onlyReachable, onlyPaired bool) ([]string, error) {
	call, err := c.gw.Call(ctx, KDEConnectService, KDEConnectDaemonPath,
		KDEConnectDaemonIface+".devices", onlyReachable, onlyPaired)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := call.Store(&ids); err != nil {
		return nil, fmt.Errorf("failed to decode devices reply: %w", err)
	}
	return ids, nil
}

// DeviceInfo reads the full property set of a device object.
func (c *Client) DeviceInfo(ctx context.Context, id string) (*DeviceInfo, error) {
	props, err := c.gw.Properties(ctx, KDEConnectService, DevicePath(id), KDEConnectDeviceIface)
	if err != nil {
		return nil, fmt.Errorf("failed to read device %s: %w", id, err)
	}
	return &DeviceInfo{
		ID:                  id,
		Name:                variantString(props, "name"),
		Type:                variantString(props, "type"),
		Reachable:           variantBool(props, "isReachable"),
		Paired:              variantBool(props, "isPaired"),
		Trusted:             variantBool(props, "isTrusted"),
		PairRequested:       variantBool(props, "isPairRequested"),
		PairRequestedByPeer: variantBool(props, "isPairRequestedByPeer"),
	}, nil
}

// RequestPairing asks a device to pair with us.
func (c *Client) RequestPairing(ctx context.Context, id string) error {
	_, err := c.gw.Call(ctx, KDEConnectService, DevicePath(id),
		KDEConnectDeviceIface+".requestPairing")
	if err != nil {
		return fmt.Errorf("failed to request pairing with %s: %w", id, err)
	}
	return nil
}

// AcceptPairing accepts a pair request sent by the device.
func (c *Client) AcceptPairing(ctx context.Context, id string) error {
	_, err := c.gw.Call(ctx, KDEConnectService, DevicePath(id),
		KDEConnectDeviceIface+".acceptPairing")
	if err != nil {
		return fmt.Errorf("failed to accept pairing with %s: %w", id, err)
	}
	return nil
}

// RejectPairing rejects a pair request sent by the device.
func (c *Client) RejectPairing(ctx context.Context, id string) error {
	_, err := c.gw.Call(ctx, KDEConnectService, DevicePath(id),
		KDEConnectDeviceIface+".rejectPairing")
	if err != nil {
		return fmt.Errorf("failed to reject pairing with %s: %w", id, err)
	}
	return nil
}

// CancelPairing withdraws a pair request we sent earlier.
func (c *Client) CancelPairing(ctx context.Context, id string) error {
	_, err := c.gw.Call(ctx, KDEConnectService, DevicePath(id),
		KDEConnectDeviceIface+".cancelPairing")
	if err != nil {
		return fmt.Errorf("failed to cancel pairing with %s: %w", id, err)
	}
	return nil
}

// Unpair drops the pairing with a device.
func (c *Client) Unpair(ctx context.Context, id string) error {
	_, err := c.gw.Call(ctx, KDEConnectService, DevicePath(id),
		KDEConnectDeviceIface+".unpair")
	if err != nil {
		return fmt.Errorf("failed to unpair %s: %w", id, err)
	}
	return nil
}

// LoadedPlugins lists the daemon plugin ids active for a device.
func (c *Client) LoadedPlugins(ctx context.Context, id string) ([]string, error) {
	call, err := c.gw.Call(ctx, KDEConnectService, DevicePath(id),
		KDEConnectDeviceIface+".loadedPlugins")
	if err != nil {
		return nil, fmt.Errorf("failed to list plugins of %s: %w", id, err)
	}
	var plugins []string
	if err := call.Store(&plugins); err != nil {
		return nil, fmt.Errorf("failed to decode loadedPlugins reply: %w", err)
	}
	return plugins, nil
}

// IsPluginEnabled reports whether a daemon plugin is enabled for a device.
func (c *Client) IsPluginEnabled(ctx context.Context, id, pluginID string) (bool, error) {
	call, err := c.gw.Call(ctx, KDEConnectService, DevicePath(id),
		KDEConnectDeviceIface+".isPluginEnabled", pluginID)
	if err != nil {
		return false, fmt.Errorf("failed to query plugin %s of %s: %w", pluginID, id, err)
	}
	var enabled bool
	if err := call.Store(&enabled); err != nil {
		return false, fmt.Errorf("failed to decode isPluginEnabled reply: %w", err)
	}
	return enabled, nil
}

// SetPluginEnabled toggles a daemon plugin for a device.
func (c *Client) SetPluginEnabled(ctx context.Context, id, pluginID string, enabled bool) error {
	_, err := c.gw.Call(ctx, KDEConnectService, DevicePath(id),
		KDEConnectDeviceIface+".setPluginEnabled", pluginID, enabled)
	if err != nil {
		return fmt.Errorf("failed to set plugin %s of %s: %w", pluginID, id, err)
	}
	return nil
}

// Battery reads a device's battery telemetry. Devices without the
// battery plugin return an error from the daemon.
func (c *Client) Battery(ctx context.Context, id string) (*model.BatteryState, error) {
	path := dbus.ObjectPath(string(DevicePath(id)) + "/battery")
	props, err := c.gw.Properties(ctx, KDEConnectService, path, BatteryIface)
	if err != nil {
		return nil, fmt.Errorf("failed to read battery of %s: %w", id, err)
	}
	return &model.BatteryState{
		Charge:     variantInt(props, "charge"),
		Charging:   variantBool(props, "isCharging"),
		ReportedAt: time.Now().Unix(),
	}, nil
}

// Connectivity reads a device's cellular telemetry.
func (c *Client) Connectivity(ctx context.Context, id string) (*model.ConnectivityState, error) {
	path := dbus.ObjectPath(string(DevicePath(id)) + "/connectivity_report")
	props, err := c.gw.Properties(ctx, KDEConnectService, path, ConnectivityIface)
	if err != nil {
		return nil, fmt.Errorf("failed to read connectivity of %s: %w", id, err)
	}
	return &model.ConnectivityState{
		NetworkType:    variantString(props, "cellularNetworkType"),
		SignalStrength: variantInt(props, "cellularNetworkStrength"),
		ReportedAt:     time.Now().Unix(),
	}, nil
}

// SendPing sends a ping to a device.
func (c *Client) SendPing(ctx context.Context, id string) error {
	path := dbus.ObjectPath(string(DevicePath(id)) + "/ping")
	_, err := c.gw.Call(ctx, KDEConnectService, path, PingIface+".sendPing")
	if err != nil {
		return fmt.Errorf("failed to ping %s: %w", id, err)
	}
	return nil
}

// Ring makes a device ring so it can be found.
func (c *Client) Ring(ctx context.Context, id string) error {
	path := dbus.ObjectPath(string(DevicePath(id)) + "/findmyphone")
	_, err := c.gw.Call(ctx, KDEConnectService, path, FindMyPhoneIface+".ring")
	if err != nil {
		return fmt.Errorf("failed to ring %s: %w", id, err)
	}
	return nil
}

// variantString extracts a string property, or "" when absent.
func variantString(props map[string]dbus.Variant, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}

// variantBool extracts a bool property, or false when absent.
func variantBool(props map[string]dbus.Variant, key string) bool {
	if v, ok := props[key]; ok {
		if b, ok := v.Value().(bool); ok {
			return b
		}
	}
	return false
}

// variantInt extracts an integer property, or 0 when absent.
func variantInt(props map[string]dbus.Variant, key string) int {
	if v, ok := props[key]; ok {
		switch n := v.Value().(type) {
		case int32:
			return int(n)
		case int64:
			return int(n)
		case uint32:
			return int(n)
		case int:
			return n
		}
	}
	return 0
}
