package dbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/kcbridge/kcbridge/internal/model"
)

// Client calls the org.kcbridge.Session1 interface exported by
// kcbridged. It rides the shared session bus connection.
type Client struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

// NewClient connects to the session bus and binds the kcbridged object.
func NewClient() (*Client, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &Client{
		conn: conn,
		obj:  conn.Object(ServiceName, ServicePath),
	}, nil
}

// Snapshot fetches the current composite snapshot.
func (c *Client) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	var (
		seq     uint64
		payload string
	)
	if err := c.obj.CallWithContext(ctx, ServiceIface+".GetSnapshot", 0).Store(&seq, &payload); err != nil {
		return nil, localError(err)
	}
	return model.DecodeSnapshot([]byte(payload))
}

// Device fetches the composite view of one device.
func (c *Client) Device(ctx context.Context, deviceID string) (*model.DeviceSnapshot, error) {
	var payload string
	if err := c.obj.CallWithContext(ctx, ServiceIface+".GetDevice", 0, deviceID).Store(&payload); err != nil {
		return nil, localError(err)
	}

	var ds model.DeviceSnapshot
	if err := json.Unmarshal([]byte(payload), &ds); err != nil {
		return nil, fmt.Errorf("failed to decode device: %w", err)
	}
	return &ds, nil
}

// RequestPair starts an outbound pairing attempt and returns its token.
func (c *Client) RequestPair(ctx context.Context, deviceID string) (uint64, error) {
	var token uint64
	if err := c.obj.CallWithContext(ctx, ServiceIface+".RequestPair", 0, deviceID).Store(&token); err != nil {
		return 0, localError(err)
	}
	return token, nil
}

// AcceptPair accepts the pending peer request for a device.
func (c *Client) AcceptPair(ctx context.Context, deviceID string) error {
	return c.call(ctx, "AcceptPair", deviceID)
}

// RejectPair rejects the pending peer request for a device.
func (c *Client) RejectPair(ctx context.Context, deviceID string) error {
	return c.call(ctx, "RejectPair", deviceID)
}

// CancelPair withdraws our outbound pairing attempt.
func (c *Client) CancelPair(ctx context.Context, deviceID string) error {
	return c.call(ctx, "CancelPair", deviceID)
}

// Unpair drops the pairing with a device.
func (c *Client) Unpair(ctx context.Context, deviceID string) error {
	return c.call(ctx, "Unpair", deviceID)
}

// SetPluginEnabled toggles a plugin on a paired device.
func (c *Client) SetPluginEnabled(ctx context.Context, deviceID string, kind model.PluginKind, enabled bool) error {
	return c.call(ctx, "SetPluginEnabled", deviceID, string(kind), enabled)
}

// Ping sends a ping to a device.
func (c *Client) Ping(ctx context.Context, deviceID string) error {
	return c.call(ctx, "Ping", deviceID)
}

// Ring makes a device ring so it can be found.
func (c *Client) Ring(ctx context.Context, deviceID string) error {
	return c.call(ctx, "Ring", deviceID)
}

// Rules fetches the active notification suppression rules.
func (c *Client) Rules(ctx context.Context) ([]model.SuppressionRule, error) {
	var payload string
	if err := c.obj.CallWithContext(ctx, ServiceIface+".GetSuppressionRules", 0).Store(&payload); err != nil {
		return nil, localError(err)
	}

	var rules []model.SuppressionRule
	if err := json.Unmarshal([]byte(payload), &rules); err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}
	return rules, nil
}

// Status reports whether kcbridged reaches the KDE Connect daemon, and
// the latest snapshot sequence number.
func (c *Client) Status(ctx context.Context) (bool, uint64, error) {
	var (
		connected bool
		seq       uint64
	)
	if err := c.obj.CallWithContext(ctx, ServiceIface+".GetStatus", 0).Store(&connected, &seq); err != nil {
		return false, 0, localError(err)
	}
	return connected, seq, nil
}

// Watch invokes fn for every snapshot kcbridged publishes until the
// context ends. Stale snapshots are dropped by sequence number.
func (c *Client) Watch(ctx context.Context, fn func(*model.Snapshot)) error {
	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(ServicePath),
		dbus.WithMatchInterface(ServiceIface),
		dbus.WithMatchMember(SnapshotChangedSignal),
	}
	if err := c.conn.AddMatchSignal(opts...); err != nil {
		return fmt.Errorf("failed to subscribe to snapshots: %w", err)
	}
	defer func() {
		_ = c.conn.RemoveMatchSignal(opts...)
	}()

	sigCh := make(chan *dbus.Signal, 16)
	c.conn.Signal(sigCh)
	defer c.conn.RemoveSignal(sigCh)

	var lastSeq uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-sigCh:
			if !ok {
				return nil
			}
			snap := decodeSnapshotSignal(sig)
			if snap == nil || snap.Seq <= lastSeq {
				continue
			}
			lastSeq = snap.Seq
			fn(snap)
		}
	}
}

// call invokes a void session method, localizing any named error.
func (c *Client) call(ctx context.Context, method string, args ...interface{}) error {
	return localError(c.obj.CallWithContext(ctx, ServiceIface+"."+method, 0, args...).Err)
}

// decodeSnapshotSignal parses a SnapshotChanged signal, or returns nil
// for anything else.
func decodeSnapshotSignal(sig *dbus.Signal) *model.Snapshot {
	if sig == nil || sig.Name != ServiceIface+"."+SnapshotChangedSignal || len(sig.Body) < 2 {
		return nil
	}
	payload, ok := sig.Body[1].(string)
	if !ok {
		return nil
	}
	snap, err := model.DecodeSnapshot([]byte(payload))
	if err != nil {
		return nil
	}
	return snap
}
