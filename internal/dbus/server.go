package dbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/kcbridge/kcbridge/internal/model"
)

// callTimeout bounds the wait for one session command issued over the
// control interface. The daemon call behind it carries its own retry
// budget.
const callTimeout = 15 * time.Second

// SessionAPI is the slice of the session manager the service exposes.
type SessionAPI interface {
	Snapshot() *model.Snapshot
	Device(deviceID string) *model.DeviceSnapshot
	Subscribe() <-chan model.Snapshot
	Unsubscribe(ch <-chan model.Snapshot)
	RequestPair(ctx context.Context, deviceID string) (uint64, error)
	AcceptPair(ctx context.Context, deviceID string) error
	RejectPair(ctx context.Context, deviceID string) error
	CancelPair(ctx context.Context, deviceID string) error
	Unpair(ctx context.Context, deviceID string) error
	SetPluginEnabled(ctx context.Context, deviceID string, kind model.PluginKind, enabled bool) error
	Ping(ctx context.Context, deviceID string) error
	Ring(ctx context.Context, deviceID string) error
	Rules() []model.SuppressionRule
	Degraded() bool
}

// Service exports a session manager on the bus as org.kcbridge.Session1.
type Service struct {
	logger  *slog.Logger
	session SessionAPI

	mu      sync.Mutex
	conn    *dbus.Conn
	sub     <-chan model.Snapshot
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewService creates the control service for a session manager.
func NewService(session SessionAPI, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:  logger,
		session: session,
	}
}

// Start connects to the session bus, exports the session interface,
// claims the bus name, and begins forwarding snapshots as signals.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("service already running")
	}
	s.mu.Unlock()

	conn, err := dbus.SessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}

	if err := conn.Export(s, ServicePath, ServiceIface); err != nil {
		return fmt.Errorf("failed to export session object: %w", err)
	}

	node := &introspect.Node{
		Name: ServicePath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    ServiceIface,
				Methods: sessionMethods(),
				Signals: sessionSignals(),
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), ServicePath,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("failed to export introspectable: %w", err)
	}

	reply, err := conn.RequestName(ServiceName, dbus.NameFlagDoNotQueue|dbus.NameFlagReplaceExisting)
	if err != nil {
		return fmt.Errorf("failed to request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("bus name %s already taken", ServiceName)
	}

	s.mu.Lock()
	s.conn = conn
	s.sub = s.session.Subscribe()
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.forward(s.sub, s.stopCh, s.doneCh)
	s.mu.Unlock()

	s.logger.Info("session control service started", "name", ServiceName, "path", ServicePath)
	return nil
}

// Stop releases the bus name and stops signal forwarding. The shared
// session bus connection stays open.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	conn := s.conn
	sub := s.sub
	doneCh := s.doneCh
	s.mu.Unlock()

	s.session.Unsubscribe(sub)
	<-doneCh

	if conn != nil {
		if _, err := conn.ReleaseName(ServiceName); err != nil {
			s.logger.Warn("failed to release bus name", "error", err)
		}
	}

	s.logger.Info("session control service stopped")
	return nil
}

// GetSnapshot returns the current composite snapshot.
// D-Bus method: GetSnapshot() -> (t, s)
func (s *Service) GetSnapshot() (uint64, string, *dbus.Error) {
	snap := s.session.Snapshot()
	payload, err := snap.Encode()
	if err != nil {
		return 0, "", wireError(err)
	}
	return snap.Seq, string(payload), nil
}

// GetDevice returns the composite view of one device.
// D-Bus method: GetDevice(s) -> s
func (s *Service) GetDevice(deviceID string) (string, *dbus.Error) {
	ds := s.session.Device(deviceID)
	if ds == nil {
		return "", wireError(fmt.Errorf("device %s: %w", deviceID, model.ErrUnknownDevice))
	}
	payload, err := json.Marshal(ds)
	if err != nil {
		return "", wireError(err)
	}
	return string(payload), nil
}

// RequestPair starts an outbound pairing attempt and returns its token.
// D-Bus method: RequestPair(s) -> t
func (s *Service) RequestPair(deviceID string) (uint64, *dbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	token, err := s.session.RequestPair(ctx, deviceID)
	if err != nil {
		return 0, wireError(err)
	}
	return token, nil
}

// AcceptPair accepts the pending peer request for a device.
// D-Bus method: AcceptPair(s)
func (s *Service) AcceptPair(deviceID string) *dbus.Error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return wireError(s.session.AcceptPair(ctx, deviceID))
}

// RejectPair rejects the pending peer request for a device.
// D-Bus method: RejectPair(s)
func (s *Service) RejectPair(deviceID string) *dbus.Error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return wireError(s.session.RejectPair(ctx, deviceID))
}

// CancelPair withdraws our outbound pairing attempt.
// D-Bus method: CancelPair(s)
func (s *Service) CancelPair(deviceID string) *dbus.Error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return wireError(s.session.CancelPair(ctx, deviceID))
}

// Unpair drops the pairing with a device.
// D-Bus method: Unpair(s)
func (s *Service) Unpair(deviceID string) *dbus.Error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return wireError(s.session.Unpair(ctx, deviceID))
}

// SetPluginEnabled toggles a plugin for a paired device.
// D-Bus method: SetPluginEnabled(s, s, b)
func (s *Service) SetPluginEnabled(deviceID, plugin string, enabled bool) *dbus.Error {
	kind, ok := model.ParsePluginKind(plugin)
	if !ok {
		return wireError(fmt.Errorf("plugin %q: %w", plugin, model.ErrUnknownPlugin))
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return wireError(s.session.SetPluginEnabled(ctx, deviceID, kind, enabled))
}

// Ping sends a ping to a device.
// D-Bus method: Ping(s)
func (s *Service) Ping(deviceID string) *dbus.Error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return wireError(s.session.Ping(ctx, deviceID))
}

// Ring makes a device ring so it can be found.
// D-Bus method: Ring(s)
func (s *Service) Ring(deviceID string) *dbus.Error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return wireError(s.session.Ring(ctx, deviceID))
}

// GetSuppressionRules returns the active notification suppression rules.
// D-Bus method: GetSuppressionRules() -> s
func (s *Service) GetSuppressionRules() (string, *dbus.Error) {
	payload, err := json.Marshal(s.session.Rules())
	if err != nil {
		return "", wireError(err)
	}
	return string(payload), nil
}

// GetStatus reports whether the KDE Connect daemon is reachable and the
// latest snapshot sequence number.
// D-Bus method: GetStatus() -> (b, t)
func (s *Service) GetStatus() (bool, uint64, *dbus.Error) {
	return !s.session.Degraded(), s.session.Snapshot().Seq, nil
}

// sessionMethods returns the D-Bus method introspection data.
func sessionMethods() []introspect.Method {
	return []introspect.Method{
		{
			Name: "GetSnapshot",
			Args: []introspect.Arg{
				{Name: "seq", Type: "t", Direction: "out"},
				{Name: "snapshot", Type: "s", Direction: "out"},
			},
		},
		{
			Name: "GetDevice",
			Args: []introspect.Arg{
				{Name: "device_id", Type: "s", Direction: "in"},
				{Name: "device", Type: "s", Direction: "out"},
			},
		},
		{
			Name: "RequestPair",
			Args: []introspect.Arg{
				{Name: "device_id", Type: "s", Direction: "in"},
				{Name: "token", Type: "t", Direction: "out"},
			},
		},
		{
			Name: "AcceptPair",
			Args: []introspect.Arg{
				{Name: "device_id", Type: "s", Direction: "in"},
			},
		},
		{
			Name: "RejectPair",
			Args: []introspect.Arg{
				{Name: "device_id", Type: "s", Direction: "in"},
			},
		},
		{
			Name: "CancelPair",
			Args: []introspect.Arg{
				{Name: "device_id", Type: "s", Direction: "in"},
			},
		},
		{
			Name: "Unpair",
			Args: []introspect.Arg{
				{Name: "device_id", Type: "s", Direction: "in"},
			},
		},
		{
			Name: "SetPluginEnabled",
			Args: []introspect.Arg{
				{Name: "device_id", Type: "s", Direction: "in"},
				{Name: "plugin", Type: "s", Direction: "in"},
				{Name: "enabled", Type: "b", Direction: "in"},
			},
		},
		{
			Name: "Ping",
			Args: []introspect.Arg{
				{Name: "device_id", Type: "s", Direction: "in"},
			},
		},
		{
			Name: "Ring",
			Args: []introspect.Arg{
				{Name: "device_id", Type: "s", Direction: "in"},
			},
		},
		{
			Name: "GetSuppressionRules",
			Args: []introspect.Arg{
				{Name: "rules", Type: "s", Direction: "out"},
			},
		},
		{
			Name: "GetStatus",
			Args: []introspect.Arg{
				{Name: "connected", Type: "b", Direction: "out"},
				{Name: "seq", Type: "t", Direction: "out"},
			},
		},
	}
}

// sessionSignals returns the D-Bus signal introspection data.
func sessionSignals() []introspect.Signal {
	return []introspect.Signal{
		{
			Name: SnapshotChangedSignal,
			Args: []introspect.Arg{
				{Name: "seq", Type: "t"},
				{Name: "snapshot", Type: "s"},
			},
		},
	}
}
