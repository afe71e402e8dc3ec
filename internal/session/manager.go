// Package session orchestrates the device session manager: it owns the
// per-device command queues, drives the pairing machine and plugin
// negotiator from daemon events, and publishes composite snapshots.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kcbridge/kcbridge/internal/bus"
	"github.com/kcbridge/kcbridge/internal/model"
	"github.com/kcbridge/kcbridge/internal/pairing"
	"github.com/kcbridge/kcbridge/internal/plugins"
	"github.com/kcbridge/kcbridge/internal/registry"
)

const snapshotBuffer = 10

// DaemonClient is the slice of the bus client the manager drives.
type DaemonClient interface {
	DaemonOwned(ctx context.Context) (bool, error)
	Devices(ctx context.Context, onlyReachable, onlyPaired bool) ([]string, error)
	DeviceInfo(ctx context.Context, id string) (*bus.DeviceInfo, error)
	RequestPairing(ctx context.Context, id string) error
	AcceptPairing(ctx context.Context, id string) error
	RejectPairing(ctx context.Context, id string) error
	CancelPairing(ctx context.Context, id string) error
	Unpair(ctx context.Context, id string) error
	LoadedPlugins(ctx context.Context, id string) ([]string, error)
	IsPluginEnabled(ctx context.Context, id, pluginID string) (bool, error)
	SetPluginEnabled(ctx context.Context, id, pluginID string, enabled bool) error
	Battery(ctx context.Context, id string) (*model.BatteryState, error)
	Connectivity(ctx context.Context, id string) (*model.ConnectivityState, error)
	SendPing(ctx context.Context, id string) error
	Ring(ctx context.Context, id string) error
}

// Suppressor mirrors the arbiter operations the manager invokes.
// Failures here are never fatal to the session flows that trigger them.
type Suppressor interface {
	Rehydrate() error
	Suppress(deviceID string) (*model.SuppressionRule, error)
	Restore(deviceID string) error
	Suppressed(deviceID string) *model.SuppressionRule
	Rules() []model.SuppressionRule
}

// Prompter posts interactive pairing popups and withdraws them when
// the request settles some other way.
type Prompter interface {
	PairRequest(deviceID, deviceName string, token uint64, timeout time.Duration) (uint32, error)
	Dismiss(deviceID string)
	Info(summary, body string)
}

// Deps bundles the collaborators of a Manager. Arbiter and Prompter
// are optional.
type Deps struct {
	Daemon   DaemonClient
	Registry *registry.Registry
	Pairing  *pairing.Machine
	Plugins  *plugins.Negotiator
	Arbiter  Suppressor
	Prompter Prompter
	Logger   *slog.Logger
}

// Manager is the device session manager. Commands for one device run
// strictly in order on that device's queue; different devices proceed
// concurrently. Every settled mutation publishes a fresh snapshot with
// a strictly increasing sequence number.
type Manager struct {
	logger *slog.Logger

	daemon   DaemonClient
	registry *registry.Registry
	machine  *pairing.Machine
	plugins  *plugins.Negotiator
	arbiter  Suppressor
	prompter Prompter

	seq      atomic.Uint64
	degraded atomic.Bool

	mu      sync.Mutex
	queues  map[string]*commandQueue
	timers  map[string]*time.Timer
	running bool
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	subMu       sync.Mutex
	subscribers []chan model.Snapshot
}

// NewManager creates a manager from its collaborators.
func NewManager(deps Deps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:      logger,
		daemon:      deps.Daemon,
		registry:    deps.Registry,
		machine:     deps.Pairing,
		plugins:     deps.Plugins,
		arbiter:     deps.Arbiter,
		prompter:    deps.Prompter,
		queues:      make(map[string]*commandQueue),
		timers:      make(map[string]*time.Timer),
		subscribers: make([]chan model.Snapshot, 0),
	}
}

// Start rehydrates persisted state, runs an initial resync when the
// daemon is up, and begins consuming gateway events.
func (m *Manager) Start(ctx context.Context, events <-chan bus.Event) error {
	m.mu.Lock()
	if m.running || m.closed {
		m.mu.Unlock()
		return fmt.Errorf("session manager already started")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	if m.arbiter != nil {
		if err := m.arbiter.Rehydrate(); err != nil {
			m.logger.Warn("could not rehydrate suppression rules", "error", err)
		}
	}

	owned, err := m.daemon.DaemonOwned(ctx)
	if err != nil || !owned {
		m.degraded.Store(true)
		m.logger.Warn("kde connect daemon not reachable yet", "error", err)
	} else {
		m.Resync(ctx)
	}

	go m.eventLoop(ctx, events)
	m.logger.Info("session manager started")
	return nil
}

// Stop halts the event loop, the device queues, and the pairing
// timers, then closes all snapshot subscriptions.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.closed = true
	close(m.stopCh)
	queues := m.queues
	m.queues = make(map[string]*commandQueue)
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	m.mu.Unlock()

	<-m.doneCh

	for _, q := range queues {
		q.close()
	}

	m.subMu.Lock()
	for _, ch := range m.subscribers {
		close(ch)
	}
	m.subscribers = nil
	m.subMu.Unlock()

	m.logger.Info("session manager stopped")
}

// Snapshot builds the current composite snapshot. Every snapshot,
// published or requested, carries the next sequence number.
func (m *Manager) Snapshot() *model.Snapshot {
	return m.buildSnapshot()
}

// Device returns the composite view of one device, or nil.
func (m *Manager) Device(deviceID string) *model.DeviceSnapshot {
	return m.buildSnapshot().Device(deviceID)
}

// Subscribe returns a channel receiving every published snapshot.
func (m *Manager) Subscribe() <-chan model.Snapshot {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	ch := make(chan model.Snapshot, snapshotBuffer)
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (m *Manager) Unsubscribe(ch <-chan model.Snapshot) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for i, sub := range m.subscribers {
		if sub == ch {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// RequestPair starts an outbound pairing attempt and returns its
// token. The request expires when the peer does not answer in time.
func (m *Manager) RequestPair(ctx context.Context, deviceID string) (uint64, error) {
	d := m.registry.Get(deviceID)
	if d == nil {
		return 0, fmt.Errorf("device %s: %w", deviceID, model.ErrUnknownDevice)
	}
	if d.Paired {
		return 0, fmt.Errorf("device %s is already paired: %w", deviceID, model.ErrPairingFailed)
	}

	s, err := m.machine.RequestOutbound(deviceID)
	if err != nil {
		return 0, err
	}

	q, err := m.queue(deviceID)
	if err != nil {
		m.machine.Drop(deviceID)
		return 0, err
	}
	if err := q.run(ctx, "request-pairing", func(ctx context.Context) error {
		return m.daemon.RequestPairing(ctx, deviceID)
	}); err != nil {
		m.machine.Drop(deviceID)
		m.publish()
		return 0, err
	}

	m.armExpiry(deviceID, s.Token)
	m.publish()
	return s.Token, nil
}

// AcceptPair accepts the pending peer request for a device.
func (m *Manager) AcceptPair(ctx context.Context, deviceID string) error {
	if _, err := m.machine.Accept(deviceID); err != nil {
		return err
	}
	m.stopExpiry(deviceID)
	m.dismissPrompt(deviceID)

	q, err := m.queue(deviceID)
	if err != nil {
		m.machine.Drop(deviceID)
		return err
	}
	if err := q.run(ctx, "accept-pairing", func(ctx context.Context) error {
		return m.daemon.AcceptPairing(ctx, deviceID)
	}); err != nil {
		m.machine.Drop(deviceID)
		m.publish()
		return err
	}

	m.publish()
	return nil
}

// RejectPair rejects the pending peer request for a device.
func (m *Manager) RejectPair(ctx context.Context, deviceID string) error {
	if _, err := m.machine.Reject(deviceID); err != nil {
		return err
	}
	m.stopExpiry(deviceID)
	m.dismissPrompt(deviceID)

	q, err := m.queue(deviceID)
	if err != nil {
		return err
	}
	err = q.run(ctx, "reject-pairing", func(ctx context.Context) error {
		return m.daemon.RejectPairing(ctx, deviceID)
	})
	m.publish()
	return err
}

// CancelPair withdraws our outbound pairing attempt. The attempt's
// token goes stale immediately; a reply or expiry still in flight is
// dropped when it lands.
func (m *Manager) CancelPair(ctx context.Context, deviceID string) error {
	if err := m.machine.Cancel(deviceID); err != nil {
		return err
	}
	m.stopExpiry(deviceID)

	q, err := m.queue(deviceID)
	if err != nil {
		return err
	}
	err = q.run(ctx, "cancel-pairing", func(ctx context.Context) error {
		return m.daemon.CancelPairing(ctx, deviceID)
	})
	m.publish()
	return err
}

// Unpair drops the pairing with a device.
func (m *Manager) Unpair(ctx context.Context, deviceID string) error {
	d := m.registry.Get(deviceID)
	if d == nil {
		return fmt.Errorf("device %s: %w", deviceID, model.ErrUnknownDevice)
	}
	if !d.Paired {
		return fmt.Errorf("device %s: %w", deviceID, model.ErrNotPaired)
	}

	m.machine.BeginUnpair(deviceID)

	q, err := m.queue(deviceID)
	if err != nil {
		m.machine.Drop(deviceID)
		return err
	}
	if err := q.run(ctx, "unpair", func(ctx context.Context) error {
		return m.daemon.Unpair(ctx, deviceID)
	}); err != nil {
		m.machine.Drop(deviceID)
		m.publish()
		return err
	}

	m.publish()
	return nil
}

// SetPluginEnabled toggles a plugin for a paired device. The local
// record updates optimistically; the next daemon report corrects it
// if the daemon disagrees.
func (m *Manager) SetPluginEnabled(ctx context.Context, deviceID string, kind model.PluginKind, enabled bool) error {
	if m.registry.Get(deviceID) == nil {
		return fmt.Errorf("device %s: %w", deviceID, model.ErrUnknownDevice)
	}

	rec, err := m.plugins.SetEnabled(deviceID, kind, enabled)
	if err != nil {
		return err
	}
	m.publish()

	rawID := rec.RawID
	if rawID == "" {
		rawID = kind.DaemonID()
	}

	q, err := m.queue(deviceID)
	if err != nil {
		return err
	}
	return q.run(ctx, "set-plugin-enabled", func(ctx context.Context) error {
		return m.daemon.SetPluginEnabled(ctx, deviceID, rawID, enabled)
	})
}

// Ping sends a ping to a device.
func (m *Manager) Ping(ctx context.Context, deviceID string) error {
	if m.registry.Get(deviceID) == nil {
		return fmt.Errorf("device %s: %w", deviceID, model.ErrUnknownDevice)
	}
	q, err := m.queue(deviceID)
	if err != nil {
		return err
	}
	return q.run(ctx, "ping", func(ctx context.Context) error {
		return m.daemon.SendPing(ctx, deviceID)
	})
}

// Ring makes a device ring so it can be found.
func (m *Manager) Ring(ctx context.Context, deviceID string) error {
	if m.registry.Get(deviceID) == nil {
		return fmt.Errorf("device %s: %w", deviceID, model.ErrUnknownDevice)
	}
	q, err := m.queue(deviceID)
	if err != nil {
		return err
	}
	return q.run(ctx, "ring", func(ctx context.Context) error {
		return m.daemon.Ring(ctx, deviceID)
	})
}

// HandlePairAction resolves a pairing popup click. A click whose token
// no longer names the active attempt is dropped silently; the attempt
// settled before the user answered.
func (m *Manager) HandlePairAction(deviceID string, token uint64, accepted bool) {
	q, err := m.queue(deviceID)
	if err != nil {
		return
	}

	name := "reject-pairing"
	if accepted {
		name = "accept-pairing"
	}
	_ = q.enqueue(name, func(ctx context.Context) error {
		if _, err := m.machine.ResolveInbound(deviceID, token, accepted); err != nil {
			return nil
		}
		m.stopExpiry(deviceID)

		var callErr error
		if accepted {
			callErr = m.daemon.AcceptPairing(ctx, deviceID)
		} else {
			callErr = m.daemon.RejectPairing(ctx, deviceID)
		}
		if callErr != nil {
			m.machine.Drop(deviceID)
		}
		m.publish()
		return callErr
	})
}

// Rules returns the active suppression rules.
func (m *Manager) Rules() []model.SuppressionRule {
	if m.arbiter == nil {
		return nil
	}
	return m.arbiter.Rules()
}

// Degraded reports whether the daemon is currently unreachable.
func (m *Manager) Degraded() bool {
	return m.degraded.Load()
}

// queue returns the command queue for a device, creating it on first
// use.
func (m *Manager) queue(deviceID string) (*commandQueue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	q, ok := m.queues[deviceID]
	if !ok {
		q = newCommandQueue(deviceID, queueBuffer, m.logger)
		m.queues[deviceID] = q
	}
	return q, nil
}

// armExpiry schedules the expiry of the pairing attempt named by
// token, replacing any previous timer for the device.
func (m *Manager) armExpiry(deviceID string, token uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if t, ok := m.timers[deviceID]; ok {
		t.Stop()
	}
	m.timers[deviceID] = time.AfterFunc(m.machine.Timeout(), func() {
		m.expirePairing(deviceID, token)
	})
}

func (m *Manager) stopExpiry(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.timers[deviceID]; ok {
		t.Stop()
		delete(m.timers, deviceID)
	}
}

// expirePairing runs when an attempt's timer fires. The token pins the
// attempt: a timer that lost the race to a cancel or a settlement is
// dropped by the machine as stale.
func (m *Manager) expirePairing(deviceID string, token uint64) {
	q, err := m.queue(deviceID)
	if err != nil {
		return
	}
	_ = q.enqueue("expire-pairing", func(ctx context.Context) error {
		s := m.machine.Session(deviceID)
		outbound := s != nil && s.State == model.PairStateRequestSent

		outcome, err := m.machine.Expire(deviceID, token)
		if err != nil {
			return nil
		}
		if outcome != pairing.OutcomeTimedOut {
			return nil
		}

		m.dismissPrompt(deviceID)
		if outbound {
			// Withdraw the daemon-side request as well.
			if err := m.daemon.CancelPairing(ctx, deviceID); err != nil {
				m.logger.Debug("could not cancel expired pair request",
					"device", deviceID, "error", err)
			}
			m.notifyInfo("Pairing timed out",
				fmt.Sprintf("%s did not answer the pairing request.", m.deviceName(deviceID)))
		}
		m.publish()
		return nil
	})
}

// buildSnapshot assembles the composite view of all devices.
func (m *Manager) buildSnapshot() *model.Snapshot {
	devices := m.registry.All()
	snap := &model.Snapshot{
		Seq:      m.seq.Add(1),
		TakenAt:  time.Now().Unix(),
		Degraded: m.degraded.Load(),
		Devices:  make([]model.DeviceSnapshot, 0, len(devices)),
	}
	for _, d := range devices {
		ds := model.DeviceSnapshot{Device: d}
		ds.Pairing = m.machine.Session(d.ID)
		ds.Plugins = m.plugins.Plugins(d.ID)
		if m.arbiter != nil {
			ds.Suppression = m.arbiter.Suppressed(d.ID)
		}
		snap.Devices = append(snap.Devices, ds)
	}
	return snap
}

// publish fans the current snapshot out to all subscribers. Slow
// subscribers miss snapshots rather than blocking the manager; the
// sequence number lets them notice the gap.
func (m *Manager) publish() {
	snap := m.buildSnapshot()

	m.subMu.Lock()
	defer m.subMu.Unlock()

	for _, ch := range m.subscribers {
		select {
		case ch <- *snap:
		default:
			m.logger.Warn("snapshot subscriber not keeping up, dropping", "seq", snap.Seq)
		}
	}
}

func (m *Manager) dismissPrompt(deviceID string) {
	if m.prompter != nil {
		m.prompter.Dismiss(deviceID)
	}
}

func (m *Manager) notifyInfo(summary, body string) {
	if m.prompter != nil {
		m.prompter.Info(summary, body)
	}
}

// deviceName returns the display name of a device, falling back to
// its id.
func (m *Manager) deviceName(deviceID string) string {
	if d := m.registry.Get(deviceID); d != nil && d.Name != "" {
		return d.Name
	}
	return deviceID
}

type sessionError string

func (e sessionError) Error() string { return string(e) }

// ErrManagerClosed is returned for commands issued after shutdown.
const ErrManagerClosed = sessionError("session manager closed")
