package session

import (
	"context"
	"fmt"
	"time"

	"github.com/kcbridge/kcbridge/internal/bus"
	"github.com/kcbridge/kcbridge/internal/model"
	"github.com/kcbridge/kcbridge/internal/pairing"
	"github.com/kcbridge/kcbridge/internal/registry"
)

func (m *Manager) eventLoop(ctx context.Context, events <-chan bus.Event) {
	defer close(m.doneCh)

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handleEvent(ctx, ev)
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, ev bus.Event) {
	switch ev.Type {
	case bus.EventDaemonUp, bus.EventBusRestored:
		m.degraded.Store(false)
		m.logger.Info("daemon available, resyncing", "event", ev.Type)
		m.Resync(ctx)

	case bus.EventDaemonDown, bus.EventBusLost:
		m.degraded.Store(true)
		m.logger.Warn("daemon unavailable", "event", ev.Type)
		m.markAllUnreachable()
		m.publish()

	case bus.EventDeviceAdded:
		m.enqueueDeviceResync(ev.DeviceID)

	case bus.EventDeviceRemoved:
		m.handleDeviceRemoved(ev.DeviceID)

	case bus.EventDeviceVisibility:
		m.handleReachable(ev.DeviceID, ev.Visible)

	case bus.EventDeviceReachable:
		m.handleReachable(ev.DeviceID, ev.Reachable)

	case bus.EventDeviceName:
		name := ev.Name
		if _, err := m.registry.Upsert(ev.DeviceID, registry.DeviceFields{Name: &name}); err == nil {
			m.publish()
		}

	case bus.EventPairState:
		m.handlePairState(ev.DeviceID, bus.PairStateFromDaemon(ev.PairState))

	case bus.EventBatteryRefreshed:
		b := model.BatteryState{Charge: ev.Charge, Charging: ev.Charging, ReportedAt: time.Now().Unix()}
		if _, err := m.registry.Upsert(ev.DeviceID, registry.DeviceFields{Battery: &b}); err == nil {
			m.publish()
		}

	case bus.EventConnectivityReport:
		c := model.ConnectivityState{NetworkType: ev.NetworkType, SignalStrength: ev.SignalStrength, ReportedAt: time.Now().Unix()}
		if _, err := m.registry.Upsert(ev.DeviceID, registry.DeviceFields{Connectivity: &c}); err == nil {
			m.publish()
		}
	}
}

// handleReachable records a reachability change. A device coming back
// gets a full resync; its properties may have changed while away.
func (m *Manager) handleReachable(deviceID string, reachable bool) {
	if deviceID == "" {
		return
	}
	r := reachable
	if _, err := m.registry.Upsert(deviceID, registry.DeviceFields{Reachable: &r}); err != nil {
		return
	}
	if reachable {
		m.enqueueDeviceResync(deviceID)
	}
	m.publish()
}

// handleDeviceRemoved reacts to the daemon forgetting a device. Paired
// devices keep their record and merely go unreachable; unpaired ones
// are dropped entirely.
func (m *Manager) handleDeviceRemoved(deviceID string) {
	d := m.registry.Get(deviceID)
	if d == nil {
		return
	}

	m.machine.Drop(deviceID)
	m.stopExpiry(deviceID)
	m.dismissPrompt(deviceID)

	if d.Paired {
		_ = m.registry.MarkUnreachable(deviceID)
	} else {
		_ = m.registry.Remove(deviceID)
		m.plugins.RemoveDevice(deviceID)
	}
	m.publish()
}

// handlePairState reconciles a daemon pair state report with the local
// attempt and the registry's settled flag.
func (m *Manager) handlePairState(deviceID string, state model.PairState) {
	prev := m.registry.Get(deviceID)
	wasPaired := prev != nil && prev.Paired

	outcome, changed := m.machine.ApplyDaemonState(deviceID, state)

	switch state {
	case model.PairStatePaired:
		m.setPaired(deviceID, true)
		m.stopExpiry(deviceID)
		m.dismissPrompt(deviceID)
		if !wasPaired {
			m.notifyInfo("Device paired",
				fmt.Sprintf("Now linked with %s.", m.deviceName(deviceID)))
			m.suppressDaemonNotifications(deviceID)
		}

	case model.PairStateUnpaired:
		m.setPaired(deviceID, false)
		m.stopExpiry(deviceID)
		m.dismissPrompt(deviceID)
		if outcome == pairing.OutcomeRejected {
			m.notifyInfo("Pairing declined",
				fmt.Sprintf("%s declined the pairing request.", m.deviceName(deviceID)))
		}
		if wasPaired {
			m.restoreDaemonNotifications(deviceID)
		}

	case model.PairStateRequestReceived:
		if changed {
			if s := m.machine.Session(deviceID); s != nil && s.State == model.PairStateRequestReceived {
				m.armExpiry(deviceID, s.Token)
				m.promptPairRequest(deviceID, s.Token)
			}
		}

	case model.PairStateRequestSent:
		if changed {
			if s := m.machine.Session(deviceID); s != nil && s.State == model.PairStateRequestSent {
				m.armExpiry(deviceID, s.Token)
			}
		}
	}

	m.publish()
}

// Resync rebuilds local state from the daemon: the device list, each
// device's properties and pairing state, and the plugin inventories.
// Safe to run repeatedly; a resync that reports nothing new changes
// nothing.
func (m *Manager) Resync(ctx context.Context) {
	ids, err := m.daemon.Devices(ctx, false, false)
	if err != nil {
		m.logger.Warn("device list resync failed", "error", err)
		m.degraded.Store(true)
		m.publish()
		return
	}
	m.degraded.Store(false)

	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
		m.enqueueDeviceResync(id)
	}

	// Devices the daemon no longer reports are gone. Paired records
	// stay, unreachable, the rest are dropped.
	for _, d := range m.registry.All() {
		if known[d.ID] {
			continue
		}
		m.machine.Drop(d.ID)
		m.stopExpiry(d.ID)
		if d.Paired {
			_ = m.registry.MarkUnreachable(d.ID)
		} else {
			_ = m.registry.Remove(d.ID)
			m.plugins.RemoveDevice(d.ID)
		}
	}

	m.publish()
}

// enqueueDeviceResync schedules a per-device state pull on the
// device's own queue.
func (m *Manager) enqueueDeviceResync(deviceID string) {
	if deviceID == "" {
		return
	}
	q, err := m.queue(deviceID)
	if err != nil {
		return
	}
	_ = q.enqueue("resync-device", func(ctx context.Context) error {
		return m.resyncDevice(ctx, deviceID)
	})
}

// resyncDevice pulls one device's full state from the daemon and runs
// it through the registry, the pairing machine, and the negotiator.
func (m *Manager) resyncDevice(ctx context.Context, deviceID string) error {
	info, err := m.daemon.DeviceInfo(ctx, deviceID)
	if err != nil {
		return err
	}

	deviceType := model.ParseDeviceType(info.Type)
	if _, err := m.registry.Upsert(deviceID, registry.DeviceFields{
		Name:      &info.Name,
		Type:      &deviceType,
		Reachable: &info.Reachable,
		Paired:    &info.Paired,
		Trusted:   &info.Trusted,
	}); err != nil {
		return err
	}

	// Run the daemon's pairing view through the machine so requests
	// that predate this process are adopted.
	m.handlePairState(deviceID, pairStateFromInfo(info))

	// Devices that were paired while we were not running still get
	// their daemon notifications suppressed. Idempotent.
	if info.Paired && m.arbiter != nil && m.arbiter.Suppressed(deviceID) == nil {
		m.suppressDaemonNotifications(deviceID)
	}

	if info.Reachable {
		m.syncPlugins(ctx, deviceID)
		m.syncTelemetry(ctx, deviceID)
	}

	m.publish()
	return nil
}

// syncPlugins reconciles the negotiator with the daemon's plugin
// inventory for one device.
func (m *Manager) syncPlugins(ctx context.Context, deviceID string) {
	loaded, err := m.daemon.LoadedPlugins(ctx, deviceID)
	if err != nil {
		m.logger.Debug("plugin list unavailable", "device", deviceID, "error", err)
		return
	}

	enabled := make(map[string]bool, len(loaded))
	for _, pluginID := range loaded {
		on, err := m.daemon.IsPluginEnabled(ctx, deviceID, pluginID)
		if err != nil {
			continue
		}
		enabled[pluginID] = on
	}
	m.plugins.Reconcile(deviceID, loaded, enabled)
}

// syncTelemetry pulls battery and connectivity state. Devices without
// those plugins answer with errors, which is normal.
func (m *Manager) syncTelemetry(ctx context.Context, deviceID string) {
	if b, err := m.daemon.Battery(ctx, deviceID); err == nil && b != nil {
		_, _ = m.registry.Upsert(deviceID, registry.DeviceFields{Battery: b})
	}
	if c, err := m.daemon.Connectivity(ctx, deviceID); err == nil && c != nil {
		_, _ = m.registry.Upsert(deviceID, registry.DeviceFields{Connectivity: c})
	}
}

func (m *Manager) markAllUnreachable() {
	for _, d := range m.registry.All() {
		if d.Reachable {
			_ = m.registry.MarkUnreachable(d.ID)
		}
	}
}

func (m *Manager) setPaired(deviceID string, paired bool) {
	p := paired
	_, _ = m.registry.Upsert(deviceID, registry.DeviceFields{Paired: &p})
}

func (m *Manager) suppressDaemonNotifications(deviceID string) {
	if m.arbiter == nil {
		return
	}
	if _, err := m.arbiter.Suppress(deviceID); err != nil {
		// Best effort; the pairing itself stands.
		m.logger.Warn("could not suppress daemon notifications", "device", deviceID, "error", err)
	}
}

func (m *Manager) restoreDaemonNotifications(deviceID string) {
	if m.arbiter == nil {
		return
	}
	if err := m.arbiter.Restore(deviceID); err != nil {
		m.logger.Warn("could not restore daemon notification settings", "device", deviceID, "error", err)
	}
}

func (m *Manager) promptPairRequest(deviceID string, token uint64) {
	if m.prompter == nil {
		return
	}
	if _, err := m.prompter.PairRequest(deviceID, m.deviceName(deviceID), token, m.machine.Timeout()); err != nil {
		m.logger.Warn("could not post pairing notification", "device", deviceID, "error", err)
	}
}

// pairStateFromInfo derives the effective pair state from a device's
// property set.
func pairStateFromInfo(info *bus.DeviceInfo) model.PairState {
	switch {
	case info.Paired:
		return model.PairStatePaired
	case info.PairRequested:
		return model.PairStateRequestSent
	case info.PairRequestedByPeer:
		return model.PairStateRequestReceived
	default:
		return model.PairStateUnpaired
	}
}
