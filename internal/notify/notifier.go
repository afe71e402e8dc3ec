// Package notify posts interactive pairing notifications through the
// desktop's org.freedesktop.Notifications service and routes the
// Accept/Reject clicks back to the daemon.
package notify

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	notifyService = "org.freedesktop.Notifications"
	notifyPath    = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyIface   = "org.freedesktop.Notifications"

	actionInvokedSignal      = notifyIface + ".ActionInvoked"
	notificationClosedSignal = notifyIface + ".NotificationClosed"

	// ActionAccept and ActionReject are the action keys attached to a
	// pairing request notification.
	ActionAccept = "accept"
	ActionReject = "reject"
)

// ActionHandler is called when the user clicks Accept or Reject on a
// pairing notification. The token identifies the pairing attempt the
// notification was posted for; a reply carrying an outdated token is
// dropped downstream.
type ActionHandler func(deviceID string, token uint64, accepted bool)

type pendingRequest struct {
	deviceID string
	token    uint64
}

// Notifier is a client of the desktop notification service. Pairing
// requests are posted with action buttons and stay on screen until
// answered, dismissed, or explicitly withdrawn.
type Notifier struct {
	logger *slog.Logger

	mu            sync.Mutex
	conn          *dbus.Conn
	actionHandler ActionHandler
	pending       map[uint32]pendingRequest
	byDevice      map[string]uint32
	running       bool

	sigCh  chan *dbus.Signal
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewNotifier creates a notifier. Call Start before posting.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		logger:   logger,
		pending:  make(map[uint32]pendingRequest),
		byDevice: make(map[string]uint32),
	}
}

// SetActionHandler sets the handler called on Accept/Reject clicks.
// The handler runs on the signal goroutine and must not block.
func (n *Notifier) SetActionHandler(handler ActionHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.actionHandler = handler
}

// Start connects to the session bus and subscribes to the action and
// close signals of the notification service.
func (n *Notifier) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return nil
	}

	conn, err := dbus.SessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(notifyIface),
		dbus.WithMatchMember("ActionInvoked"),
	); err != nil {
		return fmt.Errorf("failed to match ActionInvoked: %w", err)
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(notifyIface),
		dbus.WithMatchMember("NotificationClosed"),
	); err != nil {
		return fmt.Errorf("failed to match NotificationClosed: %w", err)
	}

	n.conn = conn
	n.sigCh = make(chan *dbus.Signal, 32)
	n.stopCh = make(chan struct{})
	n.doneCh = make(chan struct{})
	conn.Signal(n.sigCh)
	n.running = true

	go n.run(n.sigCh, n.stopCh, n.doneCh)

	n.logger.Debug("notification listener started")
	return nil
}

// Stop unsubscribes from the notification signals. The session bus
// connection is shared and stays open.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	n.running = false
	n.conn.RemoveSignal(n.sigCh)
	close(n.stopCh)
	doneCh := n.doneCh
	n.mu.Unlock()

	<-doneCh
}

// PairRequest posts an interactive notification for an inbound pairing
// request. A previous notification for the same device is replaced.
// The timeout should match the pairing deadline so the popup goes away
// with the request.
func (n *Notifier) PairRequest(deviceID, deviceName string, token uint64, timeout time.Duration) (uint32, error) {
	n.mu.Lock()
	conn := n.conn
	replaces := n.byDevice[deviceID]
	n.mu.Unlock()

	if conn == nil {
		return 0, fmt.Errorf("notifier not started")
	}

	summary := fmt.Sprintf("Pairing request from %s", deviceName)
	body := "Accepting links this device with your computer."
	actions := []string{ActionAccept, "Accept", ActionReject, "Reject"}
	hints := map[string]dbus.Variant{
		"urgency":       dbus.MakeVariant(byte(2)),
		"category":      dbus.MakeVariant("device.added"),
		"desktop-entry": dbus.MakeVariant("kcbridge"),
	}
	expire := int32(timeout / time.Millisecond)

	var id uint32
	call := conn.Object(notifyService, notifyPath).Call(notifyIface+".Notify", 0,
		"kcbridge", replaces, "phone-symbolic", summary, body, actions, hints, expire)
	if call.Err != nil {
		return 0, fmt.Errorf("failed to post pairing notification: %w", call.Err)
	}
	if err := call.Store(&id); err != nil {
		return 0, fmt.Errorf("unexpected Notify reply: %w", err)
	}

	n.mu.Lock()
	if replaces != 0 {
		delete(n.pending, replaces)
	}
	n.pending[id] = pendingRequest{deviceID: deviceID, token: token}
	n.byDevice[deviceID] = id
	n.mu.Unlock()

	n.logger.Debug("pairing notification posted", "device", deviceID, "id", id)
	return id, nil
}

// Dismiss withdraws the pairing notification for a device, if one is
// still on screen. Called when the request settles some other way.
func (n *Notifier) Dismiss(deviceID string) {
	n.mu.Lock()
	id, ok := n.byDevice[deviceID]
	if ok {
		delete(n.byDevice, deviceID)
		delete(n.pending, id)
	}
	conn := n.conn
	n.mu.Unlock()

	if !ok || conn == nil {
		return
	}

	call := conn.Object(notifyService, notifyPath).Call(notifyIface+".CloseNotification", 0, id)
	if call.Err != nil {
		n.logger.Debug("failed to close pairing notification", "id", id, "error", call.Err)
	}
}

// Info posts a short transient notification, used for pairing
// outcomes. Best effort.
func (n *Notifier) Info(summary, body string) {
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()

	if conn == nil {
		return
	}

	hints := map[string]dbus.Variant{
		"urgency":       dbus.MakeVariant(byte(1)),
		"category":      dbus.MakeVariant("device"),
		"transient":     dbus.MakeVariant(true),
		"desktop-entry": dbus.MakeVariant("kcbridge"),
	}

	var id uint32
	call := conn.Object(notifyService, notifyPath).Call(notifyIface+".Notify", 0,
		"kcbridge", uint32(0), "phone-symbolic", summary, body, []string{}, hints, int32(5000))
	if call.Err != nil {
		n.logger.Debug("failed to post notification", "summary", summary, "error", call.Err)
		return
	}
	_ = call.Store(&id)
}

func (n *Notifier) run(sigCh chan *dbus.Signal, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case sig, ok := <-sigCh:
			if !ok {
				return
			}
			n.handleSignal(sig)
		}
	}
}

// handleSignal routes ActionInvoked and NotificationClosed signals.
// Signals for notifications other than ours carry unknown ids and are
// ignored.
func (n *Notifier) handleSignal(sig *dbus.Signal) {
	if sig == nil {
		return
	}

	switch sig.Name {
	case actionInvokedSignal:
		if len(sig.Body) < 2 {
			return
		}
		id, ok := sig.Body[0].(uint32)
		if !ok {
			return
		}
		key, ok := sig.Body[1].(string)
		if !ok {
			return
		}
		n.handleAction(id, key)

	case notificationClosedSignal:
		if len(sig.Body) < 1 {
			return
		}
		id, ok := sig.Body[0].(uint32)
		if !ok {
			return
		}
		n.handleClosed(id)
	}
}

func (n *Notifier) handleAction(id uint32, key string) {
	if key != ActionAccept && key != ActionReject {
		return
	}

	n.mu.Lock()
	req, ok := n.pending[id]
	if ok {
		delete(n.pending, id)
		if n.byDevice[req.deviceID] == id {
			delete(n.byDevice, req.deviceID)
		}
	}
	handler := n.actionHandler
	n.mu.Unlock()

	if !ok {
		return
	}

	n.logger.Debug("pairing notification action", "device", req.deviceID, "action", key)
	if handler != nil {
		handler(req.deviceID, req.token, key == ActionAccept)
	}
}

// handleClosed drops the mapping for a dismissed notification. The
// pairing request itself stays pending until it expires.
func (n *Notifier) handleClosed(id uint32) {
	n.mu.Lock()
	req, ok := n.pending[id]
	if ok {
		delete(n.pending, id)
		if n.byDevice[req.deviceID] == id {
			delete(n.byDevice, req.deviceID)
		}
	}
	n.mu.Unlock()

	if ok {
		n.logger.Debug("pairing notification dismissed", "device", req.deviceID, "id", id)
	}
}
