package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/kcbridge/kcbridge/internal/config"
	"github.com/kcbridge/kcbridge/internal/model"
)

// signalBuffer is the capacity of the raw signal channel registered
// with the bus connection.
const signalBuffer = 64

// eventBuffer is the capacity of the typed event channel handed to the
// gateway consumer.
const eventBuffer = 64

// Gateway owns the session bus connection to the KDE Connect daemon.
// It converts raw signals into typed events, retries failed calls with
// bounded backoff, and transparently reconnects when the bus drops,
// re-establishing its signal subscriptions afterwards.
type Gateway struct {
	logger *slog.Logger

	mu   sync.RWMutex
	conn *dbus.Conn

	callTimeout   time.Duration
	retryInitial  time.Duration
	retryMax      time.Duration
	retryAttempts int
	reconnectMax  time.Duration

	events chan Event

	// dial creates a fresh private bus connection. Overridable for tests.
	dial func() (*dbus.Conn, error)

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewGateway creates a gateway with the given bus settings.
func NewGateway(cfg config.BusConfig, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		logger:        logger,
		callTimeout:   cfg.CallTimeout.Duration(),
		retryInitial:  cfg.RetryInitial.Duration(),
		retryMax:      cfg.RetryMax.Duration(),
		retryAttempts: cfg.RetryAttempts,
		reconnectMax:  cfg.ReconnectMax.Duration(),
		events:        make(chan Event, eventBuffer),
		dial:          sessionBus,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// sessionBus dials a private session bus connection. A private
// connection can be closed and re-dialed, which the shared one cannot.
func sessionBus() (*dbus.Conn, error) {
	conn, err := dbus.SessionBusPrivate()
	if err != nil {
		return nil, err
	}
	if err := conn.Auth(nil); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.Hello(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Start connects to the session bus and begins pumping signals.
// Fails if the bus is unreachable; later drops are handled by the
// reconnect loop instead.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return nil
	}

	conn, err := g.dial()
	if err != nil {
		g.mu.Unlock()
		return fmt.Errorf("session bus connect failed (%v): %w", err, model.ErrBusUnavailable)
	}
	if err := g.subscribe(conn); err != nil {
		conn.Close()
		g.mu.Unlock()
		return fmt.Errorf("signal subscription failed (%v): %w", err, model.ErrBusUnavailable)
	}

	g.conn = conn
	g.running = true
	g.stopCh = make(chan struct{})
	g.doneCh = make(chan struct{})
	g.mu.Unlock()

	go g.run(ctx)

	g.logger.Info("session bus connected", "service", KDEConnectService)
	return nil
}

// Stop disconnects from the bus and closes the event channel.
func (g *Gateway) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	close(g.stopCh)
	g.mu.Unlock()

	<-g.doneCh

	g.mu.Lock()
	if g.conn != nil {
		g.conn.Close()
		g.conn = nil
	}
	g.mu.Unlock()

	close(g.events)
	g.logger.Debug("session bus gateway stopped")
}

// Events returns the typed event stream. The channel is closed by Stop.
func (g *Gateway) Events() <-chan Event {
	return g.events
}

// Connected reports whether the gateway currently holds a live bus connection.
func (g *Gateway) Connected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.conn != nil && g.conn.Connected()
}

// subscribe installs the match rules the gateway depends on. Called on
// every fresh connection, including after a reconnect.
func (g *Gateway) subscribe(conn *dbus.Conn) error {
	// Daemon lifecycle: track ownership of the KDE Connect bus name.
	if err := conn.AddMatchSignal(
		dbus.WithMatchSender("org.freedesktop.DBus"),
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchOption("arg0", KDEConnectService),
	); err != nil {
		return fmt.Errorf("failed to match NameOwnerChanged: %w", err)
	}

	// Device lifecycle signals from the daemon object.
	if err := conn.AddMatchSignal(
		dbus.WithMatchSender(KDEConnectService),
		dbus.WithMatchInterface(KDEConnectDaemonIface),
	); err != nil {
		return fmt.Errorf("failed to match daemon signals: %w", err)
	}

	// Per-device signals: pair state, reachability, name.
	if err := conn.AddMatchSignal(
		dbus.WithMatchSender(KDEConnectService),
		dbus.WithMatchInterface(KDEConnectDeviceIface),
	); err != nil {
		return fmt.Errorf("failed to match device signals: %w", err)
	}

	// Telemetry sub-interfaces.
	for _, iface := range []string{BatteryIface, ConnectivityIface} {
		if err := conn.AddMatchSignal(
			dbus.WithMatchSender(KDEConnectService),
			dbus.WithMatchInterface(iface),
			dbus.WithMatchMember("refreshed"),
		); err != nil {
			return fmt.Errorf("failed to match %s signals: %w", iface, err)
		}
	}

	return nil
}

// run pumps signals from the current connection until stopped,
// reconnecting whenever the connection dies underneath us.
func (g *Gateway) run(ctx context.Context) {
	defer close(g.doneCh)

	for {
		g.mu.RLock()
		conn := g.conn
		g.mu.RUnlock()

		sigCh := make(chan *dbus.Signal, signalBuffer)
		conn.Signal(sigCh)

		if stopped := g.drain(ctx, sigCh); stopped {
			conn.RemoveSignal(sigCh)
			return
		}

		// Connection died. Tell the consumer and start over.
		g.logger.Warn("session bus connection lost")
		g.emit(Event{Type: EventBusLost})

		if !g.reconnect(ctx) {
			return
		}
		g.emit(Event{Type: EventBusRestored})
	}
}

// drain reads signals until the channel closes or a stop is requested.
// Returns true when the gateway should shut down.
func (g *Gateway) drain(ctx context.Context, sigCh chan *dbus.Signal) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case <-g.stopCh:
			return true
		case sig, ok := <-sigCh:
			if !ok {
				return false
			}
			if ev, ok := parseSignal(sig); ok {
				g.emit(ev)
			}
		}
	}
}

// reconnect re-dials the bus with exponential backoff until it succeeds
// or the gateway is stopped. Returns false on shutdown.
func (g *Gateway) reconnect(ctx context.Context) bool {
	backoff := g.retryInitial

	for {
		select {
		case <-ctx.Done():
			return false
		case <-g.stopCh:
			return false
		case <-time.After(backoff):
		}

		conn, err := g.dial()
		if err == nil {
			if err = g.subscribe(conn); err == nil {
				g.mu.Lock()
				g.conn = conn
				g.mu.Unlock()
				g.logger.Info("session bus reconnected")
				return true
			}
			conn.Close()
		}

		g.logger.Warn("session bus reconnect failed", "error", err, "backoff", backoff)
		backoff = nextBackoff(backoff, g.reconnectMax)
	}
}

// nextBackoff doubles the delay up to the configured ceiling.
func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		next = max
	}
	return next
}

// emit delivers an event without blocking the signal pump. A full
// consumer drops the event; the consumer resyncs from the daemon on
// its own cadence, so a dropped event is recovered later.
func (g *Gateway) emit(ev Event) {
	select {
	case g.events <- ev:
	default:
		g.logger.Warn("event channel full, dropping event", "type", ev.Type, "device", ev.DeviceID)
	}
}

// connection returns the current bus connection, or nil when down.
func (g *Gateway) connection() *dbus.Conn {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.conn
}

// Call invokes a method on the given destination object. Transient
// transport failures are retried with doubling delays up to the
// configured attempt budget; errors answered by the remote are
// returned as-is on the first attempt.
func (g *Gateway) Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, args ...interface{}) (*dbus.Call, error) {
	var lastErr error
	delay := g.retryInitial

	for attempt := 0; attempt < g.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = nextBackoff(delay, g.retryMax)
		}

		conn := g.connection()
		if conn == nil || !conn.Connected() {
			lastErr = model.ErrBusUnavailable
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		call := conn.Object(dest, path).CallWithContext(callCtx, method, 0, args...)
		cancel()

		if call.Err == nil {
			return call, nil
		}
		lastErr = call.Err
		if !retryable(call.Err) {
			return nil, call.Err
		}
		g.logger.Debug("bus call failed, retrying",
			"method", method,
			"attempt", attempt+1,
			"max_attempts", g.retryAttempts,
			"error", call.Err)
	}

	return nil, fmt.Errorf("bus call %s failed after %d attempts (%v): %w",
		method, g.retryAttempts, lastErr, model.ErrBusUnavailable)
}

// Property reads a single property from a remote object.
func (g *Gateway) Property(ctx context.Context, dest string, path dbus.ObjectPath, iface, name string) (dbus.Variant, error) {
	call, err := g.Call(ctx, dest, path, "org.freedesktop.DBus.Properties.Get", iface, name)
	if err != nil {
		return dbus.Variant{}, err
	}
	var v dbus.Variant
	if err := call.Store(&v); err != nil {
		return dbus.Variant{}, fmt.Errorf("failed to decode property %s: %w", name, err)
	}
	return v, nil
}

// Properties reads all properties of an interface from a remote object.
func (g *Gateway) Properties(ctx context.Context, dest string, path dbus.ObjectPath, iface string) (map[string]dbus.Variant, error) {
	call, err := g.Call(ctx, dest, path, "org.freedesktop.DBus.Properties.GetAll", iface)
	if err != nil {
		return nil, err
	}
	var props map[string]dbus.Variant
	if err := call.Store(&props); err != nil {
		return nil, fmt.Errorf("failed to decode properties of %s: %w", iface, err)
	}
	return props, nil
}

// retryable reports whether an error is a transport failure worth
// retrying. Errors answered by the remote service are not.
func retryable(err error) bool {
	if errors.Is(err, dbus.ErrClosed) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		switch dbusErr.Name {
		case "org.freedesktop.DBus.Error.NoReply",
			"org.freedesktop.DBus.Error.Timeout",
			"org.freedesktop.DBus.Error.Disconnected",
			"org.freedesktop.DBus.Error.ServiceUnknown",
			"org.freedesktop.DBus.Error.NameHasNoOwner":
			return true
		}
		return false
	}
	return false
}
