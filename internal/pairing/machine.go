// Package pairing implements the per-device pairing state machine.
//
// The machine tracks pairing attempts: who asked whom, which attempt a
// token belongs to, and when an attempt expires. Settled paired state
// lives in the device registry; a device without an active session is
// simply paired or unpaired according to its registry record.
//
// Every attempt carries a token drawn from a single counter, so tokens
// strictly increase for the lifetime of the process. Async completions
// (expiry timers, notification popup actions) present their token and
// are dropped when it no longer matches the active attempt.
package pairing

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kcbridge/kcbridge/internal/model"
)

// Outcome describes how a pairing attempt ended.
type Outcome int

const (
	// OutcomeNone means nothing settled.
	OutcomeNone Outcome = iota
	// OutcomePaired means the attempt ended in a pairing.
	OutcomePaired
	// OutcomeRejected means the peer or daemon declined the attempt.
	OutcomeRejected
	// OutcomeWithdrawn means the peer withdrew its own request.
	OutcomeWithdrawn
	// OutcomeUnpaired means an unpair completed.
	OutcomeUnpaired
	// OutcomeTimedOut means the attempt expired before it settled.
	OutcomeTimedOut
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomePaired:
		return "paired"
	case OutcomeRejected:
		return "rejected"
	case OutcomeWithdrawn:
		return "withdrawn"
	case OutcomeUnpaired:
		return "unpaired"
	case OutcomeTimedOut:
		return "timed-out"
	default:
		return "none"
	}
}

// Machine tracks pairing sessions for all devices.
type Machine struct {
	mu     sync.Mutex
	logger *slog.Logger

	sessions  map[string]*model.PairingSession
	lastToken uint64

	timeout     time.Duration
	inboundWins bool

	now func() time.Time
}

// NewMachine creates a pairing machine. Attempts expire after timeout.
// inboundWins decides the winner when a peer request arrives while our
// own request is outstanding.
func NewMachine(timeout time.Duration, inboundWins bool, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		logger:      logger,
		sessions:    make(map[string]*model.PairingSession),
		timeout:     timeout,
		inboundWins: inboundWins,
		now:         time.Now,
	}
}

// nextToken returns a fresh attempt token. Callers hold m.mu.
func (m *Machine) nextToken() uint64 {
	m.lastToken++
	return m.lastToken
}

// newSession installs a fresh session for the device. Callers hold m.mu.
func (m *Machine) newSession(id string, state model.PairState) *model.PairingSession {
	s := &model.PairingSession{
		DeviceID: id,
		State:    state,
		Token:    m.nextToken(),
		Deadline: m.now().Add(m.timeout).Unix(),
	}
	m.sessions[id] = s
	return s
}

// RequestOutbound starts an outbound pairing attempt. Fails when any
// attempt is already active for the device.
func (m *Machine) RequestOutbound(id string) (*model.PairingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[id]; ok {
		return nil, fmt.Errorf("pairing attempt already active for %s (state %s): %w",
			id, existing.State, model.ErrPairingFailed)
	}

	s := m.newSession(id, model.PairStateRequestSent)
	m.logger.Info("pair request sent", "device", id, "token", s.Token)
	return s.Clone(), nil
}

// RequestInbound records a pair request from the peer. Reports from
// the daemon repeat while a request is pending, so an already-recorded
// request is returned unchanged. When our own request is outstanding,
// the configured tie break decides which attempt survives.
func (m *Machine) RequestInbound(id string) (*model.PairingSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestInboundLocked(id)
}

func (m *Machine) requestInboundLocked(id string) (*model.PairingSession, bool) {
	existing, ok := m.sessions[id]
	if ok {
		switch existing.State {
		case model.PairStateRequestReceived:
			// Repeated report of the same request.
			return existing.Clone(), false
		case model.PairStateRequestSent:
			if !m.inboundWins {
				m.logger.Info("peer pair request ignored, outbound attempt wins",
					"device", id, "token", existing.Token)
				return existing.Clone(), false
			}
			m.logger.Info("peer pair request supersedes outbound attempt",
				"device", id, "stale_token", existing.Token)
		default:
			// Attempt already settling, ignore the report.
			return existing.Clone(), false
		}
	}

	s := m.newSession(id, model.PairStateRequestReceived)
	m.logger.Info("pair request received", "device", id, "token", s.Token)
	return s.Clone(), true
}

// Accept accepts the currently pending peer request.
func (m *Machine) Accept(id string) (*model.PairingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.State != model.PairStateRequestReceived {
		return nil, fmt.Errorf("no peer pair request pending for %s: %w", id, model.ErrPairingFailed)
	}
	return m.resolveInboundLocked(s, true), nil
}

// Reject rejects the currently pending peer request.
func (m *Machine) Reject(id string) (*model.PairingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.State != model.PairStateRequestReceived {
		return nil, fmt.Errorf("no peer pair request pending for %s: %w", id, model.ErrPairingFailed)
	}
	return m.resolveInboundLocked(s, false), nil
}

// ResolveInbound settles a peer request from an async path holding a
// token, such as a notification popup action. A token that no longer
// matches the active attempt means the attempt was cancelled or
// replaced in the meantime; the resolution is dropped.
func (m *Machine) ResolveInbound(id string, token uint64, accept bool) (*model.PairingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.State != model.PairStateRequestReceived || s.Token != token {
		m.logger.Debug("dropping stale pair resolution", "device", id, "token", token)
		return nil, model.ErrStaleToken
	}
	return m.resolveInboundLocked(s, accept), nil
}

// resolveInboundLocked applies an accept or reject to a pending peer
// request. Accepting keeps the session in Paired until the daemon
// confirms; rejecting removes it. Callers hold m.mu.
func (m *Machine) resolveInboundLocked(s *model.PairingSession, accept bool) *model.PairingSession {
	if accept {
		s.State = model.PairStatePaired
		s.Deadline = 0
		m.logger.Info("pair request accepted", "device", s.DeviceID, "token", s.Token)
		return s.Clone()
	}

	delete(m.sessions, s.DeviceID)
	m.logger.Info("pair request rejected", "device", s.DeviceID, "token", s.Token)
	return nil
}

// Cancel withdraws our outbound attempt. The attempt's token becomes
// stale immediately: any expiry or reply still in flight is dropped
// when it arrives.
func (m *Machine) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.State != model.PairStateRequestSent {
		return fmt.Errorf("no outbound pair request pending for %s: %w", id, model.ErrPairingFailed)
	}

	delete(m.sessions, id)
	m.logger.Info("pair request cancelled", "device", id, "token", s.Token)
	return nil
}

// BeginUnpair marks a paired device as unpairing while the daemon call
// is in flight. The caller checks paired state against the registry.
func (m *Machine) BeginUnpair(id string) *model.PairingSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &model.PairingSession{
		DeviceID: id,
		State:    model.PairStateUnpairing,
		Token:    m.nextToken(),
	}
	m.sessions[id] = s
	m.logger.Info("unpair started", "device", id, "token", s.Token)
	return s.Clone()
}

// Expire ends the attempt identified by token. Returns ErrStaleToken
// when the token no longer names the active attempt, which happens
// whenever the attempt was cancelled, resolved, or replaced before the
// timer fired.
func (m *Machine) Expire(id string, token uint64) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.Token != token || !s.State.Pending() {
		m.logger.Debug("dropping stale pair expiry", "device", id, "token", token)
		return OutcomeNone, model.ErrStaleToken
	}

	delete(m.sessions, id)
	m.logger.Info("pair request timed out", "device", id, "token", token, "state", s.State)
	return OutcomeTimedOut, nil
}

// ApplyDaemonState reconciles a pair state reported by the daemon with
// the active attempt. The daemon is the source of truth for settled
// states; the attempt it settles is removed here.
func (m *Machine) ApplyDaemonState(id string, state model.PairState) (Outcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, active := m.sessions[id]

	switch state {
	case model.PairStatePaired:
		if !active {
			return OutcomeNone, false
		}
		if s.State == model.PairStateUnpairing {
			// Our unpair is still in flight; this report predates it.
			return OutcomeNone, false
		}
		delete(m.sessions, id)
		m.logger.Info("pairing confirmed", "device", id, "token", s.Token)
		return OutcomePaired, true

	case model.PairStateUnpaired:
		if !active {
			return OutcomeNone, false
		}
		delete(m.sessions, id)
		switch s.State {
		case model.PairStateRequestSent:
			m.logger.Info("pair request declined", "device", id, "token", s.Token)
			return OutcomeRejected, true
		case model.PairStateRequestReceived:
			m.logger.Info("peer withdrew pair request", "device", id, "token", s.Token)
			return OutcomeWithdrawn, true
		case model.PairStatePaired:
			// We accepted but the daemon never completed the pairing.
			m.logger.Warn("pairing failed after accept", "device", id, "token", s.Token)
			return OutcomeRejected, true
		default:
			m.logger.Info("unpair confirmed", "device", id, "token", s.Token)
			return OutcomeUnpaired, true
		}

	case model.PairStateRequestSent:
		if active {
			return OutcomeNone, false
		}
		// The daemon knows of an outbound request we did not start in
		// this process lifetime, e.g. after a restart. Adopt it.
		ns := m.newSession(id, model.PairStateRequestSent)
		m.logger.Info("adopted outbound pair request", "device", id, "token", ns.Token)
		return OutcomeNone, true

	case model.PairStateRequestReceived:
		_, changed := m.requestInboundLocked(id)
		return OutcomeNone, changed
	}

	return OutcomeNone, false
}

// Session returns a copy of the active session for a device, or nil.
func (m *Machine) Session(id string) *model.PairingSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	return s.Clone()
}

// ActiveSessions returns copies of all active sessions sorted by device id.
func (m *Machine) ActiveSessions() []model.PairingSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]model.PairingSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		result = append(result, *s.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DeviceID < result[j].DeviceID
	})
	return result
}

// Drop removes the active session for a device without an outcome.
// Used when the device record itself goes away.
func (m *Machine) Drop(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		delete(m.sessions, id)
		m.logger.Debug("dropped pairing session", "device", id, "token", s.Token)
	}
}

// Timeout returns the configured attempt lifetime.
func (m *Machine) Timeout() time.Duration {
	return m.timeout
}
