package model

import "time"

// PairState is the pairing state machine position for one device.
type PairState string

const (
	// PairStateUnknown means the daemon has not reported the device yet.
	PairStateUnknown PairState = "unknown"
	// PairStateUnpaired is the rest state with no outstanding request.
	PairStateUnpaired PairState = "unpaired"
	// PairStateRequestSent means we asked the device to pair.
	PairStateRequestSent PairState = "request-sent"
	// PairStateRequestReceived means the device asked us to pair.
	PairStateRequestReceived PairState = "request-received"
	// PairStatePaired is the trusted rest state.
	PairStatePaired PairState = "paired"
	// PairStateUnpairing is the transient state while an unpair settles.
	PairStateUnpairing PairState = "unpairing"
)

// ValidPairStates returns all pair state values.
func ValidPairStates() []PairState {
	return []PairState{
		PairStateUnknown,
		PairStateUnpaired,
		PairStateRequestSent,
		PairStateRequestReceived,
		PairStatePaired,
		PairStateUnpairing,
	}
}

// Pending reports whether the state has an outstanding pair request.
func (s PairState) Pending() bool {
	return s == PairStateRequestSent || s == PairStateRequestReceived
}

// Settled reports whether the state is a stable rest state the machine can
// re-enter any number of times.
func (s PairState) Settled() bool {
	return s == PairStateUnpaired || s == PairStatePaired
}

// PairingSession is the per-device pairing state plus the monotonic token
// guarding replies to the outstanding request. A reply carrying any token
// other than the current one is stale and must be dropped.
type PairingSession struct {
	DeviceID string    `json:"device_id"`
	State    PairState `json:"state"`
	Token    uint64    `json:"token"`
	// Deadline is the unix time the outstanding request expires, zero when
	// no request is outstanding.
	Deadline int64 `json:"deadline,omitempty"`
}

// DeadlineTime returns the expiry deadline as a time.Time (zero Time when
// no request is outstanding).
func (p *PairingSession) DeadlineTime() time.Time {
	if p.Deadline == 0 {
		return time.Time{}
	}
	return time.Unix(p.Deadline, 0)
}

// Clone creates a copy of the session.
func (p *PairingSession) Clone() *PairingSession {
	clone := *p
	return &clone
}
