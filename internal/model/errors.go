package model

import "errors"

// Error kinds surfaced across the consumer boundary. Callers classify with
// errors.Is; layers add context with fmt.Errorf and %w so the kind survives
// wrapping. ErrStaleToken is the one kind that never reaches consumers: it
// is logged and dropped where it occurs.
var (
	// ErrBusUnavailable means the gateway has no usable daemon connection.
	ErrBusUnavailable = errors.New("bus unavailable")
	// ErrNotPaired rejects plugin operations on devices that are not paired.
	ErrNotPaired = errors.New("device not paired")
	// ErrPairingRejected means the peer declined the outstanding request.
	ErrPairingRejected = errors.New("pairing rejected")
	// ErrPairingTimedOut means the outstanding request expired unanswered.
	ErrPairingTimedOut = errors.New("pairing timed out")
	// ErrPairingFailed means a bus-level failure interrupted the request.
	ErrPairingFailed = errors.New("pairing failed")
	// ErrStaleToken marks a reply to a superseded or cancelled request.
	ErrStaleToken = errors.New("stale pairing token")
	// ErrSuppressionUnavailable means the daemon config surface could not be
	// mutated; pairing proceeds and deduplication degrades.
	ErrSuppressionUnavailable = errors.New("notification suppression unavailable")
	// ErrUnknownDevice rejects commands for devices the daemon never reported.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrUnknownPlugin rejects commands naming a plugin kind outside the set.
	ErrUnknownPlugin = errors.New("unknown plugin kind")
)
