package dbus

import (
	"errors"

	"github.com/godbus/dbus/v5"

	"github.com/kcbridge/kcbridge/internal/model"
	"github.com/kcbridge/kcbridge/internal/session"
)

const (
	// ServiceName is the well-known bus name kcbridged claims.
	ServiceName = "org.kcbridge"
	// ServicePath is the session object path.
	ServicePath = "/org/kcbridge/Session1"
	// ServiceIface is the session control interface.
	ServiceIface = "org.kcbridge.Session1"

	// SnapshotChangedSignal fires after every settled mutation. It
	// carries the sequence number and the encoded snapshot.
	SnapshotChangedSignal = "SnapshotChanged"
)

// Named errors returned by the session interface.
const (
	ErrNameUnknownDevice          = ServiceIface + ".Error.UnknownDevice"
	ErrNameUnknownPlugin          = ServiceIface + ".Error.UnknownPlugin"
	ErrNameNotPaired              = ServiceIface + ".Error.NotPaired"
	ErrNamePairingRejected        = ServiceIface + ".Error.PairingRejected"
	ErrNamePairingTimedOut        = ServiceIface + ".Error.PairingTimedOut"
	ErrNameStaleToken             = ServiceIface + ".Error.StaleToken"
	ErrNamePairingFailed          = ServiceIface + ".Error.PairingFailed"
	ErrNameBusUnavailable         = ServiceIface + ".Error.BusUnavailable"
	ErrNameSuppressionUnavailable = ServiceIface + ".Error.SuppressionUnavailable"
	ErrNameClosed                 = ServiceIface + ".Error.Closed"
	ErrNameInternal               = ServiceIface + ".Error.Internal"
)

// serviceUnknown is the bus error for a well-known name nobody owns.
const serviceUnknown = "org.freedesktop.DBus.Error.ServiceUnknown"

// wireErrors pairs each session sentinel with its named D-Bus error.
// wireError and localError walk the table in opposite directions.
var wireErrors = []struct {
	name     string
	sentinel error
}{
	{ErrNameUnknownDevice, model.ErrUnknownDevice},
	{ErrNameUnknownPlugin, model.ErrUnknownPlugin},
	{ErrNameNotPaired, model.ErrNotPaired},
	{ErrNamePairingRejected, model.ErrPairingRejected},
	{ErrNamePairingTimedOut, model.ErrPairingTimedOut},
	{ErrNameStaleToken, model.ErrStaleToken},
	{ErrNamePairingFailed, model.ErrPairingFailed},
	{ErrNameBusUnavailable, model.ErrBusUnavailable},
	{ErrNameSuppressionUnavailable, model.ErrSuppressionUnavailable},
	{ErrNameClosed, session.ErrManagerClosed},
}

// wireError converts a session error into its named D-Bus form.
func wireError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	for _, we := range wireErrors {
		if errors.Is(err, we.sentinel) {
			return dbus.NewError(we.name, []interface{}{err.Error()})
		}
	}
	return dbus.NewError(ErrNameInternal, []interface{}{err.Error()})
}

// remoteError is the client-side form of a named D-Bus error. It keeps
// the service's message and unwraps to the matching session sentinel so
// callers can test with errors.Is.
type remoteError struct {
	msg      string
	sentinel error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.sentinel }

// localError converts a D-Bus call error back into a session error.
// Errors that carry no known name pass through unchanged.
func localError(err error) error {
	if err == nil {
		return nil
	}

	var derr dbus.Error
	switch e := err.(type) {
	case dbus.Error:
		derr = e
	case *dbus.Error:
		derr = *e
	default:
		return err
	}

	if derr.Name == serviceUnknown {
		return &remoteError{msg: "kcbridged is not running", sentinel: model.ErrBusUnavailable}
	}

	msg := derr.Name
	if len(derr.Body) > 0 {
		if s, ok := derr.Body[0].(string); ok && s != "" {
			msg = s
		}
	}
	for _, we := range wireErrors {
		if we.name == derr.Name {
			return &remoteError{msg: msg, sentinel: we.sentinel}
		}
	}
	if derr.Name == ErrNameInternal {
		return errors.New(msg)
	}
	return err
}
