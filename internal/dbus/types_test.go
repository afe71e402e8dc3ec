package dbus

import (
	"errors"
	"fmt"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcbridge/kcbridge/internal/model"
	"github.com/kcbridge/kcbridge/internal/session"
)

func TestWireError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantName string
	}{
		{"unknown device", fmt.Errorf("device x: %w", model.ErrUnknownDevice), ErrNameUnknownDevice},
		{"unknown plugin", model.ErrUnknownPlugin, ErrNameUnknownPlugin},
		{"not paired", model.ErrNotPaired, ErrNameNotPaired},
		{"rejected", model.ErrPairingRejected, ErrNamePairingRejected},
		{"timed out", model.ErrPairingTimedOut, ErrNamePairingTimedOut},
		{"stale token", model.ErrStaleToken, ErrNameStaleToken},
		{"pairing failed", fmt.Errorf("device x is already paired: %w", model.ErrPairingFailed), ErrNamePairingFailed},
		{"bus unavailable", model.ErrBusUnavailable, ErrNameBusUnavailable},
		{"suppression unavailable", model.ErrSuppressionUnavailable, ErrNameSuppressionUnavailable},
		{"manager closed", session.ErrManagerClosed, ErrNameClosed},
		{"plain error", errors.New("boom"), ErrNameInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			derr := wireError(tt.err)
			require.NotNil(t, derr)
			assert.Equal(t, tt.wantName, derr.Name)
			require.Len(t, derr.Body, 1)
			assert.Equal(t, tt.err.Error(), derr.Body[0])
		})
	}
}

func TestWireError_Nil(t *testing.T) {
	assert.Nil(t, wireError(nil))
}

func TestLocalError_RoundTrip(t *testing.T) {
	orig := fmt.Errorf("device phone-123: %w", model.ErrUnknownDevice)
	derr := wireError(orig)

	err := localError(*derr)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUnknownDevice)
	assert.Equal(t, orig.Error(), err.Error())

	// The pointer form decodes the same way.
	err = localError(derr)
	assert.ErrorIs(t, err, model.ErrUnknownDevice)
}

func TestLocalError_ServiceUnknown(t *testing.T) {
	err := localError(dbus.Error{Name: serviceUnknown})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrBusUnavailable)
	assert.Contains(t, err.Error(), "not running")
}

func TestLocalError_Internal(t *testing.T) {
	err := localError(*wireError(errors.New("boom")))
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
}

func TestLocalError_PassThrough(t *testing.T) {
	assert.NoError(t, localError(nil))

	plain := errors.New("socket closed")
	assert.Equal(t, plain, localError(plain))

	foreign := dbus.Error{Name: "org.freedesktop.DBus.Error.NoReply"}
	assert.Equal(t, foreign, localError(foreign))
}

func TestDecodeSnapshotSignal(t *testing.T) {
	snap := &model.Snapshot{Seq: 7}
	payload, err := snap.Encode()
	require.NoError(t, err)

	got := decodeSnapshotSignal(&dbus.Signal{
		Name: ServiceIface + "." + SnapshotChangedSignal,
		Body: []interface{}{uint64(7), string(payload)},
	})
	require.NotNil(t, got)
	assert.Equal(t, uint64(7), got.Seq)

	assert.Nil(t, decodeSnapshotSignal(nil))
	assert.Nil(t, decodeSnapshotSignal(&dbus.Signal{Name: "other.Signal"}))
	assert.Nil(t, decodeSnapshotSignal(&dbus.Signal{
		Name: ServiceIface + "." + SnapshotChangedSignal,
		Body: []interface{}{uint64(1)},
	}))
	assert.Nil(t, decodeSnapshotSignal(&dbus.Signal{
		Name: ServiceIface + "." + SnapshotChangedSignal,
		Body: []interface{}{uint64(1), "not json"},
	}))
}
