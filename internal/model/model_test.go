package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeviceType(t *testing.T) {
	assert.Equal(t, DeviceTypePhone, ParseDeviceType("phone"))
	assert.Equal(t, DeviceTypeTablet, ParseDeviceType("tablet"))
	assert.Equal(t, DeviceTypeUnknown, ParseDeviceType("smartfridge"))
	assert.Equal(t, DeviceTypeUnknown, ParseDeviceType(""))
}

func TestKindFromDaemonID(t *testing.T) {
	assert.Equal(t, PluginSms, KindFromDaemonID("kdeconnect_sms"))
	assert.Equal(t, PluginClipboard, KindFromDaemonID("kdeconnect_clipboard"))
	assert.Equal(t, PluginFileTransfer, KindFromDaemonID("kdeconnect_share"))
	assert.Equal(t, PluginSignalStrength, KindFromDaemonID("kdeconnect_connectivity_report"))

	// Both daemon media plugins collapse onto one kind.
	assert.Equal(t, PluginMediaControl, KindFromDaemonID("kdeconnect_mprisremote"))
	assert.Equal(t, PluginMediaControl, KindFromDaemonID("kdeconnect_mpriscontrol"))

	// Anything outside the mapping falls back to Unknown.
	assert.Equal(t, PluginUnknown, KindFromDaemonID("kdeconnect_photo"))
	assert.Equal(t, PluginUnknown, KindFromDaemonID(""))
}

func TestPluginKind_DaemonID(t *testing.T) {
	for _, kind := range KnownPluginKinds() {
		id := kind.DaemonID()
		require.NotEmpty(t, id, "kind %s has no daemon id", kind)
		assert.Equal(t, kind, KindFromDaemonID(id))
	}
	assert.Empty(t, PluginUnknown.DaemonID())
}

func TestParsePluginKind(t *testing.T) {
	k, ok := ParsePluginKind("sms")
	require.True(t, ok)
	assert.Equal(t, PluginSms, k)

	k, ok = ParsePluginKind("find-phone")
	require.True(t, ok)
	assert.Equal(t, PluginFindPhone, k)

	_, ok = ParsePluginKind("telepathy")
	assert.False(t, ok)

	// Unknown is a fallback, not an accepted consumer input.
	_, ok = ParsePluginKind("unknown")
	assert.False(t, ok)
}

func TestPairState_Helpers(t *testing.T) {
	assert.True(t, PairStateRequestSent.Pending())
	assert.True(t, PairStateRequestReceived.Pending())
	assert.False(t, PairStatePaired.Pending())
	assert.False(t, PairStateUnpaired.Pending())

	assert.True(t, PairStateUnpaired.Settled())
	assert.True(t, PairStatePaired.Settled())
	assert.False(t, PairStateUnpairing.Settled())
	assert.False(t, PairStateUnknown.Settled())
}

func TestDevice_Clone(t *testing.T) {
	d := testDevice("phone-123")
	d.Battery = &BatteryState{Charge: 80, Charging: true, ReportedAt: time.Now().Unix()}

	clone := d.Clone()
	require.NotNil(t, clone.Battery)

	// Mutating the clone must not leak into the original.
	clone.Battery.Charge = 10
	clone.Name = "other"
	assert.Equal(t, 80, d.Battery.Charge)
	assert.Equal(t, "Test Phone", d.Name)
}

func TestDevice_Validate(t *testing.T) {
	d := testDevice("phone-123")
	require.NoError(t, d.Validate())

	d.ID = ""
	assert.ErrorIs(t, d.Validate(), ErrEmptyDeviceID)
}

func TestSnapshot_EncodeDecode(t *testing.T) {
	snap := &Snapshot{
		Seq:     42,
		TakenAt: time.Now().Unix(),
		Devices: []DeviceSnapshot{
			{
				Device: *testDevice("phone-123"),
				Pairing: &PairingSession{
					DeviceID: "phone-123",
					State:    PairStatePaired,
					Token:    3,
				},
				Plugins: []PluginRecord{
					{DeviceID: "phone-123", Kind: PluginSms, Available: true, Enabled: true},
				},
			},
		},
	}

	data, err := snap.Encode()
	require.NoError(t, err)

	decoded, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), decoded.Seq)

	dev := decoded.Device("phone-123")
	require.NotNil(t, dev)
	assert.Equal(t, PairStatePaired, dev.PairingState())
	require.NotNil(t, dev.Plugin(PluginSms))
	assert.True(t, dev.Plugin(PluginSms).Enabled)
	assert.Nil(t, dev.Plugin(PluginClipboard))
}

func TestDeviceSnapshot_PairingState(t *testing.T) {
	t.Run("no session means unpaired", func(t *testing.T) {
		ds := DeviceSnapshot{Device: *testDevice("a")}
		assert.Equal(t, PairStateUnpaired, ds.PairingState())
	})

	t.Run("daemon-reported pairing without session", func(t *testing.T) {
		d := testDevice("a")
		d.Paired = true
		ds := DeviceSnapshot{Device: *d}
		assert.Equal(t, PairStatePaired, ds.PairingState())
	})

	t.Run("session state wins", func(t *testing.T) {
		ds := DeviceSnapshot{
			Device:  *testDevice("a"),
			Pairing: &PairingSession{DeviceID: "a", State: PairStateRequestSent, Token: 1},
		}
		assert.Equal(t, PairStateRequestSent, ds.PairingState())
	})
}

// Helper functions

func testDevice(id string) *Device {
	return &Device{
		ID:        id,
		Name:      "Test Phone",
		Type:      DeviceTypePhone,
		Reachable: true,
		LastSeen:  time.Now().Unix(),
	}
}
