package plugins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcbridge/kcbridge/internal/model"
)

func TestNegotiator_Reconcile(t *testing.T) {
	n := newTestNegotiator(t, true)

	changed := n.Reconcile("phone-123",
		[]string{"kdeconnect_sms", "kdeconnect_battery"},
		map[string]bool{"kdeconnect_sms": true})
	assert.True(t, changed)

	recs := n.Plugins("phone-123")
	require.Len(t, recs, 2)

	sms := n.Plugin("phone-123", model.PluginSms)
	require.NotNil(t, sms)
	assert.True(t, sms.Available)
	assert.True(t, sms.Enabled)
	assert.Equal(t, "kdeconnect_sms", sms.RawID)

	battery := n.Plugin("phone-123", model.PluginBattery)
	require.NotNil(t, battery)
	assert.True(t, battery.Available)
	assert.False(t, battery.Enabled)
}

func TestNegotiator_Reconcile_Idempotent(t *testing.T) {
	n := newTestNegotiator(t, true)

	loaded := []string{"kdeconnect_sms", "kdeconnect_clipboard"}
	enabled := map[string]bool{"kdeconnect_sms": true, "kdeconnect_clipboard": true}

	assert.True(t, n.Reconcile("phone-123", loaded, enabled))
	assert.False(t, n.Reconcile("phone-123", loaded, enabled))
	assert.False(t, n.Reconcile("phone-123", loaded, enabled))
}

func TestNegotiator_Reconcile_MissingKindGoesUnavailable(t *testing.T) {
	n := newTestNegotiator(t, true)

	n.Reconcile("phone-123",
		[]string{"kdeconnect_sms", "kdeconnect_battery"},
		map[string]bool{"kdeconnect_sms": true, "kdeconnect_battery": true})

	// Battery disappears from the next report.
	changed := n.Reconcile("phone-123",
		[]string{"kdeconnect_sms"},
		map[string]bool{"kdeconnect_sms": true})
	assert.True(t, changed)

	// The record survives, flagged unavailable, toggle preserved.
	battery := n.Plugin("phone-123", model.PluginBattery)
	require.NotNil(t, battery)
	assert.False(t, battery.Available)
	assert.True(t, battery.Enabled)

	// It comes back on a later report.
	n.Reconcile("phone-123",
		[]string{"kdeconnect_sms", "kdeconnect_battery"},
		map[string]bool{"kdeconnect_sms": true, "kdeconnect_battery": true})
	assert.True(t, n.Plugin("phone-123", model.PluginBattery).Available)
}

func TestNegotiator_Reconcile_MergesMediaPlugins(t *testing.T) {
	n := newTestNegotiator(t, true)

	// Both daemon media plugins collapse onto one kind; enabled wins
	// when either is enabled.
	n.Reconcile("phone-123",
		[]string{"kdeconnect_mprisremote", "kdeconnect_mpriscontrol"},
		map[string]bool{"kdeconnect_mpriscontrol": true})

	recs := n.Plugins("phone-123")
	require.Len(t, recs, 1)
	assert.Equal(t, model.PluginMediaControl, recs[0].Kind)
	assert.True(t, recs[0].Enabled)
}

func TestNegotiator_Reconcile_UnknownPlugin(t *testing.T) {
	n := newTestNegotiator(t, true)

	n.Reconcile("phone-123", []string{"kdeconnect_photo"}, nil)

	rec := n.Plugin("phone-123", model.PluginUnknown)
	require.NotNil(t, rec)
	assert.Equal(t, "kdeconnect_photo", rec.RawID)
	assert.True(t, rec.Available)
}

func TestNegotiator_SetEnabled(t *testing.T) {
	n := newTestNegotiator(t, true)

	n.Reconcile("phone-123", []string{"kdeconnect_sms"}, map[string]bool{"kdeconnect_sms": true})

	rec, err := n.SetEnabled("phone-123", model.PluginSms, false)
	require.NoError(t, err)
	assert.False(t, rec.Enabled)
	assert.False(t, n.Plugin("phone-123", model.PluginSms).Enabled)

	// The next daemon report overwrites the optimistic value.
	n.Reconcile("phone-123", []string{"kdeconnect_sms"}, map[string]bool{"kdeconnect_sms": true})
	assert.True(t, n.Plugin("phone-123", model.PluginSms).Enabled)
}

func TestNegotiator_SetEnabled_NotPaired(t *testing.T) {
	n := newTestNegotiator(t, false)

	n.Reconcile("phone-123", []string{"kdeconnect_sms"}, nil)

	_, err := n.SetEnabled("phone-123", model.PluginSms, true)
	assert.ErrorIs(t, err, model.ErrNotPaired)
}

func TestNegotiator_SetEnabled_UnknownPlugin(t *testing.T) {
	n := newTestNegotiator(t, true)

	// Device never reported anything.
	_, err := n.SetEnabled("phone-123", model.PluginSms, true)
	assert.ErrorIs(t, err, model.ErrUnknownPlugin)

	// Device reported, but not this kind.
	n.Reconcile("phone-123", []string{"kdeconnect_sms"}, nil)
	_, err = n.SetEnabled("phone-123", model.PluginFindPhone, true)
	assert.ErrorIs(t, err, model.ErrUnknownPlugin)
}

func TestNegotiator_RemoveDevice(t *testing.T) {
	n := newTestNegotiator(t, true)

	n.Reconcile("phone-123", []string{"kdeconnect_sms"}, nil)
	n.RemoveDevice("phone-123")

	assert.Nil(t, n.Plugins("phone-123"))
	assert.Nil(t, n.Plugin("phone-123", model.PluginSms))
}

// Helper functions

func newTestNegotiator(t *testing.T, paired bool) *Negotiator {
	t.Helper()
	return NewNegotiator(func(string) bool { return paired }, nil)
}
