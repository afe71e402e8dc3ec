package pairing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcbridge/kcbridge/internal/model"
)

func TestMachine_RequestOutbound(t *testing.T) {
	m := newTestMachine(t, true)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	s, err := m.RequestOutbound("phone-123")
	require.NoError(t, err)
	assert.Equal(t, model.PairStateRequestSent, s.State)
	assert.Equal(t, uint64(1), s.Token)
	assert.Equal(t, base.Add(30*time.Second).Unix(), s.Deadline)

	// A second request while one is pending is refused.
	_, err = m.RequestOutbound("phone-123")
	assert.ErrorIs(t, err, model.ErrPairingFailed)

	// Other devices are unaffected.
	s2, err := m.RequestOutbound("tablet-9")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s2.Token)
}

func TestMachine_RequestInbound_Idempotent(t *testing.T) {
	m := newTestMachine(t, true)

	s, changed := m.RequestInbound("phone-123")
	require.True(t, changed)
	assert.Equal(t, model.PairStateRequestReceived, s.State)
	token := s.Token

	// The daemon repeats the report while the request is pending.
	s, changed = m.RequestInbound("phone-123")
	assert.False(t, changed)
	assert.Equal(t, token, s.Token)
}

func TestMachine_TieBreak_InboundWins(t *testing.T) {
	m := newTestMachine(t, true)

	out, err := m.RequestOutbound("phone-123")
	require.NoError(t, err)

	in, changed := m.RequestInbound("phone-123")
	require.True(t, changed)
	assert.Equal(t, model.PairStateRequestReceived, in.State)
	assert.Greater(t, in.Token, out.Token)

	// The superseded outbound token is stale now.
	_, err = m.Expire("phone-123", out.Token)
	assert.ErrorIs(t, err, model.ErrStaleToken)
}

func TestMachine_TieBreak_OutboundWins(t *testing.T) {
	m := newTestMachine(t, false)

	out, err := m.RequestOutbound("phone-123")
	require.NoError(t, err)

	in, changed := m.RequestInbound("phone-123")
	assert.False(t, changed)
	assert.Equal(t, model.PairStateRequestSent, in.State)
	assert.Equal(t, out.Token, in.Token)
}

func TestMachine_AcceptThenConfirm(t *testing.T) {
	m := newTestMachine(t, true)

	_, changed := m.RequestInbound("phone-123")
	require.True(t, changed)

	s, err := m.Accept("phone-123")
	require.NoError(t, err)
	assert.Equal(t, model.PairStatePaired, s.State)
	assert.Zero(t, s.Deadline)

	// Daemon confirms, settling the attempt.
	outcome, changed := m.ApplyDaemonState("phone-123", model.PairStatePaired)
	assert.Equal(t, OutcomePaired, outcome)
	assert.True(t, changed)
	assert.Nil(t, m.Session("phone-123"))
}

func TestMachine_Accept_NoPending(t *testing.T) {
	m := newTestMachine(t, true)

	_, err := m.Accept("phone-123")
	assert.ErrorIs(t, err, model.ErrPairingFailed)

	// An outbound attempt is not acceptable either.
	_, err = m.RequestOutbound("phone-123")
	require.NoError(t, err)
	_, err = m.Accept("phone-123")
	assert.ErrorIs(t, err, model.ErrPairingFailed)
}

func TestMachine_Reject(t *testing.T) {
	m := newTestMachine(t, true)

	_, changed := m.RequestInbound("phone-123")
	require.True(t, changed)

	s, err := m.Reject("phone-123")
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Nil(t, m.Session("phone-123"))
}

func TestMachine_ResolveInbound_StaleToken(t *testing.T) {
	m := newTestMachine(t, true)

	first, _ := m.RequestInbound("phone-123")

	// The request is rejected and the peer asks again.
	_, err := m.Reject("phone-123")
	require.NoError(t, err)
	second, _ := m.RequestInbound("phone-123")
	require.Greater(t, second.Token, first.Token)

	// A popup action referencing the first attempt is dropped.
	_, err = m.ResolveInbound("phone-123", first.Token, true)
	assert.ErrorIs(t, err, model.ErrStaleToken)

	// The current attempt is untouched and still resolvable.
	s, err := m.ResolveInbound("phone-123", second.Token, true)
	require.NoError(t, err)
	assert.Equal(t, model.PairStatePaired, s.State)
}

func TestMachine_CancelThenStaleReply(t *testing.T) {
	m := newTestMachine(t, true)

	s, err := m.RequestOutbound("phone-123")
	require.NoError(t, err)
	token := s.Token

	require.NoError(t, m.Cancel("phone-123"))
	assert.Nil(t, m.Session("phone-123"))

	// The expiry timer for the cancelled attempt fires later; it is
	// dropped and nothing changes.
	outcome, err := m.Expire("phone-123", token)
	assert.ErrorIs(t, err, model.ErrStaleToken)
	assert.Equal(t, OutcomeNone, outcome)
	assert.Nil(t, m.Session("phone-123"))

	// Cancelling again fails: there is nothing to cancel.
	assert.ErrorIs(t, m.Cancel("phone-123"), model.ErrPairingFailed)
}

func TestMachine_Expire(t *testing.T) {
	m := newTestMachine(t, true)

	s, err := m.RequestOutbound("phone-123")
	require.NoError(t, err)

	outcome, err := m.Expire("phone-123", s.Token)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, outcome)
	assert.Nil(t, m.Session("phone-123"))

	// A second firing of the same timer is stale.
	_, err = m.Expire("phone-123", s.Token)
	assert.ErrorIs(t, err, model.ErrStaleToken)
}

func TestMachine_ApplyDaemonState(t *testing.T) {
	t.Run("outbound declined", func(t *testing.T) {
		m := newTestMachine(t, true)
		_, err := m.RequestOutbound("phone-123")
		require.NoError(t, err)

		outcome, changed := m.ApplyDaemonState("phone-123", model.PairStateUnpaired)
		assert.Equal(t, OutcomeRejected, outcome)
		assert.True(t, changed)
		assert.Nil(t, m.Session("phone-123"))
	})

	t.Run("peer withdrew", func(t *testing.T) {
		m := newTestMachine(t, true)
		m.RequestInbound("phone-123")

		outcome, changed := m.ApplyDaemonState("phone-123", model.PairStateUnpaired)
		assert.Equal(t, OutcomeWithdrawn, outcome)
		assert.True(t, changed)
	})

	t.Run("unpair confirmed", func(t *testing.T) {
		m := newTestMachine(t, true)
		m.BeginUnpair("phone-123")

		outcome, changed := m.ApplyDaemonState("phone-123", model.PairStateUnpaired)
		assert.Equal(t, OutcomeUnpaired, outcome)
		assert.True(t, changed)
	})

	t.Run("paired report during unpair is ignored", func(t *testing.T) {
		m := newTestMachine(t, true)
		m.BeginUnpair("phone-123")

		outcome, changed := m.ApplyDaemonState("phone-123", model.PairStatePaired)
		assert.Equal(t, OutcomeNone, outcome)
		assert.False(t, changed)
		require.NotNil(t, m.Session("phone-123"))
		assert.Equal(t, model.PairStateUnpairing, m.Session("phone-123").State)
	})

	t.Run("adopts outbound request after restart", func(t *testing.T) {
		m := newTestMachine(t, true)

		outcome, changed := m.ApplyDaemonState("phone-123", model.PairStateRequestSent)
		assert.Equal(t, OutcomeNone, outcome)
		assert.True(t, changed)
		require.NotNil(t, m.Session("phone-123"))
		assert.Equal(t, model.PairStateRequestSent, m.Session("phone-123").State)
	})

	t.Run("settled states without session are no-ops", func(t *testing.T) {
		m := newTestMachine(t, true)

		_, changed := m.ApplyDaemonState("phone-123", model.PairStatePaired)
		assert.False(t, changed)
		_, changed = m.ApplyDaemonState("phone-123", model.PairStateUnpaired)
		assert.False(t, changed)
	})
}

func TestMachine_TokensStrictlyIncrease(t *testing.T) {
	m := newTestMachine(t, true)

	var tokens []uint64

	s, err := m.RequestOutbound("a")
	require.NoError(t, err)
	tokens = append(tokens, s.Token)

	require.NoError(t, m.Cancel("a"))

	s, err = m.RequestOutbound("a")
	require.NoError(t, err)
	tokens = append(tokens, s.Token)

	in, _ := m.RequestInbound("b")
	tokens = append(tokens, in.Token)

	tokens = append(tokens, m.BeginUnpair("c").Token)

	for i := 1; i < len(tokens); i++ {
		assert.Greater(t, tokens[i], tokens[i-1])
	}
}

func TestMachine_Drop(t *testing.T) {
	m := newTestMachine(t, true)

	m.RequestInbound("phone-123")
	m.Drop("phone-123")
	assert.Nil(t, m.Session("phone-123"))
	assert.Empty(t, m.ActiveSessions())
}

func TestMachine_ActiveSessions(t *testing.T) {
	m := newTestMachine(t, true)

	m.RequestInbound("bravo")
	_, err := m.RequestOutbound("alpha")
	require.NoError(t, err)

	sessions := m.ActiveSessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "alpha", sessions[0].DeviceID)
	assert.Equal(t, "bravo", sessions[1].DeviceID)
}

// Helper functions

func newTestMachine(t *testing.T, inboundWins bool) *Machine {
	t.Helper()
	return NewMachine(30*time.Second, inboundWins, nil)
}
