package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	r, err := ParseRole("")
	require.NoError(t, err)
	assert.Equal(t, RoleParticipant, r)

	r, err = ParseRole("viewer")
	require.NoError(t, err)
	assert.False(t, r.CanSend())
	assert.True(t, RoleOrganizer.CanSend())

	_, err = ParseRole("admin")
	assert.Error(t, err)
}

func TestConferenceIDValidate(t *testing.T) {
	assert.NoError(t, ConferenceID("standup").Validate())
	assert.ErrorIs(t, ConferenceID("").Validate(), ErrConferenceIDInvalid)
	assert.ErrorIs(t, ConferenceID(" padded").Validate(), ErrConferenceIDInvalid)
	assert.ErrorIs(t, ConferenceID(strings.Repeat("x", MaxConferenceIDLen+1)).Validate(), ErrConferenceIDInvalid)
}

func TestNewUser(t *testing.T) {
	u, err := NewUser("", strings.Repeat("n", 50))
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Len(t, u.DisplayName, MaxDisplayNameLen)

	_, err = NewUser(ParticipantID(strings.Repeat("p", MaxParticipantIDLen+1)), "")
	assert.ErrorIs(t, err, ErrParticipantIDTooLong)
}

func TestTransportStateTerminal(t *testing.T) {
	assert.True(t, TransportClosed.Terminal())
	assert.True(t, TransportFailed.Terminal())
	assert.False(t, TransportDisconnected.Terminal())
}
