package interconnect

import (
	"testing"

	"github.com/archsim/mpbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastCompletesOnLastAck(t *testing.T) {
	r := NewBroadcastRegistry()
	id := r.Register(0, 4)
	assert.Equal(t, 1, r.Live())

	for i := 0; i < 3; i++ {
		completed, origin, err := r.AccountAck(id)
		require.NoError(t, err)
		assert.False(t, completed)
		assert.Equal(t, 0, origin)
	}

	completed, origin, err := r.AccountAck(id)
	require.NoError(t, err)
	assert.True(t, completed)
	assert.Equal(t, 0, origin)
	assert.Equal(t, 0, r.Live())
}

func TestUnknownBroadcastIDIsProtocolViolation(t *testing.T) {
	r := NewBroadcastRegistry()
	_, _, err := r.AccountAck(999)
	require.Error(t, err)
	assert.True(t, mpbus.IsCode(err, mpbus.ErrCodeProtocolViolation))
}

func TestRegisterIssuesMonotonicIDs(t *testing.T) {
	r := NewBroadcastRegistry()
	a := r.Register(0, 2)
	b := r.Register(1, 2)
	assert.NotEqual(t, a, b)
	assert.True(t, b > a)
}
