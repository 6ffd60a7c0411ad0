package identity

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceUID_Override(t *testing.T) {
	uid, err := DeviceUID("  node-7  ")
	require.NoError(t, err)
	assert.Equal(t, "node-7", uid)
}

func TestFromHostID(t *testing.T) {
	a, err := FromHostID("0f3c2a4e-machine")
	require.NoError(t, err)

	b, err := FromHostID(" 0F3C2A4E-MACHINE\n")
	require.NoError(t, err)
	assert.Equal(t, a, b, "normalised host IDs must map to the same UID")

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())

	c, err := FromHostID("another-machine")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestFromHostID_Empty(t *testing.T) {
	_, err := FromHostID("   ")
	assert.True(t, errors.Is(err, ErrNoHostID))
}
