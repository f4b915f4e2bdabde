package security

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineIDStable(t *testing.T) {
	fm := NewFingerprintManager(nil)

	first, err := fm.MachineID()
	require.NoError(t, err)
	second, err := fm.MachineID()
	require.NoError(t, err)
	assert.Equal(t, first, second, "fingerprint must be stable within a process")

	// A fresh manager on the same machine derives the same value.
	other, err := NewFingerprintManager(nil).MachineID()
	require.NoError(t, err)
	assert.Equal(t, first, other)
}

func TestMachineIDShape(t *testing.T) {
	id, err := NewFingerprintManager(nil).MachineID()
	require.NoError(t, err)

	// SHA-256 hex digest.
	assert.Len(t, id, 64)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), id)
}

func TestValidMAC(t *testing.T) {
	assert.False(t, validMAC(""))
	assert.False(t, validMAC("00:00:00:00:00:00"))
	assert.True(t, validMAC("aa:bb:cc:dd:ee:ff"))
}
