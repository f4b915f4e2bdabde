package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"key not found", KeyNotFound("/keys/private_key.pem"), ExitKeyNotFound},
		{"already initialized", AlreadyInitialized("/keys/private_key.pem"), ExitAlreadyInitialized},
		{"invalid argument", InvalidArgument("days", "must be >= 0"), ExitInvalidArgument},
		{"io error", IO("write artifact", stderrors.New("disk full")), ExitFailure},
		{"plain error", stderrors.New("boom"), ExitFailure},
		{"wrapped key not found", fmt.Errorf("context: %w", KeyNotFound("p")), ExitKeyNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestSentinelWrapping(t *testing.T) {
	assert.True(t, stderrors.Is(Malformed("base64 decode", stderrors.New("bad input")), ErrMalformedArtifact))
	assert.True(t, stderrors.Is(Malformed("missing field", nil), ErrMalformedArtifact))
	assert.True(t, stderrors.Is(IO("read", stderrors.New("eof")), ErrIO))
	assert.True(t, stderrors.Is(KeyNotFound("x"), ErrKeyNotFound))
}

func TestMessagesCarryContext(t *testing.T) {
	err := KeyNotFound("/srv/keys/private_key.pem")
	assert.Contains(t, err.Error(), "/srv/keys/private_key.pem")

	err = InvalidArgument("type", "unknown license type")
	assert.Contains(t, err.Error(), "type")
	assert.Contains(t, err.Error(), "unknown license type")
}
