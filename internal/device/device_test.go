package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *NotFoundError
		expected string
	}{
		{
			name:     "no UUIDs",
			err:      &NotFoundError{Resource: "service"},
			expected: "service not found",
		},
		{
			name:     "single UUID",
			err:      &NotFoundError{Resource: "service", UUIDs: []string{"180d"}},
			expected: `service "180d" not found`,
		},
		{
			name:     "characteristic in service",
			err:      &NotFoundError{Resource: "characteristic", UUIDs: []string{"180d", "2a37"}},
			expected: `characteristic "2a37" not found in service "180d"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestConnectionError_Is(t *testing.T) {
	err := fmt.Errorf("connect: %w", &ConnectionError{State: DeviceNotFound, Msg: "dial timed out"})

	assert.True(t, errors.Is(err, ErrDeviceNotFound))
	assert.False(t, errors.Is(err, ErrNotConnected))

	var cerr *ConnectionError
	assert.True(t, errors.As(err, &cerr))
	assert.Equal(t, DeviceNotFound, cerr.State)
}

func TestNormalizeError(t *testing.T) {
	assert.NoError(t, NormalizeError(nil))

	err := NormalizeError(errors.New("ble: Device Not Connected"))
	assert.True(t, errors.Is(err, ErrNotConnected))

	err = NormalizeError(errors.New("can't dial: no advertisement received"))
	assert.True(t, errors.Is(err, ErrDeviceNotFound))

	plain := errors.New("unrelated failure")
	assert.Equal(t, plain, NormalizeError(plain))
}
