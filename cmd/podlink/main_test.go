package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/srg/podlink/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "device not found",
			err:  fmt.Errorf("connect: %w", device.ErrDeviceNotFound),
			want: "Pod not found; make sure it is awake and in range",
		},
		{
			name: "not connected",
			err:  device.ErrNotConnected,
			want: "not connected to a Pod",
		},
		{
			name: "timeout",
			err:  context.DeadlineExceeded,
			want: "operation timed out",
		},
		{
			name: "anything else passes through",
			err:  fmt.Errorf("flux capacitor misaligned"),
			want: "flux capacitor misaligned",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatUserError(tt.err))
		})
	}
}

func TestParseTimeFlag(t *testing.T) {
	ms, err := parseTimeFlag("")
	require.NoError(t, err)
	assert.Zero(t, ms)

	ms, err = parseTimeFlag("2024-06-15T12:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC).UnixMilli(), ms)

	_, err = parseTimeFlag("yesterday")
	assert.Error(t, err)
}
