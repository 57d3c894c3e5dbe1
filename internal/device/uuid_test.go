package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "16-bit UUID",
			input:    "2902",
			expected: "2902",
		},
		{
			name:     "16-bit UUID with 0x prefix",
			input:    "0x2902",
			expected: "2902",
		},
		{
			name:     "full Bluetooth SIG UUID with dashes",
			input:    "00002902-0000-1000-8000-00805f9b34fb",
			expected: "2902",
		},
		{
			name:     "full Bluetooth SIG UUID without dashes",
			input:    "0000290200001000800000805f9b34fb",
			expected: "2902",
		},
		{
			name:     "full Bluetooth SIG UUID uppercase",
			input:    "00002902-0000-1000-8000-00805F9B34FB",
			expected: "2902",
		},
		{
			name:     "custom 128-bit UUID is not shortened",
			input:    "761993FB-AD28-4438-A7B0-6AB3F2E03816",
			expected: "761993fbad284438a7b06ab3f2e03816",
		},
		{
			name:     "custom UUID with SIG-like prefix but wrong suffix",
			input:    "00002902-1234-5678-9abc-def012345678",
			expected: "00002902123456789abcdef012345678",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

// All notation variants of the same UUID must normalize identically.
func TestNormalizeUUID_Consistency(t *testing.T) {
	uuidVariants := []string{
		"2902",
		"0x2902",
		"0X2902",
		"00002902-0000-1000-8000-00805f9b34fb",
	}

	for _, uuid := range uuidVariants {
		t.Run(uuid, func(t *testing.T) {
			assert.Equal(t, "2902", NormalizeUUID(uuid))
		})
	}
}

func TestNormalizeUUIDs(t *testing.T) {
	input := []string{
		"2902",
		"0x180d",
		"5E0C4072-EE4D-450D-90A5-A1FEFDB84692",
	}

	expected := []string{
		"2902",
		"180d",
		"5e0c4072ee4d450d90a5a1fefdb84692",
	}

	assert.Equal(t, expected, NormalizeUUIDs(input))
}

func TestValidateUUID(t *testing.T) {
	normalized, err := ValidateUUID("0x2902", "180D")
	assert.NoError(t, err)
	assert.Equal(t, []string{"2902", "180d"}, normalized)

	_, err = ValidateUUID()
	assert.Error(t, err)

	_, err = ValidateUUID("2902", "")
	assert.Error(t, err)
}
