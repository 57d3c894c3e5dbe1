package ringchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendDropsOldestWhenFull(t *testing.T) {
	r := New[int](3)
	for i := 1; i <= 5; i++ {
		r.Send(i)
	}

	// Only the last three survive
	require.Equal(t, 3, r.Len())
	for _, want := range []int{3, 4, 5} {
		got, ok := r.Receive()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestTrySend(t *testing.T) {
	r := New[string](1)
	assert.True(t, r.TrySend("a"))
	assert.False(t, r.TrySend("b"), "full ring must reject TrySend")

	got, ok := r.Receive()
	require.True(t, ok)
	assert.Equal(t, "a", got)
}

func TestReceiveAfterClose(t *testing.T) {
	r := New[int](2)
	r.Send(7)
	r.Close()

	got, ok := r.Receive()
	require.True(t, ok)
	assert.Equal(t, 7, got)

	_, ok = r.Receive()
	assert.False(t, ok)
}

func TestZeroCapacityPanics(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
