package protocol

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnapToStandardInterval(t *testing.T) {
	tests := []struct {
		name     string
		raw      int64
		expected int64
	}{
		{name: "exact match", raw: 500, expected: 500},
		{name: "small jitter down", raw: 493, expected: 500},
		{name: "small jitter up", raw: 507, expected: 500},
		{name: "zero snaps to slowest standard rate", raw: 0, expected: 100},
		{name: "negative raw snaps to 100", raw: -50, expected: 100},
		{name: "tie breaks toward the first candidate", raw: 150, expected: 100},
		{name: "far above range snaps to 1000", raw: 90000, expected: 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SnapToStandardInterval(tt.raw))
		})
	}
}

// peekPayload builds a synthetic reassembled recording header: sample
// counters at offsets 1 and 65, start timestamp at offset 5.
func peekPayload(start time.Time, counterDelta uint32) []byte {
	p := make([]byte, PeekThreshold)
	p[0] = MsgTypeRecording

	binary.LittleEndian.PutUint32(p[1:5], 1000)
	binary.LittleEndian.PutUint32(p[65:69], 1000+counterDelta)

	binary.LittleEndian.PutUint16(p[5:7], uint16(start.Year()))
	p[7] = byte(start.Month())
	p[8] = byte(start.Day())
	p[9] = byte(start.Hour())
	p[10] = byte(start.Minute())
	p[11] = byte(start.Second())
	return p
}

func TestPeekEvaluator_ShouldCancel(t *testing.T) {
	start := time.Date(2024, time.June, 15, 12, 0, 0, 0, time.Local)
	startMs := start.UnixMilli()

	// 498 ms raw interval snaps to 500 ms. With 100 expected fragments
	// and the 59-byte payload floor: 100*59/64*500 = 46000 ms duration.
	snapshot := PeekSnapshot{
		Payload:      peekPayload(start, 498),
		Expected:     100,
		FragmentSize: 0, // unknown, floor applies
	}
	durationMs := int64(100) * 59 / 64 * 500

	tests := []struct {
		name        string
		filterStart int64
		filterEnd   int64
		cancel      bool
	}{
		{
			name:        "no filter bounds never cancels",
			filterStart: 0,
			filterEnd:   0,
			cancel:      false,
		},
		{
			name:        "recording ends before the filter window",
			filterStart: startMs + durationMs + 60_000,
			filterEnd:   0,
			cancel:      true,
		},
		{
			name:        "recording starts after the filter window",
			filterStart: 0,
			filterEnd:   startMs - 60_000,
			cancel:      true,
		},
		{
			name:        "window overlaps recording",
			filterStart: startMs + 1000,
			filterEnd:   startMs + 2000,
			cancel:      false,
		},
		{
			name:        "filter start inside recording",
			filterStart: startMs + durationMs - 1000,
			filterEnd:   startMs + durationMs + 60_000,
			cancel:      false,
		},
		{
			name:        "recording end exactly at filter start is kept",
			filterStart: startMs + durationMs,
			filterEnd:   0,
			cancel:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewPeekEvaluator(testLogger(), tt.filterStart, tt.filterEnd)
			assert.Equal(t, tt.cancel, e.ShouldCancel(snapshot))
		})
	}
}

func TestPeekEvaluator_FragmentSizeDrivesDuration(t *testing.T) {
	start := time.Date(2024, time.June, 15, 12, 0, 0, 0, time.Local)
	startMs := start.UnixMilli()

	// 244-byte fragments carry 239 payload bytes; 200 fragments at a
	// snapped 100 ms interval: 200*239/64*100 = 74600 ms.
	snapshot := PeekSnapshot{
		Payload:      peekPayload(start, 103),
		Expected:     200,
		FragmentSize: 244,
	}
	durationMs := int64(200) * 239 / 64 * 100

	// Cancel only when the estimated end falls short of the filter start
	e := NewPeekEvaluator(testLogger(), startMs+durationMs+1, 0)
	assert.True(t, e.ShouldCancel(snapshot))

	e = NewPeekEvaluator(testLogger(), startMs+durationMs-1, 0)
	assert.False(t, e.ShouldCancel(snapshot))
}

func TestPeekEvaluator_Active(t *testing.T) {
	assert.False(t, NewPeekEvaluator(testLogger(), 0, 0).Active())
	assert.True(t, NewPeekEvaluator(testLogger(), 1, 0).Active())
	assert.True(t, NewPeekEvaluator(testLogger(), 0, 1).Active())
}

func TestPeekEvaluator_ShortPayloadNeverCancels(t *testing.T) {
	e := NewPeekEvaluator(testLogger(), 1, 2)
	assert.False(t, e.ShouldCancel(PeekSnapshot{Payload: make([]byte, 64), Expected: 10}))
}
