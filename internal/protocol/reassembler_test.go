package protocol

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// firstFragment builds a message-opening fragment: type tag, 4 reserved
// bytes, LE32 expected count, then payload.
func firstFragment(msgType byte, expected uint32, payload ...byte) []byte {
	frag := make([]byte, FirstFragmentHeaderSize, FirstFragmentHeaderSize+len(payload))
	frag[0] = msgType
	binary.LittleEndian.PutUint32(frag[5:9], expected)
	return append(frag, payload...)
}

// nextFragment builds a continuation fragment: 5 header bytes then payload.
func nextFragment(payload ...byte) []byte {
	frag := make([]byte, MinFragmentSize, MinFragmentSize+len(payload))
	return append(frag, payload...)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// collectReassembler wires a Reassembler to a channel of delivered payloads.
func collectReassembler(t *testing.T, opts *ReassemblerOptions) (*Reassembler, chan []byte) {
	t.Helper()
	payloads := make(chan []byte, 8)
	if opts == nil {
		opts = &ReassemblerOptions{}
	}
	if opts.SettleDelay == 0 {
		opts.SettleDelay = 5 * time.Millisecond
	}
	opts.OnComplete = func(p []byte) { payloads <- p }
	return NewReassembler(testLogger(), opts), payloads
}

func waitPayload(t *testing.T, payloads chan []byte) []byte {
	t.Helper()
	select {
	case p := <-payloads:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for payload")
		return nil
	}
}

func assertNoPayload(t *testing.T, payloads chan []byte, wait time.Duration) {
	t.Helper()
	select {
	case p := <-payloads:
		t.Fatalf("unexpected payload of %d bytes", len(p))
	case <-time.After(wait):
	}
}

func TestReassembler_ThreeFragmentMessage(t *testing.T) {
	r, payloads := collectReassembler(t, nil)

	r.Ingest(firstFragment(0x01, 3, 'a', 'b'))
	r.Ingest(nextFragment('c', 'd'))
	r.Ingest(nextFragment('e'))

	// Payload is the type byte followed by each fragment's payload bytes
	got := waitPayload(t, payloads)
	assert.Equal(t, []byte{0x01, 'a', 'b', 'c', 'd', 'e'}, got)

	// Delivered exactly once, and reassembly is back to idle
	assertNoPayload(t, payloads, 50*time.Millisecond)
	received, expected := r.Progress()
	assert.Zero(t, received)
	assert.Zero(t, expected)
}

func TestReassembler_UndersizedFragmentsDropped(t *testing.T) {
	r, payloads := collectReassembler(t, nil)

	// Below the 5-byte minimum: ignored entirely
	r.Ingest([]byte{0x01, 0x02})
	received, expected := r.Progress()
	assert.Zero(t, received)
	assert.Zero(t, expected)

	// 5-8 bytes cannot open a message (no room for the count header)
	r.Ingest([]byte{0x01, 0, 0, 0, 0, 1, 0})
	received, expected = r.Progress()
	assert.Zero(t, received)
	assert.Zero(t, expected)

	assertNoPayload(t, payloads, 30*time.Millisecond)
}

func TestReassembler_EmptyContinuationCountsWithoutBytes(t *testing.T) {
	r, payloads := collectReassembler(t, nil)

	r.Ingest(firstFragment(0x01, 3, 'a'))
	// Exactly 5 bytes: counts toward the total, contributes no payload
	r.Ingest(nextFragment())
	r.Ingest(nextFragment('z'))

	got := waitPayload(t, payloads)
	assert.Equal(t, []byte{0x01, 'a', 'z'}, got)
}

func TestReassembler_FirstFragmentWithoutExtraPayload(t *testing.T) {
	r, payloads := collectReassembler(t, nil)

	// Exactly 9 bytes: opens the message with just the type byte buffered
	r.Ingest(firstFragment(0x07, 2))
	r.Ingest(nextFragment('q'))

	got := waitPayload(t, payloads)
	assert.Equal(t, []byte{0x07, 'q'}, got)
}

func TestReassembler_ZeroExpectedSingleShotPassthrough(t *testing.T) {
	r, payloads := collectReassembler(t, nil)

	// First fragment declares zero expected fragments: opens a message
	// that never completes on its own...
	r.Ingest(firstFragment(0x05, 0, 'h'))
	assertNoPayload(t, payloads, 30*time.Millisecond)

	// ...and every subsequent fragment is delivered raw, immediately.
	single := []byte{0x05, 1, 2, 3, 4, 5, 6}
	r.Ingest(single)
	got := waitPayload(t, payloads)
	assert.Equal(t, single, got)

	r.Ingest(single)
	got = waitPayload(t, payloads)
	assert.Equal(t, single, got)
}

func TestReassembler_ForceFinishHandsOffPartial(t *testing.T) {
	r, payloads := collectReassembler(t, nil)

	r.Ingest(firstFragment(0x01, 100, 'a', 'b'))
	r.Ingest(nextFragment('c'))

	payload, ok := r.ForceFinish()
	require.True(t, ok)
	assert.Equal(t, []byte{0x01, 'a', 'b', 'c'}, payload)

	// Force finish bypasses OnComplete and leaves reassembly idle
	assertNoPayload(t, payloads, 30*time.Millisecond)
	received, expected := r.Progress()
	assert.Zero(t, received)
	assert.Zero(t, expected)

	_, ok = r.ForceFinish()
	assert.False(t, ok, "nothing open after a force finish")
}

func TestReassembler_ResetDiscardsAndInvalidatesSettle(t *testing.T) {
	r, payloads := collectReassembler(t, &ReassemblerOptions{SettleDelay: 20 * time.Millisecond})

	// Complete a message, then reset before the settle delay fires
	r.Ingest(firstFragment(0x01, 1, 'a'))
	r.Reset()

	assertNoPayload(t, payloads, 60*time.Millisecond)

	_, ok := r.ForceFinish()
	assert.False(t, ok)
}

func TestReassembler_StragglerAfterCompletionDeliversOnce(t *testing.T) {
	r, payloads := collectReassembler(t, &ReassemblerOptions{SettleDelay: 30 * time.Millisecond})

	r.Ingest(firstFragment(0x01, 2, 'a'))
	r.Ingest(nextFragment('b'))
	// Straggler lands inside the settle window and is still included
	r.Ingest(nextFragment('c'))

	got := waitPayload(t, payloads)
	assert.Equal(t, []byte{0x01, 'a', 'b', 'c'}, got)
	assertNoPayload(t, payloads, 80*time.Millisecond)
}

func TestReassembler_PeekFiresOncePerRecordingMessage(t *testing.T) {
	var snapshots []PeekSnapshot
	payloads := make(chan []byte, 4)

	r := NewReassembler(testLogger(), &ReassemblerOptions{
		SettleDelay: 5 * time.Millisecond,
		OnComplete:  func(p []byte) { payloads <- p },
		OnPeek:      func(s PeekSnapshot) { snapshots = append(snapshots, s) },
	})

	chunk := make([]byte, 70) // two fragments are enough to cross the threshold
	frag := firstFragment(MsgTypeRecording, 4, chunk...)

	r.Ingest(frag)
	assert.Empty(t, snapshots, "below peek threshold")

	r.Ingest(nextFragment(chunk...))
	require.Len(t, snapshots, 1, "peek fires as soon as the threshold is crossed")
	assert.Len(t, snapshots[0].Payload, PeekThreshold)
	assert.Equal(t, 4, snapshots[0].Expected)
	assert.Equal(t, len(frag), snapshots[0].FragmentSize)

	r.Ingest(nextFragment(chunk...))
	r.Ingest(nextFragment(chunk...))
	waitPayload(t, payloads)

	assert.Len(t, snapshots, 1, "peek must not fire twice for one message")
}

func TestReassembler_PeekIgnoresNonRecordingMessages(t *testing.T) {
	fired := false
	r := NewReassembler(testLogger(), &ReassemblerOptions{
		SettleDelay: 5 * time.Millisecond,
		OnPeek:      func(PeekSnapshot) { fired = true },
	})

	chunk := make([]byte, 200)
	r.Ingest(firstFragment(0x01, 10, chunk...))
	assert.False(t, fired)
}
