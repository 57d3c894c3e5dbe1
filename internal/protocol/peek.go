package protocol

import (
	"encoding/binary"
	"time"

	"github.com/sirupsen/logrus"
)

// Recording header layout inside the reassembled payload. Offset 0 is the
// message type byte prepended by the reassembler.
const (
	peekCounterFirstOffset  = 1  // LE32 sample counter of the first block
	peekYearOffset          = 5  // LE16 calendar year
	peekMonthOffset         = 7  // month, day, hour, minute, second follow
	peekCounterSecondOffset = 65 // LE32 sample counter of the second block
)

// standardIntervals are the nominal inter-sample intervals (ms) Pod
// firmware records at. Devices jitter the real interval slightly; callers
// only care about the nominal rate.
var standardIntervals = []int64{100, 200, 300, 400, 500, 600, 700, 800, 900, 1000}

// SnapToStandardInterval rounds a raw inter-sample interval to the
// nearest standard interval. The first minimal absolute difference wins;
// 1000 ms is the fallback.
func SnapToStandardInterval(raw int64) int64 {
	closest := int64(1000)
	minDiff := int64(1)<<62 - 1
	for _, t := range standardIntervals {
		d := raw - t
		if d < 0 {
			d = -d
		}
		if d < minDiff {
			minDiff = d
			closest = t
		}
	}
	return closest
}

// PeekEvaluator decides whether a partially-received recording can
// already be ruled out by the caller's time filter, so the transfer can
// be aborted before megabytes of excluded data cross the link.
//
// A bound of zero is unbounded. False negatives (failing to cancel) are
// acceptable; false positives are not, so the window test errs toward
// keeping data.
type PeekEvaluator struct {
	FilterStart int64 // epoch ms, 0 = no lower bound
	FilterEnd   int64 // epoch ms, 0 = no upper bound

	logger *logrus.Logger
}

// NewPeekEvaluator creates an evaluator for the given filter window.
func NewPeekEvaluator(logger *logrus.Logger, filterStart, filterEnd int64) *PeekEvaluator {
	if logger == nil {
		logger = logrus.New()
	}
	return &PeekEvaluator{
		FilterStart: filterStart,
		FilterEnd:   filterEnd,
		logger:      logger,
	}
}

// Active reports whether any filtering is requested at all.
func (e *PeekEvaluator) Active() bool {
	return e.FilterStart > 0 || e.FilterEnd > 0
}

// ShouldCancel inspects the recording header inside the snapshot and
// reports whether the message's estimated time window misses the filter
// window entirely.
func (e *PeekEvaluator) ShouldCancel(snapshot PeekSnapshot) bool {
	p := snapshot.Payload
	if len(p) < PeekThreshold {
		return false
	}

	start := recordingStartMillis(p)
	duration := e.estimateDuration(snapshot)

	cancel := (e.FilterEnd > 0 && start > e.FilterEnd) ||
		(e.FilterStart > 0 && start+duration < e.FilterStart)

	e.logger.WithFields(logrus.Fields{
		"start_ms":    start,
		"duration_ms": duration,
		"cancel":      cancel,
	}).Debug("Smart peek evaluated")

	return cancel
}

// recordingStartMillis parses the six-field timestamp (LE16 year, then
// month, day, hour, minute, second bytes) into epoch milliseconds. The
// device clock runs in local time.
func recordingStartMillis(p []byte) int64 {
	year := int(binary.LittleEndian.Uint16(p[peekYearOffset : peekYearOffset+2]))
	month := time.Month(p[peekMonthOffset])
	day := int(p[peekMonthOffset+1])
	hour := int(p[peekMonthOffset+2])
	minute := int(p[peekMonthOffset+3])
	second := int(p[peekMonthOffset+4])

	return time.Date(year, month, day, hour, minute, second, 0, time.Local).UnixMilli()
}

// estimateDuration approximates the whole recording's length from two
// sample counters 64 payload bytes apart and the declared fragment count.
func (e *PeekEvaluator) estimateDuration(snapshot PeekSnapshot) int64 {
	p := snapshot.Payload

	t1 := binary.LittleEndian.Uint32(p[peekCounterFirstOffset : peekCounterFirstOffset+4])
	t2 := binary.LittleEndian.Uint32(p[peekCounterSecondOffset : peekCounterSecondOffset+4])
	interval := SnapToStandardInterval(int64(t2 - t1))

	payloadPerFragment := int64(snapshot.FragmentSize - MinFragmentSize)
	if payloadPerFragment < 59 {
		payloadPerFragment = 59
	}

	return int64(snapshot.Expected) * payloadPerFragment / 64 * interval
}
