package protocol

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultSettleDelay is how long a completed message waits before
	// finalizing, to let a straggling duplicate or late fragment land.
	DefaultSettleDelay = 50 * time.Millisecond

	// PeekThreshold is the accumulated payload size at which a recording
	// message's header becomes inspectable.
	PeekThreshold = 129

	// minPresizeFragment floors the fragment-size estimate used for
	// buffer pre-sizing.
	minPresizeFragment = 64

	// presizeSlack pads the pre-sized buffer estimate.
	presizeSlack = 2048

	// maxPresize caps the speculative allocation driven by the
	// device-supplied fragment count. The count is untrusted input; the
	// buffer still grows as needed past this.
	maxPresize = 8 << 20
)

// PeekSnapshot is the partial view of an accumulating message handed to
// the smart-peek evaluator: a copy of the leading payload bytes plus the
// reassembly header fields the duration estimate needs.
type PeekSnapshot struct {
	Payload      []byte // first PeekThreshold bytes, copied
	Expected     int    // total fragment count declared by the header
	FragmentSize int    // size of the first fragment seen
}

// ReassemblerOptions configures a Reassembler.
type ReassemblerOptions struct {
	// SettleDelay overrides DefaultSettleDelay (0 = default).
	SettleDelay time.Duration

	// OnComplete receives every finalized payload: normally completed
	// messages, watchdog-abandoned partials, and single-shot standalone
	// fragments. Called without internal locks held; the buffer is owned
	// by the callee.
	OnComplete func(payload []byte)

	// OnPeek, when non-nil, is called at most once per message, as soon
	// as an accumulating recording message reaches PeekThreshold bytes.
	// Leave nil when no time filter is active.
	OnPeek func(snapshot PeekSnapshot)
}

// Reassembler turns a sequence of notification fragments into logical
// messages. At most one message is open at a time; fragments are expected
// to arrive serialized (the transport guarantees no two notifications are
// delivered concurrently), but all state is mutex-guarded because the
// settle timer and the watchdog finalize from their own goroutines.
type Reassembler struct {
	logger *logrus.Logger

	mu          sync.Mutex
	settleDelay time.Duration
	onComplete  func([]byte)
	onPeek      func(PeekSnapshot)

	msgType    byte
	expected   int
	received   int
	fragSize   int
	buf        []byte
	peekDone   bool
	generation uint64 // invalidates pending settle timers on reset/finalize
}

// NewReassembler creates a Reassembler. A nil logger falls back to a
// default logrus instance.
func NewReassembler(logger *logrus.Logger, opts *ReassemblerOptions) *Reassembler {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = &ReassemblerOptions{}
	}
	settle := opts.SettleDelay
	if settle == 0 {
		settle = DefaultSettleDelay
	}
	onComplete := opts.OnComplete
	if onComplete == nil {
		onComplete = func([]byte) {}
	}

	return &Reassembler{
		logger:      logger,
		settleDelay: settle,
		onComplete:  onComplete,
		onPeek:      opts.OnPeek,
	}
}

// SetOnPeek installs or clears the peek hook for the next message. Called
// by the session when a download starts, before any fragment arrives.
func (r *Reassembler) SetOnPeek(fn func(PeekSnapshot)) {
	r.mu.Lock()
	r.onPeek = fn
	r.mu.Unlock()
}

// Progress reports the received and expected fragment counts of the open
// message. expected == 0 means no multi-fragment message is open.
func (r *Reassembler) Progress() (received, expected int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received, r.expected
}

// Ingest consumes one notification fragment. Multi-fragment messages are
// accumulated; once the first fragment of a message declared an expected
// count of zero, every subsequent fragment is treated as a complete
// standalone message and delivered immediately (single-shot responses).
func (r *Reassembler) Ingest(fragment []byte) {
	r.mu.Lock()

	if r.expected <= 0 && r.received > 0 {
		// Zero-expectation message open: single-shot passthrough.
		r.mu.Unlock()
		out := make([]byte, len(fragment))
		copy(out, fragment)
		r.onComplete(out)
		return
	}

	peek, completed := r.processLocked(fragment)
	gen := r.generation
	onPeek := r.onPeek
	r.mu.Unlock()

	if peek != nil && onPeek != nil {
		onPeek(*peek)
	}
	if completed {
		// Let a last straggling fragment arrive before finalizing.
		time.AfterFunc(r.settleDelay, func() {
			r.finishIfCurrent(gen)
		})
	}
}

// processLocked implements the accumulation state machine. Returns a peek
// snapshot when the peek threshold was just crossed, and whether the
// message is now complete.
func (r *Reassembler) processLocked(fragment []byte) (peek *PeekSnapshot, completed bool) {
	if len(fragment) < MinFragmentSize {
		r.logger.WithField("size", len(fragment)).Debug("Dropping undersized fragment")
		return nil, false
	}

	if r.fragSize == 0 {
		r.fragSize = len(fragment)
	}

	if r.received == 0 {
		// First fragment: parse the message header.
		if len(fragment) < FirstFragmentHeaderSize {
			r.logger.WithField("size", len(fragment)).Debug("Dropping truncated first fragment")
			return nil, false
		}

		r.msgType = fragment[0]
		r.expected = int(binary.LittleEndian.Uint32(fragment[5:9]))

		safeSize := r.fragSize
		if safeSize < minPresizeFragment {
			safeSize = minPresizeFragment
		}
		estimated := r.expected*(safeSize-MinFragmentSize) + presizeSlack
		if estimated < 0 || estimated > maxPresize {
			estimated = maxPresize
		}
		r.buf = make([]byte, 0, estimated)

		r.buf = append(r.buf, r.msgType)
		if len(fragment) > FirstFragmentHeaderSize {
			r.buf = append(r.buf, fragment[FirstFragmentHeaderSize:]...)
		}
		r.received = 1

		r.logger.WithFields(logrus.Fields{
			"type":     r.msgType,
			"expected": r.expected,
		}).Debug("Message started")
	} else {
		// Continuation fragment. A bare 5-byte frame still counts toward
		// the expected total (empty continuation frames are legal).
		if len(fragment) > MinFragmentSize {
			r.buf = append(r.buf, fragment[MinFragmentSize:]...)
		}
		r.received++
	}

	if !r.peekDone && r.msgType == MsgTypeRecording && len(r.buf) >= PeekThreshold && r.onPeek != nil {
		r.peekDone = true
		snapshot := &PeekSnapshot{
			Payload:      append([]byte(nil), r.buf[:PeekThreshold]...),
			Expected:     r.expected,
			FragmentSize: r.fragSize,
		}
		peek = snapshot
	}

	completed = r.expected > 0 && r.received >= r.expected
	return peek, completed
}

// finishIfCurrent finalizes the open message if no reset or earlier
// finalize has happened since gen was captured. This keeps the settle
// timer, the watchdog, and cancellation agreeing on at most one payload
// hand-off per message.
func (r *Reassembler) finishIfCurrent(gen uint64) {
	r.mu.Lock()
	if r.generation != gen || r.received == 0 {
		r.mu.Unlock()
		return
	}
	payload := r.takeLocked()
	r.mu.Unlock()

	r.onComplete(payload)
}

// ForceFinish abandons the open message, returning whatever payload has
// accumulated instead of going through OnComplete. The watchdog uses this
// from its expire path, where re-entering the normal completion callback
// (which stops the watchdog) would deadlock.
func (r *Reassembler) ForceFinish() ([]byte, bool) {
	r.mu.Lock()
	if r.received == 0 {
		r.mu.Unlock()
		return nil, false
	}
	payload := r.takeLocked()
	r.mu.Unlock()

	r.logger.WithField("bytes", len(payload)).Warn("Message force-finalized with partial payload")
	return payload, true
}

// Reset discards all reassembly state, including any partially
// accumulated payload. Pending settle timers become no-ops.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	r.generation++
	r.msgType = 0
	r.expected = 0
	r.received = 0
	r.fragSize = 0
	r.buf = nil
	r.peekDone = false
	r.mu.Unlock()
}

// takeLocked hands off the payload buffer and returns reassembly to the
// idle state. The fragment-size estimate survives until the next Reset so
// a follow-up message in the same download pre-sizes correctly.
func (r *Reassembler) takeLocked() []byte {
	payload := r.buf
	r.generation++
	r.msgType = 0
	r.expected = 0
	r.received = 0
	r.buf = nil
	r.peekDone = false
	return payload
}
