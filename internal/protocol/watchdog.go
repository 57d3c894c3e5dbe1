package protocol

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/podlink/internal/groutine"
)

// Watchdog defaults. A transfer is force-finalized when it goes silent
// for HardTimeout, or much earlier when it is essentially done and only
// the last fragment(s) are missing.
const (
	DefaultWatchdogPoll         = 1 * time.Second
	DefaultWatchdogHardTimeout  = 60 * time.Second
	DefaultWatchdogStallTimeout = 2500 * time.Millisecond
	DefaultWatchdogStallRatio   = 0.98
)

// WatchdogOptions configures the liveness watchdog. Zero values take the
// package defaults; tests shrink the timeouts.
type WatchdogOptions struct {
	Poll         time.Duration
	HardTimeout  time.Duration
	StallTimeout time.Duration
	StallRatio   float64
}

// DefaultWatchdogOptions returns the production timings.
func DefaultWatchdogOptions() *WatchdogOptions {
	return &WatchdogOptions{
		Poll:         DefaultWatchdogPoll,
		HardTimeout:  DefaultWatchdogHardTimeout,
		StallTimeout: DefaultWatchdogStallTimeout,
		StallRatio:   DefaultWatchdogStallRatio,
	}
}

func (o *WatchdogOptions) withDefaults() WatchdogOptions {
	out := WatchdogOptions{}
	if o != nil {
		out = *o
	}
	if out.Poll == 0 {
		out.Poll = DefaultWatchdogPoll
	}
	if out.HardTimeout == 0 {
		out.HardTimeout = DefaultWatchdogHardTimeout
	}
	if out.StallTimeout == 0 {
		out.StallTimeout = DefaultWatchdogStallTimeout
	}
	if out.StallRatio == 0 {
		out.StallRatio = DefaultWatchdogStallRatio
	}
	return out
}

// Watchdog detects stalled or pathologically slow transfers and forces
// message completion. It polls while a multi-fragment message is open and
// trips on either of two independent conditions:
//
//   - hard timeout: no fragment for HardTimeout
//   - stuck near completion: no fragment for StallTimeout while
//     received/expected exceeds StallRatio
//
// The expire callback runs on the watchdog goroutine, after the loop has
// already marked itself stopped, so calling Stop from inside the expire
// path returns immediately instead of self-joining. Stop is synchronous
// for every other caller: when it returns, the loop has halted and no
// forced finalize can fire afterwards.
type Watchdog struct {
	logger *logrus.Logger
	opts   WatchdogOptions

	mu      sync.Mutex
	last    time.Time
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatchdog creates a stopped watchdog.
func NewWatchdog(logger *logrus.Logger, opts *WatchdogOptions) *Watchdog {
	if logger == nil {
		logger = logrus.New()
	}
	return &Watchdog{
		logger: logger,
		opts:   opts.withDefaults(),
	}
}

// Touch records transfer activity. Called on every inbound fragment and
// when a download command is issued.
func (w *Watchdog) Touch() {
	w.mu.Lock()
	w.last = time.Now()
	w.mu.Unlock()
}

// Start begins polling. progress reports the open message's received and
// expected fragment counts (expected <= 0 means nothing to guard yet);
// expire is invoked at most once when a forcing condition trips. Any
// previous run is stopped first.
func (w *Watchdog) Start(progress func() (received, expected int), expire func()) {
	w.Stop()

	w.mu.Lock()
	w.running = true
	w.last = time.Now()
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	groutine.Go(nil, "pod-watchdog", func(ctx context.Context) {
		w.loop(stopCh, doneCh, progress, expire)
	})
}

// Stop halts the poll loop and waits for it to exit. Safe to call when
// the watchdog is not running, and from the expire path itself.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		done := w.doneCh
		w.mu.Unlock()
		if done != nil {
			<-done
		}
		return
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()

	<-done
}

func (w *Watchdog) loop(stopCh chan struct{}, doneCh chan struct{}, progress func() (int, int), expire func()) {
	ticker := time.NewTicker(w.opts.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			close(doneCh)
			return

		case <-ticker.C:
			received, expected := progress()
			if expected <= 0 {
				continue
			}

			idle := w.idle()
			force := false

			if idle > w.opts.HardTimeout {
				w.logger.WithFields(logrus.Fields{
					"idle":     idle,
					"received": received,
					"expected": expected,
				}).Warn("Transfer hard timeout, forcing completion")
				force = true
			} else if idle > w.opts.StallTimeout &&
				float64(received)/float64(expected) > w.opts.StallRatio {
				w.logger.WithFields(logrus.Fields{
					"idle":     idle,
					"received": received,
					"expected": expected,
				}).Warn("Transfer stuck near completion, forcing completion")
				force = true
			}

			if !force {
				continue
			}

			// Mark stopped before expiring so that Stop called from the
			// finalize path does not wait on this goroutine.
			w.mu.Lock()
			raced := !w.running
			w.running = false
			w.mu.Unlock()

			if !raced {
				expire()
			}
			close(doneCh)
			return
		}
	}
}

func (w *Watchdog) idle() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Since(w.last)
}
