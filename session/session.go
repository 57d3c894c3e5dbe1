// Package session orchestrates a Pod connection end to end: discovery,
// connect/disconnect lifecycle, command writes, file downloads with
// reassembly, early-abort peeking, and the transfer watchdog. It emits
// three outbound event streams (status text, scan results, reassembled
// payloads) over overwrite-oldest ring channels so a slow consumer never
// stalls the notification path.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/podlink/internal/device"
	"github.com/srg/podlink/internal/groutine"
	"github.com/srg/podlink/internal/podaddr"
	"github.com/srg/podlink/internal/protocol"
	"github.com/srg/podlink/internal/ringchan"
	"github.com/srg/podlink/internal/wakelock"
	"github.com/srg/podlink/scanner"
)

// Status strings reported on the status stream. Consumers key on the
// exact text, so these are part of the wire contract.
const (
	StatusScanning        = "Scanning..."
	StatusConnecting      = "Connecting..."
	StatusConnected       = "Connected"
	StatusDisconnected    = "Disconnected"
	StatusDeviceNotFound  = "Device Not Found"
	StatusServiceNotFound = "Service Not Found"
	StatusConnectionError = "Connection Error"
)

// ErrNoActiveDownload is returned by CancelDownload when nothing is in
// flight. Cancelling twice is a consumer bug worth surfacing.
var ErrNoActiveDownload = errors.New("no active download")

// DownloadRequest asks for one file transfer.
type DownloadRequest struct {
	// Filename as listed by the Pod. Parenthetical suffixes and
	// trailing spaces are stripped before framing.
	Filename string

	// FilterStart/FilterEnd bound the caller's time window in epoch
	// milliseconds; zero means unbounded. When either is set, the
	// download is aborted early if the recording's header shows it
	// cannot overlap the window.
	FilterStart int64
	FilterEnd   int64

	// TotalFiles and CurrentIndex are pass-through batch bookkeeping
	// for the consumer; the session only logs them.
	TotalFiles   int
	CurrentIndex int
}

// Options tunes session timing. Zero values take the defaults; tests
// shrink everything.
type Options struct {
	// ScanDuration bounds StartScan before it auto-stops.
	ScanDuration time.Duration

	// ConnectSettle is the pause after "Connected" before the
	// clear-buffers reset is sent. Pod firmware drops writes that
	// arrive while it is still setting up notifications.
	ConnectSettle time.Duration

	// CancelSkipDelay is the pause after CancelDownload before the
	// synthetic skip payload is emitted, giving the Pod time to act on
	// the reset before the consumer requests the next file.
	CancelSkipDelay time.Duration

	// SettleDelay is the reassembler's completion settling delay.
	SettleDelay time.Duration

	// ConnectTimeout bounds the transport dial.
	ConnectTimeout time.Duration

	// Watchdog overrides the transfer watchdog timings.
	Watchdog *protocol.WatchdogOptions

	// EventBuffer is the capacity of each outbound ring channel.
	EventBuffer int

	// WakeLock overrides the sleep inhibitor held between connect and
	// disconnect. Nil selects the platform default.
	WakeLock wakelock.Lock
}

// DefaultOptions returns the production timings.
func DefaultOptions() *Options {
	return &Options{
		ScanDuration:    15 * time.Second,
		ConnectSettle:   1 * time.Second,
		CancelSkipDelay: 600 * time.Millisecond,
		SettleDelay:     protocol.DefaultSettleDelay,
		ConnectTimeout:  30 * time.Second,
		EventBuffer:     64,
	}
}

func (o *Options) withDefaults() Options {
	def := DefaultOptions()
	out := *def
	if o != nil {
		out = *o
	}
	if out.ScanDuration == 0 {
		out.ScanDuration = def.ScanDuration
	}
	if out.ConnectSettle == 0 {
		out.ConnectSettle = def.ConnectSettle
	}
	if out.CancelSkipDelay == 0 {
		out.CancelSkipDelay = def.CancelSkipDelay
	}
	if out.SettleDelay == 0 {
		out.SettleDelay = def.SettleDelay
	}
	if out.ConnectTimeout == 0 {
		out.ConnectTimeout = def.ConnectTimeout
	}
	if out.EventBuffer == 0 {
		out.EventBuffer = def.EventBuffer
	}
	return out
}

// Session drives one Pod at a time. All methods are safe for concurrent
// use; long-running work (scanning, the watchdog loop, delayed timers)
// happens on named background goroutines.
type Session struct {
	logger    *logrus.Logger
	transport device.Transport
	opts      Options
	wake      wakelock.Lock

	status      *ringchan.Ring[string]
	scanResults *ringchan.Ring[scanner.ScanResult]
	payloads    *ringchan.Ring[[]byte]

	reasm *protocol.Reassembler
	wd    *protocol.Watchdog

	mu          sync.Mutex
	conn        device.Connection
	writeChar   device.Characteristic
	scanCancel  context.CancelFunc
	downloading bool
	// timerGen invalidates detached AfterFunc timers (connect settle,
	// cancel skip) when the state they were scheduled against is gone.
	timerGen uint64
	closed   bool
}

// NewSession creates a session over the given transport.
func NewSession(transport device.Transport, logger *logrus.Logger, opts *Options) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	o := opts.withDefaults()

	wake := o.WakeLock
	if wake == nil {
		wake = wakelock.New(logger)
	}

	s := &Session{
		logger:      logger,
		transport:   transport,
		opts:        o,
		wake:        wake,
		status:      ringchan.New[string](o.EventBuffer),
		scanResults: ringchan.New[scanner.ScanResult](o.EventBuffer),
		payloads:    ringchan.New[[]byte](o.EventBuffer),
		wd:          protocol.NewWatchdog(logger, o.Watchdog),
	}

	s.reasm = protocol.NewReassembler(logger, &protocol.ReassemblerOptions{
		SettleDelay: o.SettleDelay,
		OnComplete:  s.onComplete,
	})
	return s
}

// Status is the stream of connection status texts.
func (s *Session) Status() <-chan string { return s.status.C() }

// ScanResults is the stream of discovered Pods.
func (s *Session) ScanResults() <-chan scanner.ScanResult { return s.scanResults.C() }

// Payloads is the stream of completed message payloads. A cancelled
// download contributes exactly one single-byte skip-marker payload.
func (s *Session) Payloads() <-chan []byte { return s.payloads.C() }

// StartScan begins Pod discovery and auto-stops after the configured
// scan duration. A scan already in progress is restarted.
func (s *Session) StartScan(ctx context.Context) {
	s.StopScan()

	scanCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.scanCancel = cancel
	s.mu.Unlock()

	s.status.Send(StatusScanning)

	sc := scanner.NewScanner(s.transport, s.logger, func(r scanner.ScanResult) {
		s.scanResults.Send(r)
	})

	groutine.Go(scanCtx, "pod-scan", func(ctx context.Context) {
		defer cancel()
		if _, err := sc.Scan(ctx, &scanner.ScanOptions{
			Duration:        s.opts.ScanDuration,
			AllowDuplicates: true,
		}); err != nil {
			s.logger.WithError(err).Warn("Scan failed")
		}
	})
}

// StopScan halts an in-progress scan. A no-op when nothing is scanning.
func (s *Session) StopScan() {
	s.mu.Lock()
	cancel := s.scanCancel
	s.scanCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Connect establishes a session with the Pod at the given address text
// ("aa:bb:cc:dd:ee:ff"). On success the notification pipeline is live and
// a clear-buffers reset is scheduled; on failure the matching terminal
// status has been emitted and the session stays disconnected.
func (s *Session) Connect(ctx context.Context, addressText string) error {
	address, err := podaddr.Parse(addressText)
	if err != nil {
		s.status.Send(StatusConnectionError)
		return err
	}

	s.StopScan()

	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		s.status.Send(StatusConnectionError)
		return device.ErrAlreadyConnected
	}
	s.mu.Unlock()

	s.status.Send(StatusConnecting)
	s.logger.WithField("address", addressText).Info("Connecting to Pod...")

	conn, err := s.transport.Connect(ctx, address, &device.ConnectOptions{
		ConnectTimeout: s.opts.ConnectTimeout,
	})
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			s.status.Send(StatusDeviceNotFound)
		} else {
			s.status.Send(StatusConnectionError)
		}
		s.logger.WithError(err).WithField("address", addressText).Error("Connect failed")
		return err
	}

	notifyChar, writeChar, err := s.setupCharacteristics(conn)
	if err != nil {
		_ = conn.Disconnect()
		var nf *device.NotFoundError
		if errors.As(err, &nf) {
			s.status.Send(StatusServiceNotFound)
		} else {
			s.status.Send(StatusConnectionError)
		}
		s.logger.WithError(err).Error("Characteristic setup failed")
		return err
	}

	if err := notifyChar.Subscribe(s.handleNotification); err != nil {
		_ = conn.Disconnect()
		s.status.Send(StatusConnectionError)
		s.logger.WithError(err).Error("Subscribe failed")
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.writeChar = writeChar
	s.timerGen++
	gen := s.timerGen
	s.mu.Unlock()

	s.wake.Prevent()
	s.status.Send(StatusConnected)
	s.logger.WithField("address", addressText).Info("Pod connected")

	// The firmware needs a moment after subscription setup before it
	// accepts commands; then clear any transfer left over from a
	// previous session.
	time.AfterFunc(s.opts.ConnectSettle, func() {
		if s.timerCurrent(gen) {
			s.WriteCommand(protocol.ResetCommand())
		}
	})
	return nil
}

func (s *Session) setupCharacteristics(conn device.Connection) (notify, write device.Characteristic, err error) {
	notify, err = conn.GetCharacteristic(protocol.ServiceUUID, protocol.NotifyCharUUID)
	if err != nil {
		return nil, nil, err
	}
	write, err = conn.GetCharacteristic(protocol.ServiceUUID, protocol.WriteCharUUID)
	if err != nil {
		return nil, nil, err
	}
	return notify, write, nil
}

// Disconnect tears the session down and emits "Disconnected". Pending
// downloads are abandoned without a payload.
func (s *Session) Disconnect() error {
	s.wd.Stop()

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.writeChar = nil
	s.downloading = false
	s.timerGen++
	s.mu.Unlock()

	s.reasm.SetOnPeek(nil)
	s.reasm.Reset()

	if conn == nil {
		return device.ErrNotConnected
	}

	err := conn.Disconnect()
	s.wake.Release()
	s.status.Send(StatusDisconnected)
	s.logger.Info("Pod disconnected")
	return err
}

// WriteCommand sends raw command bytes to the Pod, fire-and-forget:
// the write happens on a background goroutine and failures are logged,
// not reported. Silently ignored when disconnected.
func (s *Session) WriteCommand(data []byte) {
	s.mu.Lock()
	char := s.writeChar
	s.mu.Unlock()

	if char == nil {
		s.logger.Debug("WriteCommand ignored: not connected")
		return
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	groutine.Go(nil, "pod-write", func(context.Context) {
		if err := char.Write(buf, false); err != nil {
			s.logger.WithError(err).Warn("Command write failed")
		}
	})
}

// DownloadFile requests one file transfer. Reassembly state is cleared,
// the smart-peek hook is armed when a time filter is present, the framed
// download command goes out, and the watchdog starts guarding the
// transfer. The completed payload arrives on the Payloads stream.
func (s *Session) DownloadFile(req DownloadRequest) error {
	s.mu.Lock()
	char := s.writeChar
	if char == nil {
		s.mu.Unlock()
		return device.ErrNotConnected
	}
	s.downloading = true
	s.timerGen++
	s.mu.Unlock()

	s.wd.Stop()
	s.reasm.Reset()

	evaluator := protocol.NewPeekEvaluator(s.logger, req.FilterStart, req.FilterEnd)
	if evaluator.Active() {
		s.reasm.SetOnPeek(func(snapshot protocol.PeekSnapshot) {
			if evaluator.ShouldCancel(snapshot) {
				s.logger.Info("Recording outside filter window, aborting download")
				if err := s.CancelDownload(); err != nil {
					s.logger.WithError(err).Debug("Peek-driven cancel skipped")
				}
			}
		})
	} else {
		s.reasm.SetOnPeek(nil)
	}

	s.logger.WithFields(logrus.Fields{
		"filename": req.Filename,
		"index":    req.CurrentIndex,
		"total":    req.TotalFiles,
	}).Info("Requesting file download")

	if err := char.Write(protocol.BuildDownloadCommand(req.Filename), false); err != nil {
		s.mu.Lock()
		s.downloading = false
		s.mu.Unlock()
		s.logger.WithError(err).Error("Download command write failed")
		return err
	}

	s.wd.Touch()
	s.wd.Start(s.reasm.Progress, s.onWatchdogExpire)
	return nil
}

// CancelDownload aborts the transfer in flight: the watchdog stops, a
// reset command tells the Pod to stop sending, accumulated data is
// discarded, and after a short delay exactly one single-byte skip-marker
// payload is emitted so batch consumers advance to the next file.
func (s *Session) CancelDownload() error {
	s.mu.Lock()
	if !s.downloading {
		s.mu.Unlock()
		return ErrNoActiveDownload
	}
	s.downloading = false
	s.timerGen++
	gen := s.timerGen
	s.mu.Unlock()

	s.wd.Stop()
	s.WriteCommand(protocol.ResetCommand())
	s.reasm.SetOnPeek(nil)
	s.reasm.Reset()

	s.logger.Info("Download cancelled")

	// Give the Pod time to act on the reset before the consumer asks
	// for the next file.
	time.AfterFunc(s.opts.CancelSkipDelay, func() {
		if s.timerCurrent(gen) {
			s.payloads.Send([]byte{protocol.SkipMarker})
		}
	})
	return nil
}

// Close releases everything: an open connection is torn down and the
// event streams are closed.
func (s *Session) Close() {
	s.StopScan()

	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	connected := s.conn != nil
	s.mu.Unlock()
	if alreadyClosed {
		return
	}

	if connected {
		_ = s.Disconnect()
	} else {
		s.wd.Stop()
		s.mu.Lock()
		s.timerGen++
		s.mu.Unlock()
	}

	s.status.Close()
	s.scanResults.Close()
	s.payloads.Close()
}

// handleNotification is the GATT notification sink; the transport
// guarantees serialized delivery.
func (s *Session) handleNotification(data []byte) {
	s.wd.Touch()
	s.reasm.Ingest(data)
}

// onComplete receives finalized payloads from the reassembler (normal
// completion and single-shot passthrough).
func (s *Session) onComplete(payload []byte) {
	s.wd.Stop()
	s.mu.Lock()
	s.downloading = false
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return
	}
	s.logger.WithField("bytes", len(payload)).Info("Message complete")
	s.payloads.Send(payload)
}

// onWatchdogExpire runs on the watchdog goroutine after its loop has
// halted. The partial payload is handed off directly; best-effort
// complete, not an error.
func (s *Session) onWatchdogExpire() {
	payload, ok := s.reasm.ForceFinish()

	s.mu.Lock()
	s.downloading = false
	closed := s.closed
	s.mu.Unlock()

	if !ok || closed {
		return
	}
	s.payloads.Send(payload)
}

func (s *Session) timerCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timerGen == gen && !s.closed
}
