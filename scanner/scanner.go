// Package scanner discovers Pod wearables over BLE advertisements.
// Only devices whose local name starts with "POD" (case-insensitive)
// are reported; everything else on the air is ignored.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/podlink/internal/device"
	"github.com/srg/podlink/internal/podaddr"
)

// namePrefix is the advertisement local-name prefix identifying a Pod.
const namePrefix = "POD"

// AcceptName reports whether an advertised local name identifies a Pod.
// The match is a case-insensitive prefix test: "podwatch" and "POD-42"
// are Pods, "MyPOD" is not.
func AcceptName(name string) bool {
	return strings.HasPrefix(strings.ToUpper(name), namePrefix)
}

// ScanResult describes one discovered Pod.
type ScanResult struct {
	// Name is the advertised local name.
	Name string
	// ID is the colon-separated lowercase address text, suitable for
	// a later Connect call.
	ID string
	// Address is the same address in integer form.
	Address uint64
	// RSSI is the signal strength of the latest advertisement.
	RSSI int
}

// ScanOptions configures discovery behavior.
type ScanOptions struct {
	// Duration bounds a single scan; zero means scan until the
	// context is cancelled.
	Duration time.Duration
	// AllowDuplicates re-reports devices on every advertisement
	// instead of only RSSI changes.
	AllowDuplicates bool
}

// DefaultScanOptions returns the standard discovery options.
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        15 * time.Second,
		AllowDuplicates: true,
	}
}

// Scanner filters BLE advertisements down to Pod devices and maintains
// a discovery inventory for the duration of a scan.
type Scanner struct {
	transport device.ScanningDevice
	logger    *logrus.Logger

	devices *hashmap.Map[uint64, ScanResult]
	onFound func(ScanResult)
}

// NewScanner creates a scanner over the given transport. onFound is
// invoked once per newly discovered Pod and again when its RSSI changes.
func NewScanner(transport device.ScanningDevice, logger *logrus.Logger, onFound func(ScanResult)) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	if onFound == nil {
		onFound = func(ScanResult) {}
	}

	return &Scanner{
		transport: transport,
		logger:    logger,
		devices:   hashmap.New[uint64, ScanResult](),
		onFound:   onFound,
	}
}

// Scan performs discovery with the provided options and returns the
// inventory of Pods seen. A context cancellation or deadline is the
// normal way a scan ends and is not reported as an error.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) ([]ScanResult, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	s.devices = hashmap.New[uint64, ScanResult]()

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting Pod scan...")

	err := s.transport.Scan(scanCtx, opts.AllowDuplicates, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("Pod scan completed")
	return s.Results(), nil
}

// handleAdvertisement filters and records one advertisement.
func (s *Scanner) handleAdvertisement(adv device.Advertisement) {
	name := adv.LocalName()
	if !AcceptName(name) {
		return
	}

	result := ScanResult{
		Name:    name,
		ID:      podaddr.Format(adv.Address()),
		Address: adv.Address(),
		RSSI:    adv.RSSI(),
	}

	prev, existing := s.devices.Get(result.Address)
	s.devices.Set(result.Address, result)

	if existing && prev.RSSI == result.RSSI {
		return
	}
	if !existing {
		s.logger.WithFields(logrus.Fields{
			"device":  result.Name,
			"address": result.ID,
			"rssi":    result.RSSI,
		}).Info("Discovered Pod")
	}
	s.onFound(result)
}

// Results returns a snapshot of the Pods discovered so far.
func (s *Scanner) Results() []ScanResult {
	results := make([]ScanResult, 0, s.devices.Len())
	s.devices.Range(func(_ uint64, value ScanResult) bool {
		results = append(results, value)
		return true
	})
	return results
}
