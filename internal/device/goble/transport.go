// Package goble adapts github.com/go-ble/ble to the narrow transport
// surface in internal/device: advertisement scanning, connection dialing,
// characteristic lookup, notification subscription, and command writes.
package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/podlink/internal/device"
	"github.com/srg/podlink/internal/podaddr"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (ble.Device, error) {
	return newPlatformDevice()
}

// Transport implements device.Transport on top of go-ble. The underlying
// ble.Device is created lazily on first use and shared between scanning
// and dialing.
type Transport struct {
	logger *logrus.Logger

	mu  sync.Mutex
	dev ble.Device
}

// NewTransport creates a go-ble backed transport.
func NewTransport(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{logger: logger}
}

func (t *Transport) bleDevice() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev != nil {
		return t.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	t.dev = dev
	return dev, nil
}

// Scan delivers advertisements to handler until ctx is done.
func (t *Transport) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	dev, err := t.bleDevice()
	if err != nil {
		return err
	}

	bleHandler := func(adv ble.Advertisement) {
		handler(newAdvertisement(adv, t.logger))
	}
	return dev.Scan(ctx, allowDup, bleHandler)
}

// Connect dials the given 48-bit address. The returned connection owns
// the ble.Client until Disconnect.
func (t *Transport) Connect(ctx context.Context, address uint64, opts *device.ConnectOptions) (device.Connection, error) {
	dev, err := t.bleDevice()
	if err != nil {
		return nil, err
	}

	if opts == nil {
		opts = device.DefaultConnectOptions()
	}
	dialCtx := ctx
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	addrText := podaddr.Format(address)
	client, err := dev.Dial(dialCtx, ble.NewAddr(addrText))
	if err != nil {
		t.logger.WithError(err).WithField("address", addrText).Debug("Dial failed")
		return nil, fmt.Errorf("%w: dial %s: %v", device.ErrDeviceNotFound, addrText, err)
	}

	t.logger.WithField("address", addrText).Debug("Transport connected")
	return newConnection(client, t.logger), nil
}

// advertisement adapts ble.Advertisement to device.Advertisement,
// resolving the link-layer address to its integer form once.
type advertisement struct {
	name        string
	address     uint64
	rssi        int
	connectable bool
}

func newAdvertisement(adv ble.Advertisement, logger *logrus.Logger) *advertisement {
	addrText := adv.Addr().String()
	address, err := podaddr.Parse(addrText)
	if err != nil {
		// Some stacks report randomized or malformed identifiers;
		// surface the advertisement anyway with a zero address.
		logger.WithError(err).WithField("address", addrText).Debug("Unparseable advertisement address")
	}

	return &advertisement{
		name:        adv.LocalName(),
		address:     address,
		rssi:        adv.RSSI(),
		connectable: adv.Connectable(),
	}
}

func (a *advertisement) LocalName() string { return a.name }
func (a *advertisement) Address() uint64   { return a.address }
func (a *advertisement) RSSI() int         { return a.rssi }
func (a *advertisement) Connectable() bool { return a.connectable }
