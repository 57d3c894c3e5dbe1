package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	// Characteristic lookups carry [serviceUUID, charUUID]
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	DeviceNotFound   ConnectionState = "device_not_found"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrDeviceNotFound   = &ConnectionError{State: DeviceNotFound}
)

// Operation errors
var (
	ErrTimeout = errors.New("timeout")
)

// NormalizeError maps known transport error strings to structured
// ConnectionError types so callers can branch on errors.Is regardless of
// upstream library message changes. Returns wrapped errors to preserve
// original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "can't dial"), containsIgnoreCase(msg, "no devices found"):
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// Advertisement is the slice of a received advertisement the engine needs:
// the advertised name, the 48-bit link-layer address, and signal strength.
type Advertisement interface {
	LocalName() string
	Address() uint64
	RSSI() int
	Connectable() bool
}

// ScanningDevice represents a transport capable of scanning for advertisements
type ScanningDevice interface {
	// Scan delivers advertisements to handler until ctx is done.
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

// Transport is the narrow surface the session engine consumes from the
// wireless stack: advertisement scanning plus connection establishment.
// Everything else (pairing, retry policy, MTU negotiation) stays inside
// the transport implementation.
type Transport interface {
	ScanningDevice

	// Connect establishes a link to the given 48-bit address and performs
	// service discovery. Returns ErrDeviceNotFound (wrapped) when the
	// device cannot be reached.
	Connect(ctx context.Context, address uint64, opts *ConnectOptions) (Connection, error)
}

// ConnectOptions defines connection options
type ConnectOptions struct {
	ConnectTimeout time.Duration
}

// DefaultConnectOptions returns default connection options
func DefaultConnectOptions() *ConnectOptions {
	return &ConnectOptions{
		ConnectTimeout: 30 * time.Second,
	}
}

// Connection represents an established link with discovered services
type Connection interface {
	// GetCharacteristic retrieves a characteristic by service and
	// characteristic UUID. Both UUIDs are normalized for lookup.
	// Returns a NotFoundError if either is missing.
	GetCharacteristic(serviceUUID, charUUID string) (Characteristic, error)

	Disconnect() error
}

// Characteristic combines the two operations the protocol engine uses:
// notification subscription and command writes.
type Characteristic interface {
	UUID() string

	// Subscribe registers handler for notifications on this
	// characteristic. The transport serializes handler invocations; no
	// two notifications are delivered concurrently.
	Subscribe(handler func(data []byte)) error

	// Write sends data to the characteristic.
	Write(data []byte, withResponse bool) error
}
