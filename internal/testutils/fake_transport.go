package testutils

import (
	"context"
	"sync"

	"github.com/srg/podlink/internal/device"
)

// FakeAdvertisement is a canned advertisement for scanner tests.
type FakeAdvertisement struct {
	Name       string
	Addr       uint64
	Signal     int
	CanConnect bool
}

func (a FakeAdvertisement) LocalName() string { return a.Name }
func (a FakeAdvertisement) Address() uint64   { return a.Addr }
func (a FakeAdvertisement) RSSI() int         { return a.Signal }
func (a FakeAdvertisement) Connectable() bool { return a.CanConnect }

// FakeTransport implements device.Transport in memory. Scan replays the
// configured advertisements and then blocks until the context ends;
// Connect hands out the configured FakeConnection.
type FakeTransport struct {
	mu sync.Mutex

	// Advertisements are delivered to the scan handler in order.
	Advertisements []FakeAdvertisement
	// Connection is returned from Connect when ConnectErr is nil.
	Connection *FakeConnection
	// ConnectErr, when set, fails every Connect call.
	ConnectErr error

	// ConnectedTo records the addresses passed to Connect.
	ConnectedTo []uint64
	// ScanCount is incremented on every Scan call.
	ScanCount int
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{Connection: NewFakeConnection()}
}

func (t *FakeTransport) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	t.mu.Lock()
	t.ScanCount++
	advs := make([]FakeAdvertisement, len(t.Advertisements))
	copy(advs, t.Advertisements)
	t.mu.Unlock()

	for _, adv := range advs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		handler(adv)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (t *FakeTransport) Connect(_ context.Context, address uint64, _ *device.ConnectOptions) (device.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ConnectedTo = append(t.ConnectedTo, address)
	if t.ConnectErr != nil {
		return nil, t.ConnectErr
	}
	return t.Connection, nil
}

// Scans returns how many Scan calls have started.
func (t *FakeTransport) Scans() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ScanCount
}

// FakeConnection implements device.Connection with a fixed set of
// characteristics keyed by "service/char" (normalized UUIDs).
type FakeConnection struct {
	mu sync.Mutex

	chars        map[string]*FakeCharacteristic
	LookupErr    error
	Disconnected int
}

func NewFakeConnection() *FakeConnection {
	return &FakeConnection{chars: make(map[string]*FakeCharacteristic)}
}

// AddCharacteristic registers a characteristic under the given service
// and returns it for later inspection.
func (c *FakeConnection) AddCharacteristic(serviceUUID, charUUID string) *FakeCharacteristic {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := device.NormalizeUUID(serviceUUID) + "/" + device.NormalizeUUID(charUUID)
	ch := &FakeCharacteristic{uuid: device.NormalizeUUID(charUUID)}
	c.chars[key] = ch
	return ch
}

func (c *FakeConnection) GetCharacteristic(serviceUUID, charUUID string) (device.Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.LookupErr != nil {
		return nil, c.LookupErr
	}
	key := device.NormalizeUUID(serviceUUID) + "/" + device.NormalizeUUID(charUUID)
	ch, ok := c.chars[key]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
	}
	return ch, nil
}

func (c *FakeConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Disconnected++
	return nil
}

// FakeCharacteristic records writes and lets the test push notifications
// through the handler captured by Subscribe.
type FakeCharacteristic struct {
	mu sync.Mutex

	uuid     string
	handler  func(data []byte)
	writes   [][]byte
	WriteErr error
	SubErr   error
}

func (ch *FakeCharacteristic) UUID() string { return ch.uuid }

func (ch *FakeCharacteristic) Subscribe(handler func(data []byte)) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.SubErr != nil {
		return ch.SubErr
	}
	ch.handler = handler
	return nil
}

func (ch *FakeCharacteristic) Write(data []byte, _ bool) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.WriteErr != nil {
		return ch.WriteErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	ch.writes = append(ch.writes, buf)
	return nil
}

// SetWriteErr makes subsequent writes fail.
func (ch *FakeCharacteristic) SetWriteErr(err error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.WriteErr = err
}

// Writes returns a snapshot of every frame written so far.
func (ch *FakeCharacteristic) Writes() [][]byte {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make([][]byte, len(ch.writes))
	copy(out, ch.writes)
	return out
}

// Notify feeds data through the subscribed handler, simulating a GATT
// notification from the peripheral.
func (ch *FakeCharacteristic) Notify(data []byte) {
	ch.mu.Lock()
	handler := ch.handler
	ch.mu.Unlock()
	if handler != nil {
		handler(data)
	}
}

// Subscribed reports whether a notification handler is registered.
func (ch *FakeCharacteristic) Subscribed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.handler != nil
}
