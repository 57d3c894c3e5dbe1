package goble

import (
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/podlink/internal/device"
)

// connection implements device.Connection over a live ble.Client.
// Characteristic discovery results are cached per (service, char) pair.
type connection struct {
	logger *logrus.Logger

	connMu sync.Mutex
	client ble.Client
	chars  map[string]*characteristic

	// writeMu serializes GATT writes; the client is not safe for
	// concurrent write requests.
	writeMu sync.Mutex
}

func newConnection(client ble.Client, logger *logrus.Logger) *connection {
	return &connection{
		logger: logger,
		client: client,
		chars:  make(map[string]*characteristic),
	}
}

// GetCharacteristic discovers the service and characteristic on first
// lookup. Both UUIDs are normalized; missing resources come back as
// device.NotFoundError so the session can report the right terminal
// status.
func (c *connection) GetCharacteristic(serviceUUID, charUUID string) (device.Characteristic, error) {
	normalizedSvc := device.NormalizeUUID(serviceUUID)
	normalizedChar := device.NormalizeUUID(charUUID)
	key := normalizedSvc + "/" + normalizedChar

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.client == nil {
		return nil, device.ErrNotConnected
	}
	if cached, ok := c.chars[key]; ok {
		return cached, nil
	}

	svcUUID, err := ble.Parse(normalizedSvc)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", serviceUUID, err)
	}
	chrUUID, err := ble.Parse(normalizedChar)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", charUUID, err)
	}

	services, err := c.client.DiscoverServices([]ble.UUID{svcUUID})
	if err != nil || len(services) == 0 {
		c.logger.WithError(err).WithField("service", normalizedSvc).Debug("Service discovery failed")
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{serviceUUID}}
	}

	chars, err := c.client.DiscoverCharacteristics([]ble.UUID{chrUUID}, services[0])
	if err != nil || len(chars) == 0 {
		c.logger.WithError(err).WithField("characteristic", normalizedChar).Debug("Characteristic discovery failed")
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
	}

	// Descriptors are needed for the CCCD handle before subscribing;
	// a failure here surfaces later as a subscribe error.
	if _, err := c.client.DiscoverDescriptors(nil, chars[0]); err != nil {
		c.logger.WithError(err).WithField("characteristic", normalizedChar).Debug("Descriptor discovery failed")
	}

	ch := &characteristic{conn: c, char: chars[0], uuid: normalizedChar}
	c.chars[key] = ch
	return ch, nil
}

// Disconnect tears the link down and invalidates all characteristic
// handles obtained from this connection.
func (c *connection) Disconnect() error {
	c.connMu.Lock()
	client := c.client
	c.client = nil
	c.chars = make(map[string]*characteristic)
	c.connMu.Unlock()

	if client == nil {
		return nil
	}
	return device.NormalizeError(client.CancelConnection())
}

// characteristic implements device.Characteristic for one discovered
// GATT characteristic.
type characteristic struct {
	conn *connection
	char *ble.Characteristic
	uuid string
}

func (ch *characteristic) UUID() string {
	return ch.uuid
}

// Subscribe registers handler for notifications. go-ble invokes handlers
// sequentially from its event loop, which gives the reassembler the
// serialized delivery it relies on. The notification buffer is reused by
// the stack, so it is copied before handing off.
func (ch *characteristic) Subscribe(handler func(data []byte)) error {
	ch.conn.connMu.Lock()
	client := ch.conn.client
	ch.conn.connMu.Unlock()
	if client == nil {
		return device.ErrNotConnected
	}

	return device.NormalizeError(client.Subscribe(ch.char, false, func(data []byte) {
		buf := make([]byte, len(data))
		copy(buf, data)
		handler(buf)
	}))
}

// Write sends data to the characteristic. withResponse false maps to a
// GATT write-without-response.
func (ch *characteristic) Write(data []byte, withResponse bool) error {
	ch.conn.connMu.Lock()
	client := ch.conn.client
	ch.conn.connMu.Unlock()
	if client == nil {
		return device.ErrNotConnected
	}

	ch.conn.writeMu.Lock()
	defer ch.conn.writeMu.Unlock()
	return device.NormalizeError(client.WriteCharacteristic(ch.char, data, !withResponse))
}
