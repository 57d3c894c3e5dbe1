// Package devicefactory is the seam between the session layer and the
// concrete BLE transport. Tests swap TransportFactory for a fake.
package devicefactory

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/podlink/internal/device"
	"github.com/srg/podlink/internal/device/goble"
)

// TransportFactory creates the device.Transport used for scanning and
// connecting. This is a variable so that it can be overridden in tests.
var TransportFactory = func(logger *logrus.Logger) device.Transport {
	return goble.NewTransport(logger)
}

// NewTransport creates the platform BLE transport.
func NewTransport(logger *logrus.Logger) device.Transport {
	return TransportFactory(logger)
}
