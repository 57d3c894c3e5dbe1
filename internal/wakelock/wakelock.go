// Package wakelock abstracts OS sleep prevention. A long download must
// not be interrupted by the host machine suspending; the session holds
// the lock from connect until disconnect.
package wakelock

import "github.com/sirupsen/logrus"

// Lock prevents and re-allows system sleep. Implementations must be safe
// to call repeatedly and from any goroutine.
type Lock interface {
	// Prevent keeps the system awake until Release is called.
	Prevent()
	// Release allows the system to sleep again.
	Release()
}

// Nop is a Lock that does nothing. Used on platforms without a sleep
// inhibitor and in tests.
type Nop struct{}

func (Nop) Prevent() {}
func (Nop) Release() {}

// New returns the platform sleep inhibitor. Only the no-op implementation
// ships here; hosts that need real inhibition inject their own Lock.
func New(logger *logrus.Logger) Lock {
	if logger != nil {
		logger.Debug("Using no-op wake lock")
	}
	return Nop{}
}
