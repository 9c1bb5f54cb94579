// Package source produces sensor readings from devices.
//
// Two kinds of source exist: OSCListener serves pushed UDP messages and
// Poller reads a Device on a fixed period. Both run a single goroutine that
// calls the Handler, so readings reach the handler in strict receipt order
// and the handler never runs concurrently with itself.
package source

import (
	"github.com/xtxerr/biostream/internal/logging"
	"github.com/xtxerr/biostream/internal/storage/types"
)

var log = logging.Component("source")

// Handler receives readings on the source goroutine.
type Handler func(types.Reading)

// Source is a reading producer with a start/stop lifecycle.
type Source interface {
	// Start acquires the underlying resource and returns once the serve
	// goroutine is running. A bind or open failure is returned.
	Start(h Handler) error

	// Stop signals the serve goroutine to exit and returns immediately.
	Stop()

	// Done is closed when the serve goroutine has exited.
	Done() <-chan struct{}

	// Stats returns counters.
	Stats() Stats
}

// Stats holds source counters.
type Stats struct {
	Received   int64 // packets or device reads
	Accepted   int64 // readings handed to the handler
	Unknown    int64 // unrecognised addresses
	BadPayload int64 // empty, non-numeric or non-finite payloads
	Errors     int64 // parse and read errors
}

// closedChan is returned by Done before the first Start.
var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()
