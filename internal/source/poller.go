package source

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/biostream/config"
	"github.com/xtxerr/biostream/internal/clock"
	"github.com/xtxerr/biostream/internal/errors"
	"github.com/xtxerr/biostream/internal/storage/types"
)

// Device is a sensor read on demand.
type Device interface {
	// Read returns the next value. io.EOF means the device is gone.
	Read(ctx context.Context) (float64, error)
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	// Channel is stamped on every reading.
	Channel types.Channel

	// Period is the read period.
	Period time.Duration
}

// Poller reads a Device on a fixed period.
type Poller struct {
	dev   Device
	cfg   PollerConfig
	clock clock.Clock

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	received   atomic.Int64
	accepted   atomic.Int64
	badPayload atomic.Int64
	errs       atomic.Int64
}

// NewPoller creates a poller for dev.
func NewPoller(dev Device, cfg PollerConfig, clk clock.Clock) *Poller {
	if cfg.Period <= 0 {
		cfg.Period = config.DefaultPollPeriod
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Poller{dev: dev, cfg: cfg, clock: clk, done: closedChan}
}

// Start starts the poll goroutine.
func (p *Poller) Start(h Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return errors.ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	started := make(chan struct{})
	go p.run(ctx, h, p.done, started)
	<-started

	log.Info("poller started", "channel", p.cfg.Channel, "period", p.cfg.Period)
	return nil
}

// Stop cancels the poll goroutine.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
}

// Done is closed when the poll goroutine exits.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Stats returns poller counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Received:   p.received.Load(),
		Accepted:   p.accepted.Load(),
		BadPayload: p.badPayload.Load(),
		Errors:     p.errs.Load(),
	}
}

func (p *Poller) run(ctx context.Context, h Handler, done chan<- struct{}, started chan<- struct{}) {
	defer close(done)
	close(started)

	ticker := time.NewTicker(p.cfg.Period)
	defer ticker.Stop()

	var lastErr string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		v, err := p.dev.Read(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return
		case errors.Is(err, io.EOF):
			log.Warn("device closed; poller stopping", "channel", p.cfg.Channel)
			return
		default:
			p.errs.Add(1)
			// Repeated identical errors are only worth one warning.
			if msg := err.Error(); msg != lastErr {
				lastErr = msg
				log.Warn("device read failed", "channel", p.cfg.Channel, "error", err)
			}
			continue
		}

		p.received.Add(1)
		if _, ok := numeric(v); !ok {
			p.badPayload.Add(1)
			continue
		}
		lastErr = ""
		p.accepted.Add(1)
		h(types.Reading{Channel: p.cfg.Channel, Value: v, At: p.clock.Now()})
	}
}
