package source

import (
	"fmt"
	"math"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hypebeast/go-osc/osc"

	"github.com/xtxerr/biostream/config"
	"github.com/xtxerr/biostream/internal/clock"
	"github.com/xtxerr/biostream/internal/errors"
	"github.com/xtxerr/biostream/internal/storage/types"
)

// OSCConfig configures an OSCListener.
type OSCConfig struct {
	// Listen is the UDP address, e.g. "127.0.0.1:12345". Port 0 picks a free
	// port; see LocalAddr.
	Listen string

	// Namespace is the address prefix: messages arrive as
	// /<Namespace>/0/<channel>.
	Namespace string

	// Schema lists the channels accepted.
	Schema types.Schema

	// ReadTimeout bounds each socket read so the loop observes Stop.
	ReadTimeout time.Duration

	// MaxPacketSize is the receive buffer size.
	MaxPacketSize int
}

// DefaultOSCConfig returns the EmotiBit listener defaults.
func DefaultOSCConfig() OSCConfig {
	return OSCConfig{
		Listen:        config.DefaultOSCListen,
		Namespace:     config.DefaultOSCNamespace,
		Schema:        types.EmotiBitSchema,
		ReadTimeout:   config.DefaultReadTimeout,
		MaxPacketSize: config.DefaultMaxPacketSize,
	}
}

// OSCListener serves OSC messages over UDP.
type OSCListener struct {
	cfg   OSCConfig
	clock clock.Clock

	// routes maps full message addresses to channels. Built once.
	routes map[string]types.Channel

	// seen records unknown addresses already reported at warn level. Only
	// the serve goroutine touches it.
	seen map[string]struct{}

	mu   sync.Mutex
	conn net.PacketConn
	stop chan struct{}
	done chan struct{}

	received   atomic.Int64
	accepted   atomic.Int64
	unknown    atomic.Int64
	badPayload atomic.Int64
	errs       atomic.Int64
}

// NewOSCListener creates a listener. Nothing is bound until Start.
func NewOSCListener(cfg OSCConfig, clk clock.Clock) *OSCListener {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = config.DefaultReadTimeout
	}
	if cfg.MaxPacketSize <= 0 {
		cfg.MaxPacketSize = config.DefaultMaxPacketSize
	}
	if clk == nil {
		clk = clock.System{}
	}

	routes := make(map[string]types.Channel, len(cfg.Schema.Channels))
	for _, c := range cfg.Schema.Channels {
		routes[Address(cfg.Namespace, c)] = c
	}

	return &OSCListener{
		cfg:    cfg,
		clock:  clk,
		routes: routes,
		seen:   make(map[string]struct{}),
		done:   closedChan,
	}
}

// Address returns the OSC address carrying channel c.
func Address(namespace string, c types.Channel) string {
	return "/" + namespace + "/0/" + c.String()
}

// Start binds the socket and starts the serve goroutine.
func (l *OSCListener) Start(h Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return errors.ErrAlreadyRunning
	}

	conn, err := net.ListenPacket("udp", l.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %v: %w", l.cfg.Listen, err, errors.ErrBind)
	}

	l.conn = conn
	l.stop = make(chan struct{})
	l.done = make(chan struct{})

	started := make(chan struct{})
	go l.serve(conn, h, l.stop, l.done, started)
	<-started

	log.Info("osc listener started", "address", conn.LocalAddr().String(), "namespace", l.cfg.Namespace)
	return nil
}

// Stop signals the serve loop and closes the socket.
func (l *OSCListener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return
	}
	close(l.stop)
	l.conn.Close()
	l.conn = nil
}

// Done is closed when the serve goroutine exits.
func (l *OSCListener) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// LocalAddr returns the bound address, or nil when stopped.
func (l *OSCListener) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Stats returns listener counters.
func (l *OSCListener) Stats() Stats {
	return Stats{
		Received:   l.received.Load(),
		Accepted:   l.accepted.Load(),
		Unknown:    l.unknown.Load(),
		BadPayload: l.badPayload.Load(),
		Errors:     l.errs.Load(),
	}
}

func (l *OSCListener) serve(conn net.PacketConn, h Handler, stop <-chan struct{}, done chan<- struct{}, started chan<- struct{}) {
	defer close(done)
	close(started)

	buf := make([]byte, l.cfg.MaxPacketSize)
	for {
		select {
		case <-stop:
			log.Debug("osc serve loop exiting")
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			select {
			case <-stop:
				return
			default:
			}
			l.errs.Add(1)
			log.Warn("osc read error", "error", err)
			continue
		}

		l.received.Add(1)
		l.handlePacket(buf[:n], h)
	}
}

// handlePacket decodes one datagram. Corrupt packets are counted and
// dropped.
func (l *OSCListener) handlePacket(data []byte, h Handler) {
	pkt, err := osc.ParsePacket(string(data))
	if err == nil && pkt == nil {
		err = errors.New("not an OSC message or bundle")
	}
	if err != nil {
		l.errs.Add(1)
		log.Debug("dropping malformed packet", "bytes", len(data), "error", err)
		return
	}
	l.dispatch(pkt, h)
}

func (l *OSCListener) dispatch(pkt osc.Packet, h Handler) {
	switch p := pkt.(type) {
	case *osc.Message:
		l.handleMessage(p, h)
	case *osc.Bundle:
		for _, m := range p.Messages {
			l.handleMessage(m, h)
		}
		for _, b := range p.Bundles {
			l.dispatch(b, h)
		}
	}
}

func (l *OSCListener) handleMessage(m *osc.Message, h Handler) {
	c, ok := l.routes[m.Address]
	if !ok {
		l.unknown.Add(1)
		if _, reported := l.seen[m.Address]; !reported {
			l.seen[m.Address] = struct{}{}
			log.Warn("ignoring unknown address", "address", m.Address)
		}
		return
	}

	if len(m.Arguments) == 0 {
		l.badPayload.Add(1)
		log.Debug("dropping empty message", "address", m.Address)
		return
	}
	v, ok := numeric(m.Arguments[0])
	if !ok {
		l.badPayload.Add(1)
		log.Debug("dropping non-numeric payload", "address", m.Address, "type", fmt.Sprintf("%T", m.Arguments[0]))
		return
	}

	l.accepted.Add(1)
	h(types.Reading{Channel: c, Value: v, At: l.clock.Now()})
}

// numeric converts an OSC argument to a finite float64.
func numeric(arg interface{}) (float64, bool) {
	var v float64
	switch a := arg.(type) {
	case float32:
		v = float64(a)
	case float64:
		v = a
	case int32:
		v = float64(a)
	case int64:
		v = float64(a)
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
