package source

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"

	"github.com/xtxerr/biostream/internal/clock"
	bserrors "github.com/xtxerr/biostream/internal/errors"
	"github.com/xtxerr/biostream/internal/storage/types"
)

type collector struct {
	ch chan types.Reading
}

func newCollector() *collector {
	return &collector{ch: make(chan types.Reading, 128)}
}

func (c *collector) handle(r types.Reading) { c.ch <- r }

func (c *collector) wait(t *testing.T, n int) []types.Reading {
	t.Helper()
	out := make([]types.Reading, 0, n)
	deadline := time.After(3 * time.Second)
	for len(out) < n {
		select {
		case r := <-c.ch:
			out = append(out, r)
		case <-deadline:
			t.Fatalf("timed out after %d of %d readings", len(out), n)
		}
	}
	return out
}

func (c *collector) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case r := <-c.ch:
		t.Fatalf("unexpected reading %+v", r)
	case <-time.After(d):
	}
}

func startListener(t *testing.T, c *collector) (*OSCListener, *osc.Client) {
	t.Helper()

	cfg := DefaultOSCConfig()
	cfg.Listen = "127.0.0.1:0"
	cfg.ReadTimeout = 20 * time.Millisecond

	l := NewOSCListener(cfg, clock.NewStepped(time.Unix(1700000000, 0), time.Millisecond))
	if err := l.Start(c.handle); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(l.Stop)

	port := l.LocalAddr().(*net.UDPAddr).Port
	return l, osc.NewClient("127.0.0.1", port)
}

func send(t *testing.T, client *osc.Client, addr string, args ...interface{}) {
	t.Helper()
	msg := osc.NewMessage(addr, args...)
	if err := client.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestOSC_EachChannel(t *testing.T) {
	c := newCollector()
	l, client := startListener(t, c)

	tests := []struct {
		channel types.Channel
		arg     interface{}
		want    float64
	}{
		{types.ChannelEDA, float32(0.25), 0.25},
		{types.ChannelHR, int32(72), 72},
		{types.ChannelBI, float64(812.5), 812.5},
		{types.ChannelPG, int64(-3), -3},
	}

	for _, tt := range tests {
		send(t, client, Address("EmotiBit", tt.channel), tt.arg)
		got := c.wait(t, 1)[0]
		if got.Channel != tt.channel || got.Value != tt.want {
			t.Errorf("reading = %+v, want %v=%v", got, tt.channel, tt.want)
		}
		if got.At.IsZero() {
			t.Error("reading not timestamped")
		}
	}

	if s := l.Stats(); s.Accepted != 4 || s.Received != 4 {
		t.Errorf("stats = %+v", s)
	}
}

func TestOSC_Dropped(t *testing.T) {
	c := newCollector()
	l, client := startListener(t, c)

	send(t, client, "/EmotiBit/0/AX", float32(1))
	send(t, client, "/EmotiBit/0/AX", float32(2))
	send(t, client, "/Other/0/EDA", float32(1))
	send(t, client, "/EmotiBit/0/EDA")
	send(t, client, "/EmotiBit/0/HR", "seventy")
	send(t, client, "/EmotiBit/0/PG", float32(math.NaN()))

	raw, err := net.Dial("udp", l.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer raw.Close()
	raw.Write([]byte("not an osc packet"))

	// A valid message after the garbage proves the loop survived.
	send(t, client, "/EmotiBit/0/EDA", float32(0.5))
	got := c.wait(t, 1)[0]
	if got.Channel != types.ChannelEDA || got.Value != 0.5 {
		t.Errorf("reading = %+v", got)
	}
	c.none(t, 50*time.Millisecond)

	s := l.Stats()
	if s.Unknown != 3 {
		t.Errorf("Unknown = %d, want 3", s.Unknown)
	}
	if s.BadPayload != 3 {
		t.Errorf("BadPayload = %d, want 3", s.BadPayload)
	}
	if s.Errors != 1 {
		t.Errorf("Errors = %d, want 1", s.Errors)
	}
	if s.Accepted != 1 {
		t.Errorf("Accepted = %d, want 1", s.Accepted)
	}
}

func TestOSC_Bundle(t *testing.T) {
	c := newCollector()
	_, client := startListener(t, c)

	b := osc.NewBundle(time.Now())
	b.Append(osc.NewMessage("/EmotiBit/0/EDA", float32(0.1)))
	b.Append(osc.NewMessage("/EmotiBit/0/HR", float32(60)))
	if err := client.Send(b); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := c.wait(t, 2)
	if got[0].Channel != types.ChannelEDA || got[1].Channel != types.ChannelHR {
		t.Errorf("readings = %+v", got)
	}
}

func TestOSC_Lifecycle(t *testing.T) {
	c := newCollector()
	l, _ := startListener(t, c)

	if err := l.Start(c.handle); !errors.Is(err, bserrors.ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}

	// A second listener on the same port fails to bind.
	cfg := DefaultOSCConfig()
	cfg.Listen = l.LocalAddr().String()
	other := NewOSCListener(cfg, nil)
	if err := other.Start(c.handle); !errors.Is(err, bserrors.ErrBind) {
		t.Errorf("Start on used port = %v, want ErrBind", err)
	}

	done := l.Done()
	l.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("serve loop did not exit")
	}
	l.Stop()

	if l.LocalAddr() != nil {
		t.Error("LocalAddr should be nil after Stop")
	}

	// The listener can be started again.
	if err := l.Start(c.handle); err != nil {
		t.Fatalf("restart: %v", err)
	}
	l.Stop()
}

func TestOSC_DoneBeforeStart(t *testing.T) {
	l := NewOSCListener(DefaultOSCConfig(), nil)
	select {
	case <-l.Done():
	default:
		t.Error("Done should be closed before Start")
	}
	l.Stop()
}

type fakeDevice struct {
	mu     sync.Mutex
	values []float64
	errs   []error
	reads  atomic.Int64
}

func (d *fakeDevice) Read(ctx context.Context) (float64, error) {
	d.reads.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return 0, err
		}
	}
	if len(d.values) == 0 {
		return 0, io.EOF
	}
	v := d.values[0]
	d.values = d.values[1:]
	return v, nil
}

func TestPoller(t *testing.T) {
	dev := &fakeDevice{
		values: []float64{1.5, math.Inf(1), 2.5},
		errs:   []error{nil, errors.New("usb timeout")},
	}
	c := newCollector()

	p := NewPoller(dev, PollerConfig{Channel: types.ChannelForce, Period: 5 * time.Millisecond}, nil)
	if err := p.Start(c.handle); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(c.handle); !errors.Is(err, bserrors.ErrAlreadyRunning) {
		t.Errorf("second Start = %v", err)
	}

	got := c.wait(t, 2)
	if got[0].Value != 1.5 || got[1].Value != 2.5 || got[0].Channel != types.ChannelForce {
		t.Errorf("readings = %+v", got)
	}

	// The device reports EOF after its values; the poller exits by itself.
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop at EOF")
	}

	s := p.Stats()
	if s.Errors != 1 || s.BadPayload != 1 || s.Accepted != 2 {
		t.Errorf("stats = %+v", s)
	}
	p.Stop()
}

type blockingDevice struct{}

func (blockingDevice) Read(ctx context.Context) (float64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestPoller_StopUnblocksRead(t *testing.T) {
	p := NewPoller(blockingDevice{}, PollerConfig{Channel: types.ChannelForce, Period: time.Millisecond}, nil)
	if err := p.Start(func(types.Reading) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	p.Stop()
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
	p.Stop()
}

func TestLineDevice(t *testing.T) {
	d := NewLineDevice(strings.NewReader("1.25\n\n  2.5 \nbad\n3\n"))
	ctx := context.Background()

	want := []struct {
		v   float64
		err bool
	}{
		{1.25, false},
		{2.5, false},
		{0, true},
		{3, false},
	}
	for i, w := range want {
		v, err := d.Read(ctx)
		if (err != nil) != w.err {
			t.Fatalf("read %d: err = %v", i, err)
		}
		if !w.err && v != w.v {
			t.Errorf("read %d = %v, want %v", i, v, w.v)
		}
	}
	if _, err := d.Read(ctx); err != io.EOF {
		t.Errorf("final read = %v, want io.EOF", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestLineDevice_ContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	d := NewLineDevice(pr)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := d.Read(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Read = %v, want deadline exceeded", err)
	}
}
