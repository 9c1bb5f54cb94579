package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

type lineResult struct {
	v   float64
	err error
}

// LineDevice reads newline-delimited numeric values from a stream, such as a
// serial character device or a pipe. Blank lines are skipped.
type LineDevice struct {
	closer io.Closer
	lines  chan lineResult
	quit   chan struct{}
	once   sync.Once
}

// NewLineDevice starts reading r. If r is an io.Closer, Close closes it.
func NewLineDevice(r io.Reader) *LineDevice {
	d := &LineDevice{
		lines: make(chan lineResult, 64),
		quit:  make(chan struct{}),
	}
	if c, ok := r.(io.Closer); ok {
		d.closer = c
	}
	go d.scan(r)
	return d
}

// OpenDevice opens the character device or file at path.
func OpenDevice(path string) (*LineDevice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open device: %w", err)
	}
	return NewLineDevice(f), nil
}

func (d *LineDevice) scan(r io.Reader) {
	defer close(d.lines)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			err = fmt.Errorf("parse %q: %w", line, err)
		}
		if !d.send(lineResult{v: v, err: err}) {
			return
		}
	}
	if err := sc.Err(); err != nil {
		d.send(lineResult{err: err})
	}
}

func (d *LineDevice) send(r lineResult) bool {
	select {
	case d.lines <- r:
		return true
	case <-d.quit:
		return false
	}
}

// Read returns the next value. It blocks until a line arrives or ctx is
// done, and returns io.EOF once the stream ends.
func (d *LineDevice) Read(ctx context.Context) (float64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case r, ok := <-d.lines:
		if !ok {
			return 0, io.EOF
		}
		return r.v, r.err
	}
}

// Close closes the underlying stream.
func (d *LineDevice) Close() error {
	d.once.Do(func() { close(d.quit) })
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}
