package testutil

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoll(t *testing.T) {
	var n atomic.Int32
	err := Poll(time.Second, time.Millisecond, func() bool {
		return n.Add(1) >= 3
	})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n.Load() != 3 {
		t.Errorf("cond evaluated %d times, want 3", n.Load())
	}

	if err := Poll(20*time.Millisecond, 5*time.Millisecond, func() bool { return false }); err == nil {
		t.Error("expected timeout")
	}
}

func TestWithTimeout(t *testing.T) {
	want := errors.New("boom")
	if err := WithTimeout(time.Second, func() error { return want }); err != want {
		t.Errorf("err = %v, want %v", err, want)
	}

	block := make(chan struct{})
	defer close(block)
	if err := WithTimeout(10*time.Millisecond, func() error { <-block; return nil }); err == nil {
		t.Error("expected timeout")
	}
}

func TestGroup(t *testing.T) {
	var n atomic.Int32
	g := NewGroup(t)
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			n.Add(1)
			return nil
		})
	}
	g.Wait()
	if n.Load() != 8 {
		t.Errorf("ran %d goroutines, want 8", n.Load())
	}
}
