// Package testutil provides helpers for tests that involve goroutines and
// asynchronous delivery (UDP sockets, polling loops, background flushers).
//
// t.Fatal from a goroutine other than the test's own only exits that
// goroutine, so goroutines started by a test report through Group instead.
package testutil

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Goroutine group
// =============================================================================

// Group runs test goroutines and reports their errors on Wait.
//
//	g := testutil.NewGroup(t)
//	g.Go(func() error {
//	    return d.Write(row)
//	})
//	g.Wait()
type Group struct {
	t  testing.TB
	wg sync.WaitGroup

	mu   sync.Mutex
	errs []error
}

// NewGroup creates a Group bound to t.
func NewGroup(t testing.TB) *Group {
	return &Group{t: t}
}

// Go runs fn in a goroutine. fn returns an error instead of failing t.
func (g *Group) Go(fn func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := fn(); err != nil {
			g.mu.Lock()
			g.errs = append(g.errs, err)
			g.mu.Unlock()
		}
	}()
}

// Wait waits for every goroutine and fails the test if any returned an error.
func (g *Group) Wait() {
	g.t.Helper()
	g.wg.Wait()

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.errs) == 0 {
		return
	}
	for i, err := range g.errs {
		g.t.Errorf("goroutine error [%d]: %v", i+1, err)
	}
	g.t.FailNow()
}

// =============================================================================
// Polling
// =============================================================================

// DefaultTimeout bounds Eventually for socket round trips on a loaded machine.
const DefaultTimeout = 3 * time.Second

// Eventually polls cond every interval until it holds or timeout elapses,
// then fails the test with the formatted message.
func Eventually(t testing.TB, timeout, interval time.Duration, cond func() bool, format string, args ...interface{}) {
	t.Helper()
	if err := Poll(timeout, interval, cond); err != nil {
		t.Fatalf("%s: %v", fmt.Sprintf(format, args...), err)
	}
}

// Poll is Eventually without a test; it returns an error on timeout.
func Poll(timeout, interval time.Duration, cond func() bool) error {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("condition not met within %v", timeout)
		}
		time.Sleep(interval)
	}
}

// WithTimeout runs fn and returns its error, or a timeout error if fn has not
// returned after timeout. fn keeps running in the background on timeout.
func WithTimeout(timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("operation timed out after %v", timeout)
	}
}
