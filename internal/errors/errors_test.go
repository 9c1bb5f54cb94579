package errors

import (
	"strings"
	"testing"
)

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	err := Wrap(ErrNotOpen, "write")
	if !Is(err, ErrNotOpen) || err.Error() != "write: dataset not open" {
		t.Errorf("Wrap = %v", err)
	}
}

func TestValidationErrors(t *testing.T) {
	v := NewValidationErrors()
	if v.Err() != nil {
		t.Fatal("empty collector should yield nil")
	}

	v.Add(nil)
	v.AddMissing("subject")
	if err := v.Err(); err == nil || err.Error() != "subject: missing required field" {
		t.Errorf("single error = %v", err)
	}

	v.AddField("force.poll_period", "must be positive")
	err := v.Err()
	if !Is(err, ErrMissingField) || !Is(err, ErrInvalidConfig) {
		t.Errorf("chain lost a sentinel: %v", err)
	}
	if !strings.HasPrefix(err.Error(), "2 configuration problems:") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestNewRejected(t *testing.T) {
	err := NewRejected("channel %d out of range", 9)
	if !Is(err, ErrWriteRejected) || !strings.Contains(err.Error(), "channel 9") {
		t.Errorf("NewRejected = %v", err)
	}
}
