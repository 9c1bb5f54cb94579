// Package errors holds the error taxonomy of the ingestion engine.
//
// Only ErrBind (and a failed container open) is returned to the orchestrator
// from Start. The remaining sentinels classify conditions that are logged and
// absorbed locally; they are exported so tests and callers can use errors.Is.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotOpen: a write was attempted before the dataset container was open
	// (InitializationError). The write is a no-op.
	ErrNotOpen = errors.New("dataset not open")

	// ErrBind: the listener socket could not be bound (NetworkError).
	ErrBind = errors.New("bind failed")

	// ErrWriteRejected: a malformed or schema-mismatched row (WriteError).
	ErrWriteRejected = errors.New("row rejected")

	// ErrNotAvailable: not enough data for a derived metric (ComputationError).
	ErrNotAvailable = errors.New("not available")

	// ErrShutdownTimeout: the serve goroutine did not exit within the bounded
	// join window.
	ErrShutdownTimeout = errors.New("shutdown timeout")

	// Dataset format errors
	ErrSchemaMismatch = errors.New("schema mismatch")
	ErrCorruptRecord  = errors.New("corrupt record")
	ErrInvalidHeader  = errors.New("invalid container header")

	// ErrContainerFailed: a write or flush failed and the container refuses
	// further rows until it is reopened.
	ErrContainerFailed = errors.New("container failed")

	// Lifecycle errors
	ErrAlreadyRunning = errors.New("already running")

	// Validation errors
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingField   = errors.New("missing required field")
	ErrUnknownChannel = errors.New("unknown channel")

	// Catalog errors
	ErrNotFound = errors.New("not found")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// New returns an error that formats as the given text.
func New(text string) error { return errors.New(text) }

// Join returns an error that wraps the given errors.
func Join(errs ...error) error { return errors.Join(errs...) }

// Wrap prefixes err with message. A nil err stays nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// NewValidation reports a field holding an unusable value.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField reports a required field left empty.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewRejected reports a row refused by the writer.
func NewRejected(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrWriteRejected)
}

// ValidationErrors accumulates every problem found in a configuration so
// they can be reported together.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors returns an empty collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add records err unless it is nil.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField records a NewValidation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Add(NewValidation(field, reason))
}

// AddMissing records a NewMissingField error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Add(NewMissingField(field))
}

func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d configuration problems:", len(v.Errors))
	for _, err := range v.Errors {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Err returns nil when nothing was recorded.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

func (v *ValidationErrors) Unwrap() []error { return v.Errors }
