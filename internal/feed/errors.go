package feed

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport matches every TransportError.
	ErrTransport = errors.New("feed transport failure")

	// ErrMalformedLine is returned for a raw line that is neither an
	// S-Class, C-Class, reset nor control line.
	ErrMalformedLine = errors.New("malformed feed line")
)

// TransportError is fatal to the current connection. The sequencer never
// retries; reconnecting is the caller's job.
type TransportError struct {
	Op  string
	Err error

	// Display is a short message fit for an operator.
	Display string
}

func (e *TransportError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("feed transport: %v", e.Err)
	}
	return fmt.Sprintf("feed transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *TransportError) DisplayMessage() string {
	if e.Display != "" {
		return e.Display
	}
	return "Lost connection to the signalling feed"
}

// NewTransportError wraps err unless it already is a TransportError.
func NewTransportError(op string, err error, display string) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err, Display: display}
}

func malformed(raw, format string, args ...any) error {
	return fmt.Errorf("%w %q: %s", ErrMalformedLine, raw, fmt.Sprintf(format, args...))
}
