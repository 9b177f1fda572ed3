package mapping

import (
	"errors"
	"fmt"
)

// ErrMapFormat is matched by every mapping validation failure.
var ErrMapFormat = errors.New("illegal map format")

// MapFormatError describes the row that failed validation.
type MapFormatError struct {
	Line   int
	Row    []string
	Reason string
}

func (e *MapFormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("mapping line %d: %s", e.Line, e.Reason)
	}
	return "mapping: " + e.Reason
}

func (e *MapFormatError) Unwrap() error {
	return ErrMapFormat
}

func formatErr(line int, row []string, format string, args ...any) error {
	return &MapFormatError{
		Line:   line,
		Row:    row,
		Reason: fmt.Sprintf(format, args...),
	}
}
