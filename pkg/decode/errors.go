package decode

import (
	"errors"
	"fmt"
)

// ErrDecode is matched by every *Error via errors.Is.
var ErrDecode = errors.New("decode error")

// Error describes a payload field that could not be normalized.
type Error struct {
	Field  string
	Value  any
	Reason string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode: %s", e.Reason)
	}
	return fmt.Sprintf("decode %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *Error) Is(target error) bool { return target == ErrDecode }

func newError(field string, value any, reason string) error {
	return &Error{Field: field, Value: value, Reason: reason}
}
