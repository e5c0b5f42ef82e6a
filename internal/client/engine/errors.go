package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingPermissions means the API key cannot read the personal library.
	ErrMissingPermissions = errors.New("api key has no access to the personal library")
	// ErrWebDAVDeclined means the file store could not be set up; the session stops.
	ErrWebDAVDeclined = errors.New("file store is not usable")
	// ErrSessionCanceled wraps context.Canceled when a session is abandoned.
	ErrSessionCanceled = errors.New("sync session canceled")
	// ErrSessionRunning is returned by Run while another session is active.
	ErrSessionRunning = errors.New("sync session already running")
)

// Parse errors.
var (
	ErrMissingField    = errors.New("missing mandatory field")
	ErrUnknownItemType = errors.New("unknown item type")
	ErrUnknownField    = errors.New("unknown field")
	ErrInvalidPosition = errors.New("invalid annotation position")
	ErrUnknownOperator = errors.New("unknown search operator")
)

// ParseError rejects one downloaded object. Key is empty when the object had none.
type ParseError struct {
	Key string
	Err error
}

func (e *ParseError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("parse object: %v", e.Err)
	}
	return fmt.Sprintf("parse object %s: %v", e.Key, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
