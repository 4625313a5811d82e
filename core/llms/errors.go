package llms

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode is returned for payloads that are not valid JSON. The stream
	// continues after it.
	ErrDecode = errors.New("failed to decode stream payload")
	// ErrUnrecognizedEvent marks payloads in a known envelope with an unknown
	// event type. The stream continues after it.
	ErrUnrecognizedEvent = errors.New("unrecognized stream event")

	ErrTransport     = errors.New("stream transport failed")
	ErrUnexpectedEnd = errors.New("stream ended before completion")
	ErrTimeout       = errors.New("stream timed out")
	ErrAborted       = errors.New("stream aborted")
	ErrMissingBody   = errors.New("stream has no body")
)

// IsFatal reports whether err should terminate the message being assembled.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrDecode) && !errors.Is(err, ErrUnrecognizedEvent)
}

// StreamError is a fatal stream failure together with whatever content was
// received before it happened.
type StreamError struct {
	Partial string
	Err     error
}

func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
