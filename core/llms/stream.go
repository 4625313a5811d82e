package llms

import (
	"context"
	"fmt"
	"iter"
)

// Stream is a decoded response stream from an inference backend. Providers
// normalise whatever envelope they receive into [StreamEvent] values so that
// consumers never have to know which upstream shape produced an event.
type Stream interface {
	Events(context.Context) iter.Seq2[StreamEvent, error]
}

// StreamEvent is one of [TextDelta], [ToolResult], [StreamComplete] or
// [Unrecognized].
type StreamEvent interface {
	streamEvent()
}

// TextDelta is an incremental fragment of assistant generated text.
type TextDelta struct {
	Text string
}

// ToolResult is the outcome of a tool execution step. Documents holds the
// document identifiers referenced by the tool responses in first-seen order.
type ToolResult struct {
	ToolName  string
	Documents []string
}

// StreamComplete signals that the backend finished the response.
type StreamComplete struct {
	// FallbackText is the complete response text as reported by the backend
	// on completion. It is only used when no deltas were streamed.
	FallbackText *string
}

// Unrecognized is a structurally valid payload that does not map to any
// known event. It is never fatal.
type Unrecognized struct {
	EventType string
	Raw       string
}

// Err describes the payload as an error wrapping [ErrUnrecognizedEvent], for
// logging and tracing.
func (u Unrecognized) Err() error {
	return fmt.Errorf("%w: event type %q", ErrUnrecognizedEvent, u.EventType)
}

func (TextDelta) streamEvent()      {}
func (ToolResult) streamEvent()     {}
func (StreamComplete) streamEvent() {}
func (Unrecognized) streamEvent()   {}

// HasFallback reports whether the completion carries usable fallback text.
func (c StreamComplete) HasFallback() bool {
	return c.FallbackText != nil && *c.FallbackText != ""
}
