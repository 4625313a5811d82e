package events

import (
	"time"

	"github.com/koscakluka/ema-chat/core/llms"
)

type Kind string

type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

// MessageEvent is an event about a single transcript message.
type MessageEvent interface {
	Event
	About() Subject
}

type Base struct {
	kind      Kind
	timestamp time.Time
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, timestamp: time.Now()}
}

func (b Base) Kind() Kind {
	return b.kind
}

func (b Base) Timestamp() time.Time {
	return b.timestamp
}

// Subject is the message an event is about together with the transcript as
// it looked when the event was emitted.
type Subject struct {
	Message    llms.Message
	Transcript []llms.Message
}

func (s Subject) About() Subject {
	return s
}
