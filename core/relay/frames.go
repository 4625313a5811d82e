package relay

import (
	"time"

	"github.com/invopop/jsonschema"
	"github.com/koscakluka/ema-chat/core/events"
	"github.com/koscakluka/ema-chat/core/llms"
)

// Frame is a transcript event as sent to relay subscribers.
type Frame struct {
	Kind       string         `json:"kind" jsonschema:"enum=user_message.sent,enum=assistant_message.opened,enum=assistant_message.updated,enum=assistant_message.citations_updated,enum=assistant_message.finalized,enum=assistant_message.failed"`
	Timestamp  time.Time      `json:"timestamp"`
	Message    MessageFrame   `json:"message"`
	Citations  []string       `json:"citations,omitempty"`
	Error      string         `json:"error,omitempty"`
	Transcript []MessageFrame `json:"transcript,omitempty"`
}

type MessageFrame struct {
	ID          string   `json:"id"`
	Role        string   `json:"role" jsonschema:"enum=user,enum=assistant"`
	Content     string   `json:"content"`
	DisplayName string   `json:"display_name,omitempty"`
	Stage       string   `json:"stage" jsonschema:"enum=pending,enum=streaming,enum=draining,enum=finalized,enum=error_finalized"`
	Citations   []string `json:"citations,omitempty"`
}

// FrameFromEvent converts a transcript event. Events that are not part of the
// transcript contract are reported as not ok.
func FrameFromEvent(event events.Event) (Frame, bool) {
	messageEvent, ok := event.(events.MessageEvent)
	if !ok {
		return Frame{}, false
	}

	subject := messageEvent.About()
	frame := Frame{
		Kind:      string(event.Kind()),
		Timestamp: event.Timestamp(),
		Message:   newMessageFrame(subject.Message),
	}
	for _, message := range subject.Transcript {
		frame.Transcript = append(frame.Transcript, newMessageFrame(message))
	}

	switch typedEvent := event.(type) {
	case events.AssistantMessageCitationsUpdated:
		frame.Citations = typedEvent.Citations
	case events.AssistantMessageFailed:
		if typedEvent.Err != nil {
			frame.Error = typedEvent.Err.Error()
		}
	}
	return frame, true
}

func newMessageFrame(message llms.Message) MessageFrame {
	return MessageFrame{
		ID:          message.ID,
		Role:        string(message.Role),
		Content:     message.Content,
		DisplayName: message.DisplayName,
		Stage:       string(message.Stage),
		Citations:   message.Citations,
	}
}

// Schema describes [Frame] for subscribers.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true}
	return reflector.Reflect(&Frame{})
}
