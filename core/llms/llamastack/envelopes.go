package llamastack

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Both envelopes share the outer `event` object. Agent turns nest the actual
// event in `event.payload`, direct chat completions put it on `event` itself.
//
//	{"event": {"payload": {"event_type": "step_progress", "delta": {"text": "Hi"}}}}
//	{"event": {"event_type": "progress", "delta": {"text": "Hi"}}}
type streamEnvelope struct {
	Event *eventEnvelope `json:"event"`
}

type eventEnvelope struct {
	Payload *agentPayload `json:"payload"`

	EventType string     `json:"event_type"`
	Delta     *textDelta `json:"delta"`
}

type agentPayload struct {
	EventType   string       `json:"event_type"`
	Delta       *textDelta   `json:"delta"`
	StepDetails *stepDetails `json:"step_details"`
	Turn        *turn        `json:"turn"`
}

type textDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type stepDetails struct {
	StepType      string         `json:"step_type"`
	ToolResponses []ToolResponse `json:"tool_responses"`
}

type turn struct {
	OutputMessage *struct {
		Content Content `json:"content"`
	} `json:"output_message"`
}

const (
	agentEventStepProgress = "step_progress"
	agentEventStepComplete = "step_complete"
	agentEventTurnComplete = "turn_complete"

	directEventProgress = "progress"
	directEventComplete = "complete"

	stepTypeToolExecution = "tool_execution"
)

// ToolResponse is a single tool response within a tool execution step.
type ToolResponse struct {
	CallID   string  `json:"call_id"`
	ToolName string  `json:"tool_name"`
	Content  Content `json:"content"`
}

// ContentItem is one block of interleaved content.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Content is interleaved content as sent by the backend. It is either a plain
// string, a single item or a list of items and strings.
type Content []ContentItem

func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = nil
		return nil
	}

	switch data[0] {
	case '"':
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*c = Content{{Type: "text", Text: text}}
		return nil

	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		items := make(Content, 0, len(raw))
		for _, element := range raw {
			var nested Content
			if err := nested.UnmarshalJSON(element); err != nil {
				return err
			}
			items = append(items, nested...)
		}
		*c = items
		return nil

	default:
		var item ContentItem
		if err := json.Unmarshal(data, &item); err != nil {
			return err
		}
		*c = Content{item}
		return nil
	}
}

// Text joins all text items.
func (c Content) Text() string {
	var text strings.Builder
	for _, item := range c {
		if item.Type == "text" {
			text.WriteString(item.Text)
		}
	}
	return text.String()
}
