package llamastack

import (
	"encoding/json"
	"fmt"

	"github.com/koscakluka/ema-chat/core/llms"
)

// Interpret classifies a single payload into one of the canonical stream
// events. Payloads that are not valid JSON return an error wrapping
// [llms.ErrDecode]; anything else that cannot be classified comes back as
// [llms.Unrecognized].
func Interpret(payload string) (llms.StreamEvent, error) {
	var raw any
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", llms.ErrDecode, err)
	}
	object, ok := raw.(map[string]any)
	if !ok {
		return llms.Unrecognized{Raw: payload}, nil
	}
	// encoding/json matches keys case-insensitively, the envelope keys are
	// checked on the raw object so only the exact spelling is classified.
	rawEvent, ok := object["event"].(map[string]any)
	if !ok {
		return llms.Unrecognized{Raw: payload}, nil
	}

	var envelope streamEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil || envelope.Event == nil {
		// Valid JSON in a shape we don't know
		return llms.Unrecognized{Raw: payload}, nil
	}

	if rawPayload, ok := rawEvent["payload"].(map[string]any); ok && envelope.Event.Payload != nil {
		envelope.Event.Payload.EventType = exactString(rawPayload, "event_type")
		return interpretAgentEvent(envelope.Event.Payload, payload), nil
	}
	envelope.Event.EventType = exactString(rawEvent, "event_type")
	return interpretDirectEvent(envelope.Event, payload), nil
}

func exactString(object map[string]any, key string) string {
	value, _ := object[key].(string)
	return value
}

func interpretAgentEvent(event *agentPayload, raw string) llms.StreamEvent {
	switch event.EventType {
	case agentEventStepProgress:
		if event.Delta != nil && event.Delta.Text != "" {
			return llms.TextDelta{Text: event.Delta.Text}
		}

	case agentEventStepComplete:
		if details := event.StepDetails; details != nil && details.StepType == stepTypeToolExecution && len(details.ToolResponses) > 0 {
			return llms.ToolResult{
				ToolName:  toolResultName(details.ToolResponses),
				Documents: ExtractCitations(details.ToolResponses),
			}
		}

	case agentEventTurnComplete:
		complete := llms.StreamComplete{}
		if event.Turn != nil && event.Turn.OutputMessage != nil {
			if text := event.Turn.OutputMessage.Content.Text(); text != "" {
				complete.FallbackText = &text
			}
		}
		return complete
	}

	return llms.Unrecognized{EventType: event.EventType, Raw: raw}
}

func interpretDirectEvent(event *eventEnvelope, raw string) llms.StreamEvent {
	switch event.EventType {
	case directEventProgress:
		if event.Delta != nil && event.Delta.Text != "" {
			return llms.TextDelta{Text: event.Delta.Text}
		}

	case directEventComplete:
		return llms.StreamComplete{}
	}

	return llms.Unrecognized{EventType: event.EventType, Raw: raw}
}

// toolResultName prefers the retrieval tool since that is the only one we
// take citations from.
func toolResultName(responses []ToolResponse) string {
	for _, response := range responses {
		if response.ToolName == KnowledgeSearchToolName {
			return response.ToolName
		}
	}
	return responses[0].ToolName
}
