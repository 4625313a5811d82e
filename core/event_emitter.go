package orchestration

import (
	"github.com/koscakluka/ema-chat/core/events"
	"github.com/koscakluka/ema-chat/core/llms"
)

type eventEmitter func(events.Event)

type callbacks struct {
	onUpdate    func(Snapshot)
	onError     func(error)
	onFinalized func(llms.Message)
	onEvent     func(events.Event)
}

// newCallbackEventEmitter turns transcript events into callbacks. Every
// message event is a visible change and produces an update first.
func newCallbackEventEmitter(c callbacks) eventEmitter {
	return func(event events.Event) {
		if messageEvent, ok := event.(events.MessageEvent); ok && c.onUpdate != nil {
			c.onUpdate(Snapshot{Messages: messageEvent.About().Transcript})
		}

		switch typedEvent := event.(type) {
		case events.AssistantMessageFinalized:
			if c.onFinalized != nil {
				c.onFinalized(typedEvent.Message)
			}
		case events.AssistantMessageFailed:
			if c.onError != nil {
				c.onError(typedEvent.Err)
			}
		}

		if c.onEvent != nil {
			c.onEvent(event)
		}
	}
}
