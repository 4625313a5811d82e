package orchestration

import (
	"io"
	"log/slog"
	"time"

	"github.com/koscakluka/ema-chat/core/events"
	"github.com/koscakluka/ema-chat/core/llms"
	"github.com/koscakluka/ema-chat/core/llms/llamastack"
)

const (
	defaultDrainInterval = 20 * time.Millisecond
	defaultStreamTimeout = 30 * time.Second
)

type OrchestratorOption func(*Orchestrator)

// StreamDecoder turns an open response body into canonical stream events.
type StreamDecoder func(body io.Reader) llms.Stream

func defaultStreamDecoder(body io.Reader) llms.Stream {
	return llamastack.NewStream(body)
}

// WithStreamDecoder replaces the Llama Stack decoder used for response
// bodies.
func WithStreamDecoder(decoder StreamDecoder) OrchestratorOption {
	return func(o *Orchestrator) {
		if decoder != nil {
			o.config.decoder = decoder
		}
	}
}

// WithTypingInterval sets how often a single queued character is revealed.
func WithTypingInterval(interval time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if interval > 0 {
			o.config.typingInterval = interval
		}
	}
}

// WithDrainInterval sets how often a completed stream checks whether
// everything was typed out.
func WithDrainInterval(interval time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if interval > 0 {
			o.config.drainInterval = interval
		}
	}
}

// WithStreamTimeout bounds the total time from opening the assistant message
// to finalizing it.
func WithStreamTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.config.streamTimeout = timeout
		}
	}
}

// WithAssistantName sets the default display name of assistant messages.
func WithAssistantName(name string) OrchestratorOption {
	return func(o *Orchestrator) { o.config.assistantName = name }
}

// WithCursor sets the marker shown after content that is still being typed.
// An empty cursor disables it.
func WithCursor(cursor string) OrchestratorOption {
	return func(o *Orchestrator) { o.conversation.cursor = cursor }
}

func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithUpdateCallback registers a callback receiving a transcript snapshot
// after every visible change.
func WithUpdateCallback(callback func(Snapshot)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onUpdate = callback }
}

// WithErrorCallback registers a callback for fatal stream errors. It is called
// at most once per assembled message.
func WithErrorCallback(callback func(error)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onError = callback }
}

// WithFinalizedCallback registers a callback for messages that finished
// successfully.
func WithFinalizedCallback(callback func(llms.Message)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onFinalized = callback }
}

// WithEventHandler registers a handler receiving every typed transcript
// event, after the callbacks.
func WithEventHandler(handler func(events.Event)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onEvent = handler }
}

type AssembleOptions struct {
	displayName string
}

type AssembleOption func(*AssembleOptions)

// WithDisplayName overrides the assistant name for a single message, e.g. to
// show the selected agent.
func WithDisplayName(name string) AssembleOption {
	return func(o *AssembleOptions) { o.displayName = name }
}
