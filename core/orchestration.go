package orchestration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/koscakluka/ema-chat/core/conversations"
	"github.com/koscakluka/ema-chat/core/events"
	"github.com/koscakluka/ema-chat/core/llms"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Orchestrator owns a chat transcript and assembles streamed assistant
// responses into it. At most one response is assembled at a time.
type Orchestrator struct {
	conversation activeConversation

	config    pipelineConfig
	callbacks callbacks
	emit      eventEmitter
	logger    *slog.Logger

	assembling atomic.Bool
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		conversation: newConversation(defaultCursor),
		config: pipelineConfig{
			typingInterval: defaultTypingInterval,
			drainInterval:  defaultDrainInterval,
			streamTimeout:  defaultStreamTimeout,
			assistantName:  defaultAssistantName,
			decoder:        defaultStreamDecoder,
		},
		logger: logger,
	}

	for _, opt := range opts {
		opt(o)
	}
	o.emit = newCallbackEventEmitter(o.callbacks)

	return o
}

// Assemble is a one-shot helper that assembles a single response into a fresh
// transcript. onUpdate receives a snapshot after every visible change and
// onError is called once if the response fails.
func Assemble(ctx context.Context, body io.ReadCloser, onUpdate func(Snapshot), onError func(error), opts ...OrchestratorOption) error {
	opts = append(opts, WithUpdateCallback(onUpdate), WithErrorCallback(onError))
	return NewOrchestrator(opts...).Assemble(ctx, body)
}

// Reset clears the transcript, starting it with welcome if it is not nil. It
// fails while a response is being assembled.
func (o *Orchestrator) Reset(welcome *llms.Message) error {
	return o.conversation.Reset(welcome)
}

// SendUserMessage appends a user message and starts a new turn, which clears
// the collected citations.
func (o *Orchestrator) SendUserMessage(text string) (llms.Message, error) {
	message, err := o.conversation.addUserMessage(text)
	if err != nil {
		return llms.Message{}, fmt.Errorf("failed to send user message: %w", err)
	}

	o.emit(events.NewUserMessageSent(message, o.conversation.Snapshot().Messages))
	return message, nil
}

// Assemble opens an assistant message and fills it from body until the
// response completes, fails, times out or ctx is cancelled. body is closed
// before Assemble returns.
//
// Fatal failures error finalize the message, are reported once through the
// error callback and are returned as [*llms.StreamError].
func (o *Orchestrator) Assemble(ctx context.Context, body io.ReadCloser, opts ...AssembleOption) error {
	if body == nil {
		err := fmt.Errorf("failed to assemble response: %w", llms.ErrMissingBody)
		if o.callbacks.onError != nil {
			o.callbacks.onError(err)
		}
		return err
	}

	if !o.assembling.CompareAndSwap(false, true) {
		if err := body.Close(); err != nil {
			o.logger.Debug("failed to close rejected response body", "error", err)
		}
		return fmt.Errorf("failed to assemble response: %w", ErrAssistantMessageOpen)
	}
	defer o.assembling.Store(false)

	options := AssembleOptions{displayName: o.config.assistantName}
	for _, opt := range opts {
		opt(&options)
	}

	message, err := o.conversation.openAssistantMessage(options.displayName)
	if err != nil {
		if closeErr := body.Close(); closeErr != nil {
			o.logger.Debug("failed to close rejected response body", "error", closeErr)
		}
		recordedErr := fmt.Errorf("failed to open assistant message: %w", err)
		span := trace.SpanFromContext(ctx)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		return recordedErr
	}
	return newResponsePipeline(&o.conversation, message, body, o.config, o.emit, o.logger).Run(ctx)
}

// Snapshot returns an immutable copy of the transcript.
func (o *Orchestrator) Snapshot() Snapshot {
	return o.conversation.Snapshot()
}

// Transcript gives live read access to the transcript.
func (o *Orchestrator) Transcript() conversations.TranscriptV0 {
	return &o.conversation
}

// ChatMessages returns the finalized conversation in the shape the backend
// expects.
func (o *Orchestrator) ChatMessages() []llms.ChatMessage {
	return o.conversation.ChatMessages()
}

func (o *Orchestrator) IsAssembling() bool {
	return o.assembling.Load()
}
