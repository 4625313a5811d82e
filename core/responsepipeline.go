package orchestration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/koscakluka/ema-chat/core/events"
	"github.com/koscakluka/ema-chat/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type pipelineConfig struct {
	typingInterval time.Duration
	drainInterval  time.Duration
	streamTimeout  time.Duration
	assistantName  string
	decoder        StreamDecoder
}

type streamItem struct {
	event llms.StreamEvent
	err   error
}

// responsePipeline assembles a single assistant message from a response body.
// One goroutine reads and decodes the body, every change to the message
// happens on the goroutine calling Run.
type responsePipeline struct {
	conversation *activeConversation
	message      *activeMessage
	body         io.ReadCloser

	config pipelineConfig
	emit   eventEmitter
	logger *slog.Logger

	releaseOnce sync.Once
}

func newResponsePipeline(conversation *activeConversation, message llms.Message, body io.ReadCloser, config pipelineConfig, emit eventEmitter, logger *slog.Logger) *responsePipeline {
	return &responsePipeline{
		conversation: conversation,
		message:      newActiveMessage(message, config.typingInterval),
		body:         body,
		config:       config,
		emit:         emit,
		logger:       logger,
	}
}

// Run drives the message to a terminal stage. It returns nil once the message
// is finalized and a [*llms.StreamError] when it is error finalized. The body
// is closed exactly once before Run returns.
func (p *responsePipeline) Run(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "assemble response", trace.WithAttributes(
		attribute.String("message.id", p.message.ID),
		attribute.String("stream.timeout", p.config.streamTimeout.String()),
	))
	defer span.End()

	ctx, cancel := context.WithTimeoutCause(ctx, p.config.streamTimeout, llms.ErrTimeout)
	defer cancel()
	defer p.release()

	// Closing the body is what unblocks a pending read on cancellation
	stopRelease := context.AfterFunc(ctx, p.release)
	defer stopRelease()

	defer func() {
		if recovered := recover(); recovered != nil {
			err = p.recoverPanic(ctx, recovered)
		}
	}()

	p.emit(events.NewAssistantMessageOpened(p.message.Message, p.conversation.Snapshot().Messages))

	items := make(chan streamItem)
	go p.read(ctx, items)

	return p.loop(ctx, items)
}

func (p *responsePipeline) loop(ctx context.Context, items <-chan streamItem) error {
	var (
		drainTicker *time.Ticker
		drainC      <-chan time.Time
	)
	defer func() {
		if drainTicker != nil {
			drainTicker.Stop()
		}
		p.message.typewriter.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			return p.fail(ctx, contextError(ctx))

		case item, ok := <-items:
			if !ok {
				items = nil
				if p.message.Stage != llms.MessageStageDraining {
					return p.fail(ctx, fmt.Errorf("%w: %w", llms.ErrTransport, llms.ErrUnexpectedEnd))
				}
				continue
			}

			if err := p.handle(ctx, item); err != nil {
				return err
			}

			if p.message.Stage == llms.MessageStageDraining && drainTicker == nil {
				if p.message.IsDrained() {
					return p.finalise(ctx)
				}
				drainTicker = time.NewTicker(p.config.drainInterval)
				drainC = drainTicker.C
			}

		case <-p.message.typewriter.C():
			if p.message.Tick() {
				p.update(ctx)
			}

		case <-drainC:
			if p.message.IsDrained() {
				return p.finalise(ctx)
			}
		}
	}
}

// handle applies a single stream item and returns an error only when the
// message was error finalized because of it.
func (p *responsePipeline) handle(ctx context.Context, item streamItem) error {
	if item.err != nil {
		if !llms.IsFatal(item.err) {
			decodeWarningCounter.Add(ctx, 1)
			p.logger.WarnContext(ctx, "dropping stream payload", "error", item.err)
			return nil
		}

		err := item.err
		if ctx.Err() != nil {
			// The read failed because cancellation closed the body
			err = contextError(ctx)
		}
		return p.fail(ctx, err)
	}

	switch event := item.event.(type) {
	case llms.TextDelta:
		deltaCounter.Add(ctx, 1)
		if p.message.ApplyDelta(event.Text) {
			p.update(ctx)
		}

	case llms.ToolResult:
		added, citations := p.conversation.addCitations(event.Documents...)
		trace.SpanFromContext(ctx).AddEvent("tool result", trace.WithAttributes(
			attribute.String("tool.name", event.ToolName),
			attribute.Int("citations.added", added),
		))
		if added == 0 {
			return nil
		}
		p.message.ApplyCitations(citations)
		p.commit(ctx)
		p.emit(events.NewAssistantMessageCitationsUpdated(p.message.Message, citations, p.conversation.Snapshot().Messages))

	case llms.StreamComplete:
		trace.SpanFromContext(ctx).AddEvent("stream complete", trace.WithAttributes(
			attribute.Bool("stream.fallback_used", !p.message.receivedDelta && event.HasFallback()),
		))
		if p.message.Complete(event.FallbackText) {
			p.update(ctx)
		}

	case llms.Unrecognized:
		unrecognizedEventCounter.Add(ctx, 1)
		p.logger.DebugContext(ctx, "ignoring unrecognized stream event", "error", event.Err())
	}

	return nil
}

func (p *responsePipeline) read(ctx context.Context, items chan<- streamItem) {
	defer close(items)

	send := func(item streamItem) bool {
		select {
		case items <- item:
			return true
		case <-ctx.Done():
			return false
		}
	}

	err := runRecovered("stream reader", func() {
		for event, err := range p.config.decoder(p.body).Events(ctx) {
			if !send(streamItem{event: event, err: err}) || llms.IsFatal(err) {
				return
			}
			if _, ok := event.(llms.StreamComplete); ok {
				return
			}
		}
	})
	if err != nil {
		send(streamItem{err: fmt.Errorf("%w: %w", llms.ErrTransport, err)})
	}
}

func (p *responsePipeline) update(ctx context.Context) {
	p.commit(ctx)
	p.emit(events.NewAssistantMessageUpdated(p.message.Message, p.conversation.Snapshot().Messages))
}

func (p *responsePipeline) finalise(ctx context.Context) error {
	if !p.message.Finalise() {
		return p.message.Err()
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int("message.length", len(p.message.Content)),
		attribute.Int("message.citations", len(p.message.Citations)),
	)

	p.commit(ctx)
	p.emit(events.NewAssistantMessageFinalized(p.message.Message, p.conversation.Snapshot().Messages))
	return nil
}

func (p *responsePipeline) fail(ctx context.Context, err error) error {
	partial := p.message.Content
	if !p.message.Fail(err, p.config.streamTimeout) {
		return p.message.Err()
	}

	streamErr := &llms.StreamError{Partial: partial, Err: err}
	span := trace.SpanFromContext(ctx)
	span.RecordError(streamErr)
	span.SetStatus(codes.Error, streamErr.Error())
	p.logger.ErrorContext(ctx, "failed to assemble response", "error", err, "partial_length", len(partial))

	p.commit(ctx)
	p.emit(events.NewAssistantMessageFailed(p.message.Message, streamErr, p.conversation.Snapshot().Messages))
	return streamErr
}

// recoverPanic error finalizes the message after a panic, e.g. in a caller
// callback. A callback that panics again while the failure is reported
// cannot keep the message open.
func (p *responsePipeline) recoverPanic(ctx context.Context, recovered any) (err error) {
	panicErr := fmt.Errorf("response pipeline panicked: %v", recovered)
	partial := p.message.Content

	if reportErr := runRecovered("failure report", func() { err = p.fail(ctx, panicErr) }); reportErr != nil {
		p.logger.ErrorContext(ctx, "failed to report response failure", "error", reportErr)
		if p.message.Stage != llms.MessageStageErrorFinalized {
			p.message.Fail(panicErr, p.config.streamTimeout)
			p.commit(ctx)
		}
		return &llms.StreamError{Partial: partial, Err: panicErr}
	}
	return err
}

func (p *responsePipeline) commit(ctx context.Context) {
	if err := p.conversation.updateMessage(p.message.Message); err != nil {
		p.logger.ErrorContext(ctx, "failed to update transcript", "error", err)
	}
}

func (p *responsePipeline) release() {
	p.releaseOnce.Do(func() {
		if err := p.body.Close(); err != nil {
			p.logger.Debug("failed to close response body", "error", err)
		}
	})
}

// contextError distinguishes the stream timeout from the caller cancelling.
func contextError(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, llms.ErrTimeout) {
		return cause
	}
	return fmt.Errorf("%w: %w", llms.ErrAborted, cause)
}
