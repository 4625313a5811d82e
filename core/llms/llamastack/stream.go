package llamastack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/koscakluka/ema-chat/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultReadSize = 4 * 1024

var _ llms.Stream = (*Stream)(nil)

// Stream decodes an already open Llama Stack response body. It does not own
// the body, closing it is up to the caller.
type Stream struct {
	body     io.Reader
	readSize int
}

func NewStream(body io.Reader) *Stream {
	return &Stream{body: body, readSize: defaultReadSize}
}

// Events reads the body until it ends or fails and yields the interpreted
// events in arrival order. Undecodable payloads are yielded as errors
// wrapping [llms.ErrDecode] and reading continues; a read failure is yielded
// as an error wrapping [llms.ErrTransport] and ends the iteration. The
// iteration ends without an error when the body is exhausted.
func (s *Stream) Events(ctx context.Context) iter.Seq2[llms.StreamEvent, error] {
	return func(yield func(llms.StreamEvent, error) bool) {
		_, span := tracer.Start(ctx, "read llama stack stream")
		defer span.End()

		var payloadCount, decodeErrorCount int
		defer func() {
			span.SetAttributes(
				attribute.Int("stream.payloads", payloadCount),
				attribute.Int("stream.decode_errors", decodeErrorCount),
			)
		}()

		emit := func(payloads []string) bool {
			for _, payload := range payloads {
				payloadCount++
				event, err := Interpret(payload)
				if err != nil {
					decodeErrorCount++
					span.RecordError(err)
				}
				if !yield(event, err) {
					return false
				}
			}
			return true
		}

		decoder := FrameDecoder{}
		buf := make([]byte, s.readSize)
		for {
			if err := ctx.Err(); err != nil {
				err = fmt.Errorf("%w: %w", llms.ErrAborted, context.Cause(ctx))
				span.SetStatus(codes.Error, err.Error())
				yield(nil, err)
				return
			}

			n, err := s.body.Read(buf)
			if n > 0 && !emit(decoder.Feed(buf[:n])) {
				return
			}

			if errors.Is(err, io.EOF) {
				emit(decoder.Flush())
				return
			} else if err != nil {
				err = fmt.Errorf("%w: error reading streamed response: %w", llms.ErrTransport, err)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				yield(nil, err)
				return
			}
		}
	}
}
