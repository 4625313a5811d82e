package orchestration

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-chat/core/events"
	"github.com/koscakluka/ema-chat/core/llms"
)

type countingBody struct {
	io.Reader
	closeFn func() error
	closes  atomic.Int32
}

func newCountingBody(r io.Reader) *countingBody {
	return &countingBody{Reader: r}
}

func (b *countingBody) Close() error {
	b.closes.Add(1)
	if b.closeFn != nil {
		return b.closeFn()
	}
	return nil
}

type recorder struct {
	mu        sync.Mutex
	snapshots []Snapshot
	errs      []error
	finalized []llms.Message
	kinds     []events.Kind
}

func (r *recorder) options() []OrchestratorOption {
	return []OrchestratorOption{
		WithTypingInterval(time.Millisecond),
		WithDrainInterval(time.Millisecond),
		WithUpdateCallback(func(s Snapshot) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.snapshots = append(r.snapshots, s)
		}),
		WithErrorCallback(func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		}),
		WithFinalizedCallback(func(m llms.Message) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.finalized = append(r.finalized, m)
		}),
		WithEventHandler(func(e events.Event) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.kinds = append(r.kinds, e.Kind())
		}),
	}
}

func lastAssistant(t *testing.T, s Snapshot) llms.Message {
	t.Helper()
	message, ok := s.Last()
	if !ok || message.Role != llms.MessageRoleAssistant {
		t.Fatalf("expected transcript to end with an assistant message, got %#v", s.Messages)
	}
	return message
}

func agentLines(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

func TestAssembleDirectScenario(t *testing.T) {
	body := newCountingBody(strings.NewReader(agentLines(
		`data:{"event":{"event_type":"progress","delta":{"text":"Hi"}}}`,
		`data:{"event":{"event_type":"progress","delta":{"text":" there"}}}`,
		`data:{"event":{"event_type":"complete"}}`,
	)))

	r := &recorder{}
	o := NewOrchestrator(r.options()...)
	if err := o.Assemble(context.Background(), body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	final := lastAssistant(t, o.Snapshot())
	if final.Content != "Hi there" || final.Stage != llms.MessageStageFinalized {
		t.Fatalf("expected finalized %q, got %q (%s)", "Hi there", final.Content, final.Stage)
	}
	if body.closes.Load() != 1 {
		t.Fatalf("expected body to be closed once, got %d", body.closes.Load())
	}
	if len(r.errs) != 0 {
		t.Fatalf("expected no errors, got %v", r.errs)
	}
	if len(r.finalized) != 1 || r.finalized[0].Content != "Hi there" {
		t.Fatalf("expected a single finalized message, got %#v", r.finalized)
	}

	sawCursor := false
	previous := ""
	for _, snapshot := range r.snapshots {
		message := lastAssistant(t, snapshot)
		content := strings.TrimSuffix(message.Content, defaultCursor)
		if content != message.Content {
			sawCursor = true
		}
		if !strings.HasPrefix(content, previous) {
			t.Fatalf("expected content to only grow, %q became %q", previous, content)
		}
		previous = content
	}
	if !sawCursor {
		t.Fatalf("expected intermediate snapshots to show the cursor")
	}
	if last := r.snapshots[len(r.snapshots)-1]; lastAssistant(t, last).Content != "Hi there" {
		t.Fatalf("expected final snapshot without cursor, got %q", lastAssistant(t, last).Content)
	}
}

func TestAssembleAgentScenarioWithCitations(t *testing.T) {
	body := newCountingBody(strings.NewReader(agentLines(
		`data: {"event":{"payload":{"event_type":"turn_start","turn_id":"t1"}}}`,
		`data: {"event":{"payload":{"event_type":"step_complete","step_details":{"step_type":"tool_execution","tool_responses":[`+
			`{"call_id":"c1","tool_name":"knowledge_search","content":[`+
			`{"type":"text","text":"Result 1 Metadata: {'file_name': 'handbook.pdf'}"},`+
			`{"type":"text","text":"Result 2 Metadata: {'file_name': 'faq.md'} {'file_name': 'handbook.pdf'}"}]}]}}}}`,
		`data: {"event":{"payload":{"event_type":"step_progress","delta":{"type":"text","text":"See the docs."}}}}`,
		`data: {"event":{"payload":{"event_type":"turn_complete","turn":{"output_message":{"content":"ignored"}}}}}`,
	)))

	r := &recorder{}
	o := NewOrchestrator(r.options()...)
	if _, err := o.SendUserMessage("Where is the vacation policy?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := o.Assemble(context.Background(), body, WithDisplayName("Support Bot")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	final := lastAssistant(t, o.Snapshot())
	want := "See the docs.\n\n**Sources:**\n1. handbook.pdf\n2. faq.md\n"
	if final.Content != want {
		t.Fatalf("expected %q, got %q", want, final.Content)
	}
	if final.DisplayName != "Support Bot" {
		t.Fatalf("expected display name override, got %q", final.DisplayName)
	}
	if strings.Count(final.Content, "**Sources:**") != 1 {
		t.Fatalf("expected a single sources block, got %q", final.Content)
	}

	citationUpdates := 0
	for _, kind := range r.kinds {
		if kind == events.KindAssistantMessageCitationsUpdated {
			citationUpdates++
		}
	}
	if citationUpdates != 1 {
		t.Fatalf("expected one citations update, got %d", citationUpdates)
	}
}

func TestAssembleAdoptsFallbackWithoutDeltas(t *testing.T) {
	body := newCountingBody(strings.NewReader(agentLines(
		`data: {"event":{"payload":{"event_type":"step_complete","step_details":{"step_type":"tool_execution","tool_responses":[`+
			`{"tool_name":"knowledge_search","content":[{"type":"text","text":"{'file_name': 'a.pdf'}"}]}]}}}}`,
		`data: {"event":{"payload":{"event_type":"turn_complete","turn":{"output_message":{"content":"Full answer"}}}}}`,
	)))

	o := NewOrchestrator(WithTypingInterval(time.Millisecond), WithDrainInterval(time.Millisecond))
	if err := o.Assemble(context.Background(), body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "Full answer\n\n**Sources:**\n1. a.pdf\n"
	if got := lastAssistant(t, o.Snapshot()).Content; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestAssembleToleratesMalformedLines(t *testing.T) {
	body := newCountingBody(strings.NewReader(agentLines(
		`data: {"event":{"event_type":"progress","delta":{"text":"A"}}}`,
		`data: {not json`,
		`: comment`,
		`data: {"event":{"event_type":"heartbeat"}}`,
		`data: {"event":{"event_type":"progress","delta":{"text":"B"}}}`,
		`data: {"event":{"event_type":"complete"}}`,
	)))

	r := &recorder{}
	o := NewOrchestrator(r.options()...)
	if err := o.Assemble(context.Background(), body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := lastAssistant(t, o.Snapshot()).Content; got != "AB" {
		t.Fatalf("expected %q, got %q", "AB", got)
	}
	if len(r.errs) != 0 {
		t.Fatalf("expected non-fatal problems not to be reported, got %v", r.errs)
	}
}

func TestAssembleIsChunkingInvariant(t *testing.T) {
	raw := "data: {\"event\":{\"event_type\":\"progress\",\"delta\":{\"text\":\"héllo \"}}}\r\n" +
		"data: {\"event\":{\"event_type\":\"progress\",\"delta\":{\"text\":\"wörld\"}}}\r\n" +
		"data: {\"event\":{\"event_type\":\"complete\"}}\r\n"

	for _, size := range []int{1, 2, 3, 7, 64, len(raw)} {
		pr, pw := io.Pipe()
		go func() {
			for start := 0; start < len(raw); start += size {
				if _, err := pw.Write([]byte(raw[start:min(start+size, len(raw))])); err != nil {
					return
				}
			}
			pw.Close()
		}()

		o := NewOrchestrator(WithTypingInterval(time.Millisecond), WithDrainInterval(time.Millisecond))
		if err := o.Assemble(context.Background(), pr); err != nil {
			t.Fatalf("chunk size %d: unexpected error: %v", size, err)
		}
		if got := lastAssistant(t, o.Snapshot()).Content; got != "héllo wörld" {
			t.Fatalf("chunk size %d: expected %q, got %q", size, "héllo wörld", got)
		}
	}
}

func TestAssembleTimesOutAndReleasesOnce(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	go func() {
		_, _ = pw.Write([]byte("data: {\"event\":{\"event_type\":\"progress\",\"delta\":{\"text\":\"partial\"}}}\n"))
	}()

	body := newCountingBody(pr)
	body.closeFn = pr.Close

	r := &recorder{}
	o := NewOrchestrator(append(r.options(), WithStreamTimeout(100*time.Millisecond))...)
	err := o.Assemble(context.Background(), body)

	if !errors.Is(err, llms.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	var streamErr *llms.StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("expected stream error, got %T", err)
	}

	final := lastAssistant(t, o.Snapshot())
	if final.Stage != llms.MessageStageErrorFinalized || !strings.Contains(final.Content, "timed out") {
		t.Fatalf("expected timed out error message, got %q (%s)", final.Content, final.Stage)
	}
	if body.closes.Load() != 1 {
		t.Fatalf("expected body to be closed exactly once, got %d", body.closes.Load())
	}
	if len(r.errs) != 1 || !errors.Is(r.errs[0], llms.ErrTimeout) {
		t.Fatalf("expected timeout reported once, got %v", r.errs)
	}
	if len(r.finalized) != 0 {
		t.Fatalf("expected no finalized callback, got %#v", r.finalized)
	}
	if o.Transcript().OpenMessage() != nil {
		t.Fatalf("expected no open message after timeout")
	}
}

func TestAssembleAbortsOnCancellation(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	body := newCountingBody(pr)
	body.closeFn = pr.Close

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o := NewOrchestrator(
		WithTypingInterval(time.Millisecond),
		WithUpdateCallback(func(s Snapshot) {
			if message, ok := s.Last(); ok && message.Stage == llms.MessageStagePending {
				cancel()
			}
		}),
	)

	err := o.Assemble(ctx, body)
	if !errors.Is(err, llms.ErrAborted) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected aborted error, got %v", err)
	}
	if got := lastAssistant(t, o.Snapshot()).Stage; got != llms.MessageStageErrorFinalized {
		t.Fatalf("expected error finalized message, got %s", got)
	}
	if body.closes.Load() != 1 {
		t.Fatalf("expected body to be closed exactly once, got %d", body.closes.Load())
	}
}

func TestAssembleEndWithoutCompletionIsTransportError(t *testing.T) {
	body := newCountingBody(strings.NewReader(`data: {"event":{"event_type":"progress","delta":{"text":"cut"}}}` + "\n"))

	r := &recorder{}
	o := NewOrchestrator(r.options()...)
	err := o.Assemble(context.Background(), body)

	if !errors.Is(err, llms.ErrTransport) || !errors.Is(err, llms.ErrUnexpectedEnd) {
		t.Fatalf("expected unexpected end transport error, got %v", err)
	}
	final := lastAssistant(t, o.Snapshot())
	if !strings.HasPrefix(final.Content, "An error occurred while generating a response: ") {
		t.Fatalf("expected error body, got %q", final.Content)
	}
	if len(r.errs) != 1 {
		t.Fatalf("expected error reported once, got %v", r.errs)
	}
}

func TestAssembleReadFailureIsTransportError(t *testing.T) {
	body := newCountingBody(io.MultiReader(
		strings.NewReader(`data: {"event":{"event_type":"progress","delta":{"text":"Hello"}}}`+"\n"),
		errReader{errors.New("connection reset")},
	))

	o := NewOrchestrator(WithTypingInterval(time.Hour))
	err := o.Assemble(context.Background(), body)

	if !errors.Is(err, llms.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !strings.Contains(lastAssistant(t, o.Snapshot()).Content, "connection reset") {
		t.Fatalf("expected error body to describe the failure")
	}
	if body.closes.Load() != 1 {
		t.Fatalf("expected body to be closed exactly once, got %d", body.closes.Load())
	}
}

func TestAssembleMissingBody(t *testing.T) {
	r := &recorder{}
	o := NewOrchestrator(r.options()...)

	err := o.Assemble(context.Background(), nil)
	if !errors.Is(err, llms.ErrMissingBody) {
		t.Fatalf("expected missing body error, got %v", err)
	}
	if len(r.errs) != 1 {
		t.Fatalf("expected error reported once, got %v", r.errs)
	}
	if len(o.Snapshot().Messages) != 0 {
		t.Fatalf("expected no placeholder for a missing body")
	}
}

func TestAssembleRejectsConcurrentResponses(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	first := newCountingBody(pr)
	first.closeFn = pr.Close

	opened := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o := NewOrchestrator(WithEventHandler(func(e events.Event) {
		if e.Kind() == events.KindAssistantMessageOpened {
			close(opened)
		}
	}))

	done := make(chan error, 1)
	go func() { done <- o.Assemble(ctx, first) }()
	<-opened

	second := newCountingBody(strings.NewReader(""))
	if err := o.Assemble(context.Background(), second); !errors.Is(err, ErrAssistantMessageOpen) {
		t.Fatalf("expected concurrent assemble to be rejected, got %v", err)
	}
	if second.closes.Load() != 1 {
		t.Fatalf("expected rejected body to be closed")
	}
	if _, err := o.SendUserMessage("too early"); !errors.Is(err, ErrAssistantMessageOpen) {
		t.Fatalf("expected user message to be rejected while assembling, got %v", err)
	}

	cancel()
	if err := <-done; !errors.Is(err, llms.ErrAborted) {
		t.Fatalf("expected first assemble to abort, got %v", err)
	}
}

func TestPackageAssemble(t *testing.T) {
	body := io.NopCloser(strings.NewReader(`data: {"event":{"event_type":"progress","delta":{"text":"ok"}}}` + "\n" +
		`data: {"event":{"event_type":"complete"}}`))

	var last Snapshot
	var errs []error
	err := Assemble(context.Background(), body,
		func(s Snapshot) { last = s },
		func(err error) { errs = append(errs, err) },
		WithTypingInterval(time.Millisecond), WithDrainInterval(time.Millisecond), WithCursor(""),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := lastAssistant(t, last).Content; got != "ok" {
		t.Fatalf("expected %q, got %q", "ok", got)
	}
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestEventOrder(t *testing.T) {
	body := io.NopCloser(strings.NewReader(`data: {"event":{"event_type":"progress","delta":{"text":"x"}}}` + "\n" +
		`data: {"event":{"event_type":"complete"}}` + "\n"))

	r := &recorder{}
	o := NewOrchestrator(r.options()...)
	if _, err := o.SendUserMessage("hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := o.Assemble(context.Background(), body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if r.kinds[0] != events.KindUserMessageSent || r.kinds[1] != events.KindAssistantMessageOpened {
		t.Fatalf("expected sent then opened, got %v", r.kinds)
	}
	if r.kinds[len(r.kinds)-1] != events.KindAssistantMessageFinalized {
		t.Fatalf("expected finalized last, got %v", r.kinds)
	}
}

func TestAssemblePanickingCallbackReleasesTranscript(t *testing.T) {
	testCases := []struct {
		name       string
		panicCalls int32
	}{
		{name: "panics once", panicCalls: 1},
		{name: "always panics", panicCalls: 1 << 30},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			var calls atomic.Int32
			o := NewOrchestrator(
				WithTypingInterval(time.Millisecond),
				WithDrainInterval(time.Millisecond),
				WithUpdateCallback(func(Snapshot) {
					if calls.Add(1) <= testCase.panicCalls {
						panic("callback exploded")
					}
				}),
			)

			body := newCountingBody(strings.NewReader(`data: {"event":{"event_type":"complete"}}` + "\n"))
			err := o.Assemble(context.Background(), body)

			var streamErr *llms.StreamError
			if !errors.As(err, &streamErr) || !strings.Contains(err.Error(), "callback exploded") {
				t.Fatalf("expected stream error carrying the panic, got %v", err)
			}
			if got := body.closes.Load(); got != 1 {
				t.Fatalf("expected body to be closed once, got %d", got)
			}
			if o.Transcript().OpenMessage() != nil {
				t.Fatalf("expected no open message after the panic")
			}
			if message := lastAssistant(t, o.Snapshot()); message.Stage != llms.MessageStageErrorFinalized {
				t.Fatalf("expected message to be error finalized, got %q", message.Stage)
			}
			if o.IsAssembling() {
				t.Fatalf("expected assembling to be cleared")
			}
		})
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
