package orchestration

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/koscakluka/ema-chat/core/llms"
)

// activeMessage is the assistant message currently being assembled. It moves
// through pending, streaming and draining to either finalized or
// error_finalized. Once terminal it ignores everything.
type activeMessage struct {
	llms.Message

	typewriter *typewriter

	// receivedDelta is set by the first text delta of the turn and decides
	// whether fallback text from the completion event is used.
	receivedDelta bool
	err           error
}

func newActiveMessage(message llms.Message, typingInterval time.Duration) *activeMessage {
	return &activeMessage{
		Message:    message,
		typewriter: newTypewriter(typingInterval),
	}
}

// ApplyDelta queues text for typing and reports whether the stage changed.
func (m *activeMessage) ApplyDelta(text string) bool {
	if m.Stage.IsTerminal() || text == "" {
		return false
	}

	m.receivedDelta = true
	m.typewriter.Push(text)
	m.typewriter.EnsureRunning()

	if m.Stage == llms.MessageStagePending {
		m.Stage = llms.MessageStageStreaming
		return true
	}
	return false
}

func (m *activeMessage) ApplyCitations(citations []string) {
	if m.Stage.IsTerminal() {
		return
	}
	m.Citations = slices.Clone(citations)
}

// Complete marks the end of the upstream stream. Fallback text replaces the
// content only if no delta arrived in this turn.
func (m *activeMessage) Complete(fallbackText *string) bool {
	if m.Stage.IsTerminal() || m.Stage == llms.MessageStageDraining {
		return false
	}

	if !m.receivedDelta && fallbackText != nil && *fallbackText != "" {
		m.Content = *fallbackText
	}
	m.Stage = llms.MessageStageDraining
	return true
}

// Tick types out the next queued character.
func (m *activeMessage) Tick() bool {
	if m.Stage.IsTerminal() {
		m.typewriter.Stop()
		return false
	}

	r, ok := m.typewriter.Tick()
	if !ok {
		return false
	}
	m.Content += string(r)
	return true
}

func (m *activeMessage) IsDrained() bool {
	return m.Stage == llms.MessageStageDraining && m.typewriter.Len() == 0
}

// Finalise appends the sources list and fixes the content.
func (m *activeMessage) Finalise() bool {
	if m.Stage.IsTerminal() {
		return false
	}

	m.Content += m.typewriter.Drain()
	m.Content += formatSources(m.Citations)
	m.Stage = llms.MessageStageFinalized
	return true
}

// Fail replaces the content with a human-readable error.
func (m *activeMessage) Fail(err error, timeout time.Duration) bool {
	if m.Stage.IsTerminal() {
		return false
	}

	m.typewriter.Drain()
	m.err = err
	m.Content = errorMessageBody(err, timeout)
	m.Stage = llms.MessageStageErrorFinalized
	return true
}

func (m *activeMessage) Err() error {
	return m.err
}

func errorMessageBody(err error, timeout time.Duration) string {
	switch {
	case errors.Is(err, llms.ErrTimeout):
		return fmt.Sprintf("The response timed out after %s. Please try again.", timeout)
	case errors.Is(err, llms.ErrAborted):
		return "The response was cancelled before it finished."
	default:
		return fmt.Sprintf("An error occurred while generating a response: %v", err)
	}
}
