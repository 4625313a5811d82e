package events

import "github.com/koscakluka/ema-chat/core/llms"

const (
	// KindAssistantMessageOpened identifies a new assistant placeholder.
	KindAssistantMessageOpened Kind = "assistant_message.opened"
	// KindAssistantMessageUpdated identifies typed out content or stage changes.
	KindAssistantMessageUpdated Kind = "assistant_message.updated"
	// KindAssistantMessageCitationsUpdated identifies new turn citations.
	KindAssistantMessageCitationsUpdated Kind = "assistant_message.citations_updated"
	// KindAssistantMessageFinalized identifies successful completion.
	KindAssistantMessageFinalized Kind = "assistant_message.finalized"
	// KindAssistantMessageFailed identifies termination with an error.
	KindAssistantMessageFailed Kind = "assistant_message.failed"
)

// AssistantMessageOpened carries the empty assistant placeholder.
type AssistantMessageOpened struct {
	Base
	Subject
}

// NewAssistantMessageOpened creates an assistant message opened event.
func NewAssistantMessageOpened(message llms.Message, transcript []llms.Message) AssistantMessageOpened {
	return AssistantMessageOpened{Base: NewBase(KindAssistantMessageOpened), Subject: Subject{Message: message, Transcript: transcript}}
}

// AssistantMessageUpdated carries a point-in-time view of the open message.
type AssistantMessageUpdated struct {
	Base
	Subject
}

// NewAssistantMessageUpdated creates an assistant message updated event.
func NewAssistantMessageUpdated(message llms.Message, transcript []llms.Message) AssistantMessageUpdated {
	return AssistantMessageUpdated{Base: NewBase(KindAssistantMessageUpdated), Subject: Subject{Message: message, Transcript: transcript}}
}

// AssistantMessageCitationsUpdated carries all citations collected in the
// current turn so far.
type AssistantMessageCitationsUpdated struct {
	Base
	Subject
	Citations []string
}

// NewAssistantMessageCitationsUpdated creates a citations updated event.
func NewAssistantMessageCitationsUpdated(message llms.Message, citations []string, transcript []llms.Message) AssistantMessageCitationsUpdated {
	return AssistantMessageCitationsUpdated{
		Base:       NewBase(KindAssistantMessageCitationsUpdated),
		Subject:   Subject{Message: message, Transcript: transcript},
		Citations: citations,
	}
}

// AssistantMessageFinalized carries the terminal message content.
type AssistantMessageFinalized struct {
	Base
	Subject
}

// NewAssistantMessageFinalized creates an assistant message finalized event.
func NewAssistantMessageFinalized(message llms.Message, transcript []llms.Message) AssistantMessageFinalized {
	return AssistantMessageFinalized{Base: NewBase(KindAssistantMessageFinalized), Subject: Subject{Message: message, Transcript: transcript}}
}

// AssistantMessageFailed carries the error finalized message and the failure
// that caused it.
type AssistantMessageFailed struct {
	Base
	Subject
	Err error
}

// NewAssistantMessageFailed creates an assistant message failed event.
func NewAssistantMessageFailed(message llms.Message, err error, transcript []llms.Message) AssistantMessageFailed {
	return AssistantMessageFailed{Base: NewBase(KindAssistantMessageFailed), Subject: Subject{Message: message, Transcript: transcript}, Err: err}
}
