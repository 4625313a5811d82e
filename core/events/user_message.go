package events

import "github.com/koscakluka/ema-chat/core/llms"

// KindUserMessageSent identifies a submitted user message.
const KindUserMessageSent Kind = "user_message.sent"

// UserMessageSent carries the message that started a new turn.
type UserMessageSent struct {
	Base
	Subject
}

// NewUserMessageSent creates a user message sent event.
func NewUserMessageSent(message llms.Message, transcript []llms.Message) UserMessageSent {
	return UserMessageSent{Base: NewBase(KindUserMessageSent), Subject: Subject{Message: message, Transcript: transcript}}
}
