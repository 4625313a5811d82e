package llms

// Message is a single entry in the chat transcript.
type Message struct {
	// ID is assigned when the message is created and never changes or gets
	// reused.
	ID   string
	Role MessageRole

	// Content is the prompt for user messages and the response for assistant
	// messages. Content of an open assistant message only grows.
	Content     string
	DisplayName string
	Stage       MessageStage

	// Citations are the documents referenced while generating an assistant
	// message, in first-seen order.
	Citations []string
}

// IsOpen reports whether the message can still change.
func (m *Message) IsOpen() bool {
	return !m.Stage.IsTerminal()
}

// MessageRole describes who the message is from
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// MessageStage is the lifecycle stage of a message. User messages are created
// final, assistant messages go through the remaining stages.
type MessageStage string

const (
	MessageStagePending        MessageStage = "pending"
	MessageStageStreaming      MessageStage = "streaming"
	MessageStageDraining       MessageStage = "draining"
	MessageStageFinalized      MessageStage = "finalized"
	MessageStageErrorFinalized MessageStage = "error_finalized"
)

func (s MessageStage) IsTerminal() bool {
	return s == MessageStageFinalized || s == MessageStageErrorFinalized
}

// ChatMessage is a message as sent to the backend.
type ChatMessage struct {
	Role       MessageRole `json:"role"`
	Content    string      `json:"content"`
	StopReason string      `json:"stop_reason,omitempty"`
}

const StopReasonEndOfMessage = "end_of_message"

// ToChatMessages converts transcript messages to backend messages. Assistant
// messages are marked as complete.
func ToChatMessages(messages []Message) []ChatMessage {
	chatMessages := make([]ChatMessage, 0, len(messages))
	for _, message := range messages {
		chatMessage := ChatMessage{Role: message.Role, Content: message.Content}
		if message.Role == MessageRoleAssistant {
			chatMessage.StopReason = StopReasonEndOfMessage
		}
		chatMessages = append(chatMessages, chatMessage)
	}
	return chatMessages
}
