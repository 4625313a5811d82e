package orchestration

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-chat/core/conversations"
	"github.com/koscakluka/ema-chat/core/llms"
)

var _ conversations.TranscriptV0 = (*activeConversation)(nil)

var (
	ErrEmptyMessage         = errors.New("message is empty")
	ErrAssistantMessageOpen = errors.New("an assistant message is still being assembled")
	ErrMessageMissing       = errors.New("message not found in transcript")
)

const (
	defaultCursor        = "▌"
	defaultAssistantName = "Bot"
	defaultAgentName     = "Agent"
)

type activeConversation struct {
	mu sync.RWMutex

	messages      []llms.Message
	openMessageID string
	welcomeID     string

	// citations are collected per turn and reset by the next user message.
	citations CitationSet

	cursor string
}

func newConversation(cursor string) activeConversation {
	return activeConversation{cursor: cursor}
}

// Snapshot is an immutable point-in-time view of the transcript. The message
// that is still being typed out ends with the cursor.
type Snapshot struct {
	Messages []llms.Message
}

// Last returns the most recent message.
func (s Snapshot) Last() (llms.Message, bool) {
	if len(s.Messages) == 0 {
		return llms.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

func (s Snapshot) Message(id string) (llms.Message, bool) {
	for _, message := range s.Messages {
		if message.ID == id {
			return message, true
		}
	}
	return llms.Message{}, false
}

func (c *activeConversation) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	messages := c.copyMessages()
	for i := range messages {
		if stage := messages[i].Stage; stage == llms.MessageStageStreaming || stage == llms.MessageStageDraining {
			messages[i].Content += c.cursor
		}
	}
	return Snapshot{Messages: messages}
}

func (c *activeConversation) Messages() []llms.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.copyMessages()
}

func (c *activeConversation) OpenMessage() *llms.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.openMessageID == "" {
		return nil
	}
	for _, message := range c.messages {
		if message.ID == c.openMessageID {
			message.Citations = slices.Clone(message.Citations)
			return &message
		}
	}
	return nil
}

func (c *activeConversation) Citations() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.citations.Values()
}

// Reset clears the transcript and optionally starts it with a welcome message.
func (c *activeConversation) Reset(welcome *llms.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.openMessageID != "" {
		return ErrAssistantMessageOpen
	}

	c.messages = nil
	c.welcomeID = ""
	c.citations.Reset()
	if welcome != nil {
		message := *welcome
		if message.ID == "" {
			message.ID = uuid.NewString()
		}
		if message.Role == "" {
			message.Role = llms.MessageRoleAssistant
		}
		message.Stage = llms.MessageStageFinalized
		c.messages = append(c.messages, message)
		c.welcomeID = message.ID
	}
	return nil
}

// ChatMessages returns the conversation as it should be sent to the backend,
// without the welcome message and failed responses.
func (c *activeConversation) ChatMessages() []llms.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	messages := make([]llms.Message, 0, len(c.messages))
	for _, message := range c.messages {
		if message.ID == c.welcomeID || message.Stage != llms.MessageStageFinalized {
			continue
		}
		messages = append(messages, message)
	}
	return llms.ToChatMessages(messages)
}

func (c *activeConversation) addUserMessage(text string) (llms.Message, error) {
	if strings.TrimSpace(text) == "" {
		return llms.Message{}, ErrEmptyMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.openMessageID != "" {
		return llms.Message{}, ErrAssistantMessageOpen
	}

	message := llms.Message{
		ID:          uuid.NewString(),
		Role:        llms.MessageRoleUser,
		Content:     text,
		DisplayName: "You",
		Stage:       llms.MessageStageFinalized,
	}
	c.messages = append(c.messages, message)
	c.citations.Reset()
	return message, nil
}

func (c *activeConversation) openAssistantMessage(displayName string) (llms.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.openMessageID != "" {
		return llms.Message{}, ErrAssistantMessageOpen
	}

	message := llms.Message{
		ID:          uuid.NewString(),
		Role:        llms.MessageRoleAssistant,
		DisplayName: displayName,
		Stage:       llms.MessageStagePending,
	}
	c.messages = append(c.messages, message)
	c.openMessageID = message.ID
	return message, nil
}

// updateMessage replaces the stored message with the same ID. A message that
// reached a terminal stage is closed and can not be updated anymore.
func (c *activeConversation) updateMessage(message llms.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range slices.Backward(c.messages) {
		if c.messages[i].ID != message.ID {
			continue
		}
		if c.messages[i].Stage.IsTerminal() {
			return fmt.Errorf("failed to update message %s: message already %s", message.ID, c.messages[i].Stage)
		}

		message.Citations = slices.Clone(message.Citations)
		c.messages[i] = message
		if message.Stage.IsTerminal() && c.openMessageID == message.ID {
			c.openMessageID = ""
		}
		return nil
	}
	return fmt.Errorf("failed to update message %s: %w", message.ID, ErrMessageMissing)
}

func (c *activeConversation) addCitations(documents ...string) (added int, citations []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	added = c.citations.Add(documents...)
	return added, c.citations.Values()
}

func (c *activeConversation) copyMessages() []llms.Message {
	messages := make([]llms.Message, 0, len(c.messages))
	if len(c.messages) == 0 {
		return messages
	}
	if err := copier.CopyWithOption(&messages, c.messages, copier.Option{DeepCopy: true}); err != nil {
		logger.Error("failed to copy transcript", "error", err)
		messages = slices.Clone(c.messages)
		for i := range messages {
			messages[i].Citations = slices.Clone(messages[i].Citations)
		}
	}
	return messages
}

// AgentWelcomeMessage greets the user on behalf of a selected agent.
func AgentWelcomeMessage(agentName string) llms.Message {
	name := agentName
	if name == "" {
		name = "your AI agent"
		agentName = defaultAgentName
	}

	return llms.Message{
		Role: llms.MessageRoleAssistant,
		Content: fmt.Sprintf("Hello! I'm %s. I have access to documents and can help answer questions "+
			"based on my knowledge base. What would you like to know?", name),
		DisplayName: agentName,
	}
}

// DirectWelcomeMessage greets the user when chatting with a model directly.
func DirectWelcomeMessage(modelID string) llms.Message {
	content := "Hello! Please select an agent to start chatting, or choose a model for direct chat."
	if modelID != "" {
		content = fmt.Sprintf("Hello! You are chatting directly with %s. What would you like to know?", modelID)
	}

	return llms.Message{
		Role:        llms.MessageRoleAssistant,
		Content:     content,
		DisplayName: defaultAssistantName,
	}
}
