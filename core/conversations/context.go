package conversations

import "github.com/koscakluka/ema-chat/core/llms"

// TranscriptV0 exposes a live, read-only view of a chat transcript.
type TranscriptV0 interface {
	// All messages. Ordering: oldest -> newest.
	Messages() []llms.Message

	// The assistant message still being assembled; nil when absent.
	OpenMessage() *llms.Message

	// Documents referenced in the current turn, in first-seen order.
	Citations() []string
}
