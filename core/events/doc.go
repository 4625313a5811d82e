// Package events defines the typed transcript event contract.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - user_message.*
//   - assistant_message.*
//
// Every event carries the message it is about and the full transcript as it
// looked when the event was emitted. Both are copies and can be kept by the
// receiver.
//
// user_message events
//
//   - UserMessageSent (user_message.sent): a user message was appended and a
//     new turn started.
//
// assistant_message events
//
//   - AssistantMessageOpened (assistant_message.opened): an empty assistant
//     placeholder was appended.
//   - AssistantMessageUpdated (assistant_message.updated): more content was
//     typed out or the message moved to another open stage.
//   - AssistantMessageCitationsUpdated (assistant_message.citations_updated):
//     new documents were referenced in the current turn.
//   - AssistantMessageFinalized (assistant_message.finalized): terminal
//     content, including the sources list when citations were collected.
//   - AssistantMessageFailed (assistant_message.failed): terminal error
//     content and the failure that caused it.
package events
