package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/pinpoint-labs/pinpoint/internal/threads"
)

// MergeResult reports what applying one event did to the cached thread list.
type MergeResult struct {
	// Changed is true when the cached state was modified.
	Changed bool
	// ReloadRequired is true for events whose payload does not carry enough
	// state to patch locally; the caller should refetch the thread list.
	ReloadRequired bool
}

// ApplyEvent merges a received event into the cached thread list in place.
// The merge is idempotent: replaying the same event, as happens when a
// reconnect overlaps a missed-window replay, leaves the state unchanged.
// Events that target threads or messages absent from the cache are dropped
// silently since a subsequent reload will converge the cache anyway.
func ApplyEvent(cache []threads.ThreadPayload, event Event) (MergeResult, error) {
	switch event.Op {
	case threads.EventThreadCreated, threads.EventThreadUpdated:
		return MergeResult{ReloadRequired: true}, nil
	case threads.EventMessageAdded:
		var payload threads.MessagePayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return MergeResult{}, fmt.Errorf("realtime: decode %s: %w", event.Op, err)
		}
		return mergeMessageAdded(cache, payload), nil
	case threads.EventMessageEdited:
		var payload threads.MessagePayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return MergeResult{}, fmt.Errorf("realtime: decode %s: %w", event.Op, err)
		}
		return mergeMessageEdited(cache, payload), nil
	case threads.EventMessageDeleted:
		var payload threads.MessageDeletedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return MergeResult{}, fmt.Errorf("realtime: decode %s: %w", event.Op, err)
		}
		return mergeMessageDeleted(cache, payload), nil
	case threads.EventReactionAdded:
		var payload threads.ReactionEventPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return MergeResult{}, fmt.Errorf("realtime: decode %s: %w", event.Op, err)
		}
		return mergeReactionAdded(cache, payload), nil
	case threads.EventReactionRemoved:
		var payload threads.ReactionEventPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return MergeResult{}, fmt.Errorf("realtime: decode %s: %w", event.Op, err)
		}
		return mergeReactionRemoved(cache, payload), nil
	default:
		// Unknown ops from a newer server version are skipped, not fatal.
		return MergeResult{}, nil
	}
}

func mergeMessageAdded(cache []threads.ThreadPayload, payload threads.MessagePayload) MergeResult {
	thread := findThread(cache, payload.ThreadID)
	if thread == nil {
		return MergeResult{}
	}
	if findMessage(thread, payload.ID) != nil {
		return MergeResult{}
	}
	thread.Messages = append(thread.Messages, payload)
	thread.MessageCount++
	if thread.MessageCount == 1 {
		thread.FirstMessageContent = payload.Content
	}
	return MergeResult{Changed: true}
}

func mergeMessageEdited(cache []threads.ThreadPayload, payload threads.MessagePayload) MergeResult {
	thread := findThread(cache, payload.ThreadID)
	if thread == nil {
		return MergeResult{}
	}
	message := findMessage(thread, payload.ID)
	if message == nil {
		return MergeResult{}
	}
	if message.Content == payload.Content && message.Edited == payload.Edited {
		return MergeResult{}
	}
	message.Content = payload.Content
	message.Mentions = payload.Mentions
	message.Edited = payload.Edited
	if len(thread.Messages) > 0 && thread.Messages[0].ID == message.ID {
		thread.FirstMessageContent = payload.Content
	}
	return MergeResult{Changed: true}
}

func mergeMessageDeleted(cache []threads.ThreadPayload, payload threads.MessageDeletedPayload) MergeResult {
	thread := findThread(cache, payload.ThreadID)
	if thread == nil {
		return MergeResult{}
	}
	for index, message := range thread.Messages {
		if message.ID == payload.MessageID {
			thread.Messages = append(thread.Messages[:index], thread.Messages[index+1:]...)
			if thread.MessageCount > 0 {
				thread.MessageCount--
			}
			return MergeResult{Changed: true}
		}
	}
	return MergeResult{}
}

func mergeReactionAdded(cache []threads.ThreadPayload, payload threads.ReactionEventPayload) MergeResult {
	message := findThreadMessage(cache, payload.ThreadID, payload.MessageID)
	if message == nil {
		return MergeResult{}
	}
	for _, reaction := range message.Reactions {
		if reaction.UserID == payload.UserID && reaction.Emoji == payload.Emoji {
			return MergeResult{}
		}
	}
	message.Reactions = append(message.Reactions, threads.ReactionPayload{
		Emoji:  payload.Emoji,
		UserID: payload.UserID,
	})
	return MergeResult{Changed: true}
}

func mergeReactionRemoved(cache []threads.ThreadPayload, payload threads.ReactionEventPayload) MergeResult {
	message := findThreadMessage(cache, payload.ThreadID, payload.MessageID)
	if message == nil {
		return MergeResult{}
	}
	for index, reaction := range message.Reactions {
		if reaction.UserID == payload.UserID && reaction.Emoji == payload.Emoji {
			message.Reactions = append(message.Reactions[:index], message.Reactions[index+1:]...)
			return MergeResult{Changed: true}
		}
	}
	return MergeResult{}
}

func findThread(cache []threads.ThreadPayload, threadID string) *threads.ThreadPayload {
	for index := range cache {
		if cache[index].ID == threadID {
			return &cache[index]
		}
	}
	return nil
}

func findMessage(thread *threads.ThreadPayload, messageID string) *threads.MessagePayload {
	for index := range thread.Messages {
		if thread.Messages[index].ID == messageID {
			return &thread.Messages[index]
		}
	}
	return nil
}

func findThreadMessage(cache []threads.ThreadPayload, threadID, messageID string) *threads.MessagePayload {
	thread := findThread(cache, threadID)
	if thread == nil {
		return nil
	}
	return findMessage(thread, messageID)
}
