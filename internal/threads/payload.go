package threads

// Realtime event operations pushed by the thread API. Message and reaction
// events are applied as idempotent patches on the client; thread events
// trigger a full list reload because their payload shape varies by cause.
const (
	EventMessageAdded    = "message:added"
	EventMessageEdited   = "message:edited"
	EventMessageDeleted  = "message:deleted"
	EventReactionAdded   = "reaction:added"
	EventReactionRemoved = "reaction:removed"
	EventThreadCreated   = "thread:created"
	EventThreadUpdated   = "thread:updated"
)

// ThreadPayload is the wire shape of a thread. List loads carry the summary
// fields (message_count, first_message_content) without messages; detail
// loads carry the full message slice.
type ThreadPayload struct {
	ID                  string           `json:"id"`
	Repo                string           `json:"repo"`
	Branch              string           `json:"branch,omitempty"`
	ContextType         ContextType      `json:"context_type"`
	Selector            string           `json:"selector,omitempty"`
	XPath               string           `json:"xpath,omitempty"`
	Coordinates         *Coordinates     `json:"coordinates,omitempty"`
	FilePath            string           `json:"file_path,omitempty"`
	LineStart           int              `json:"line_start,omitempty"`
	LineEnd             int              `json:"line_end,omitempty"`
	Status              Status           `json:"status"`
	Priority            Priority         `json:"priority"`
	CreatedBy           string           `json:"created_by"`
	CreatedAtSeconds    int64            `json:"created_at_s"`
	UpdatedAtSeconds    int64            `json:"updated_at_s"`
	MessageCount        int              `json:"message_count"`
	FirstMessageContent string           `json:"first_message_content,omitempty"`
	Messages            []MessagePayload `json:"messages,omitempty"`
}

// MessagePayload is the wire shape of a message, reactions included.
type MessagePayload struct {
	ID               string            `json:"id"`
	ThreadID         string            `json:"thread_id"`
	ParentMessageID  string            `json:"parent_message_id,omitempty"`
	AuthorID         string            `json:"author_id"`
	Content          string            `json:"content"`
	Mentions         []string          `json:"mentions,omitempty"`
	Edited           bool              `json:"edited"`
	CreatedAtSeconds int64             `json:"created_at_s"`
	Reactions        []ReactionPayload `json:"reactions,omitempty"`
}

// ReactionPayload is the wire shape of one reaction record.
type ReactionPayload struct {
	Emoji  string `json:"emoji"`
	UserID string `json:"user_id"`
}

// ReactionEventPayload is the wire shape of reaction realtime events.
type ReactionEventPayload struct {
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
}

// ThreadEventPayload is the wire shape of thread realtime events.
type ThreadEventPayload struct {
	ThreadID string `json:"thread_id"`
}

// MessageDeletedPayload is the wire shape of message:deleted events.
type MessageDeletedPayload struct {
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
}

func threadPayload(model Thread) ThreadPayload {
	return ThreadPayload{
		ID:               model.ID,
		Repo:             model.Repo,
		Branch:           model.Branch,
		ContextType:      ContextType(model.ContextType),
		Selector:         model.Selector,
		XPath:            model.XPath,
		Coordinates:      model.Coordinates(),
		FilePath:         model.FilePath,
		LineStart:        model.LineStart,
		LineEnd:          model.LineEnd,
		Status:           Status(model.Status),
		Priority:         Priority(model.Priority),
		CreatedBy:        model.CreatedBy,
		CreatedAtSeconds: model.CreatedAtSeconds,
		UpdatedAtSeconds: model.UpdatedAtSeconds,
	}
}

func messagePayload(model Message, reactions []Reaction) MessagePayload {
	payload := MessagePayload{
		ID:               model.ID,
		ThreadID:         model.ThreadID,
		ParentMessageID:  model.ParentMessageID,
		AuthorID:         model.AuthorID,
		Content:          model.Content,
		Mentions:         ExtractMentions(model.Content),
		Edited:           model.Edited,
		CreatedAtSeconds: model.CreatedAtSeconds,
	}
	for _, reaction := range reactions {
		payload.Reactions = append(payload.Reactions, ReactionPayload{
			Emoji:  reaction.Emoji,
			UserID: reaction.UserID,
		})
	}
	return payload
}
