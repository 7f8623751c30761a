package threads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingAuthor     = errors.New("author identifier is required")
	errMissingContent    = errors.New("message content is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries an operation-coded failure for API error mapping.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew     = "threads.service.new"
	opListThreads    = "threads.list_threads"
	opGetThread      = "threads.get_thread"
	opCreateThread   = "threads.create_thread"
	opUpdateThread   = "threads.update_thread"
	opAddMessage     = "threads.add_message"
	opEditMessage    = "threads.edit_message"
	opDeleteMessage  = "threads.delete_message"
	opAddReaction    = "threads.add_reaction"
	opRemoveReaction = "threads.remove_reaction"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// IDProvider issues identifiers for new rows.
type IDProvider interface {
	NewID() (string, error)
}

// EventPublisher fans realtime events out to room subscribers. The service
// publishes after commit; delivery is best-effort.
type EventPublisher interface {
	Publish(room, op string, data any)
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Events     EventPublisher
	Logger     *zap.Logger
}

// Service implements the server side of the thread API.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	events     EventPublisher
	logger     *zap.Logger
}

// NewService validates dependencies and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		events:     cfg.Events,
		logger:     logger,
	}, nil
}

// CreateThreadRequest describes a new thread plus its first message.
type CreateThreadRequest struct {
	Repo        string
	Branch      string
	ContextType ContextType
	Selector    string
	XPath       string
	Coordinates *Coordinates
	FilePath    string
	LineStart   int
	LineEnd     int
	Priority    Priority
	CreatedBy   string
	Message     string
}

// CreateThread validates the exactly-one-context invariant, persists the
// thread with its first message, and announces thread:created.
func (s *Service) CreateThread(ctx context.Context, request CreateThreadRequest) (ThreadPayload, error) {
	repo, err := NewRepo(request.Repo)
	if err != nil {
		return ThreadPayload{}, newServiceError(opCreateThread, "invalid_repo", err)
	}
	if request.CreatedBy == "" {
		return ThreadPayload{}, newServiceError(opCreateThread, "missing_author", errMissingAuthor)
	}
	if request.Message == "" {
		return ThreadPayload{}, newServiceError(opCreateThread, "missing_message", errMissingContent)
	}

	switch request.ContextType {
	case ContextTypeUI:
		if request.Selector == "" && request.XPath == "" && request.Coordinates == nil {
			return ThreadPayload{}, newServiceError(opCreateThread, "missing_anchor", ErrMissingAnchor)
		}
		if request.FilePath != "" {
			return ThreadPayload{}, newServiceError(opCreateThread, "ambiguous_context", ErrInvalidContextType)
		}
	case ContextTypeCode:
		if request.FilePath == "" {
			return ThreadPayload{}, newServiceError(opCreateThread, "missing_file_path", ErrMissingFilePath)
		}
		if request.Selector != "" || request.XPath != "" || request.Coordinates != nil {
			return ThreadPayload{}, newServiceError(opCreateThread, "ambiguous_context", ErrInvalidContextType)
		}
	default:
		return ThreadPayload{}, newServiceError(opCreateThread, "invalid_context_type", ErrInvalidContextType)
	}

	priority := request.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	if _, err := ParsePriority(string(priority)); err != nil {
		return ThreadPayload{}, newServiceError(opCreateThread, "invalid_priority", err)
	}

	threadID, err := s.idProvider.NewID()
	if err != nil {
		return ThreadPayload{}, newServiceError(opCreateThread, "id_generation_failed", err)
	}
	messageID, err := s.idProvider.NewID()
	if err != nil {
		return ThreadPayload{}, newServiceError(opCreateThread, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	thread := Thread{
		ID:               threadID,
		Repo:             repo,
		Branch:           request.Branch,
		ContextType:      string(request.ContextType),
		Selector:         request.Selector,
		XPath:            request.XPath,
		FilePath:         request.FilePath,
		LineStart:        request.LineStart,
		LineEnd:          request.LineEnd,
		Status:           string(StatusOpen),
		Priority:         string(priority),
		CreatedBy:        request.CreatedBy,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if request.Coordinates != nil {
		x, y := request.Coordinates.X, request.Coordinates.Y
		thread.CoordX = &x
		thread.CoordY = &y
	}
	message := Message{
		ID:               messageID,
		ThreadID:         threadID,
		AuthorID:         request.CreatedBy,
		Content:          request.Message,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&thread).Error; err != nil {
			return newServiceError(opCreateThread, "thread_insert_failed", err)
		}
		if err := tx.Create(&message).Error; err != nil {
			return newServiceError(opCreateThread, "message_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opCreateThread, "transaction_failed", txErr, zap.String("repo", repo))
		return ThreadPayload{}, txErr
	}

	payload := threadPayload(thread)
	payload.MessageCount = 1
	payload.FirstMessageContent = message.Content
	payload.Messages = []MessagePayload{messagePayload(message, nil)}

	s.publish(thread, EventThreadCreated, ThreadEventPayload{ThreadID: threadID})
	return payload, nil
}

// ListThreads returns threads for (repo, branch) with list summary fields,
// ordered by creation time. Status filters when non-empty.
func (s *Service) ListThreads(ctx context.Context, repo, branch string, status Status) ([]ThreadPayload, error) {
	if repo == "" {
		return nil, newServiceError(opListThreads, "invalid_repo", ErrInvalidRepo)
	}

	query := s.db.WithContext(ctx).Where("repo = ? AND branch = ?", repo, branch)
	if status != "" {
		query = query.Where("status = ?", string(status))
	}

	var models []Thread
	if err := query.Order("created_at_s ASC, id ASC").Find(&models).Error; err != nil {
		s.logError(opListThreads, "query_failed", err, zap.String("repo", repo))
		return nil, newServiceError(opListThreads, "query_failed", err)
	}

	payloads := make([]ThreadPayload, 0, len(models))
	for _, model := range models {
		payload := threadPayload(model)

		var messages []Message
		if err := s.db.WithContext(ctx).
			Where("thread_id = ?", model.ID).
			Order("created_at_s ASC, id ASC").
			Find(&messages).Error; err != nil {
			s.logError(opListThreads, "message_query_failed", err, zap.String("thread_id", model.ID))
			return nil, newServiceError(opListThreads, "message_query_failed", err)
		}
		payload.MessageCount = len(messages)
		if len(messages) > 0 {
			payload.FirstMessageContent = messages[0].Content
		}
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

// GetThread returns one thread with its full message and reaction detail.
func (s *Service) GetThread(ctx context.Context, threadID string) (ThreadPayload, error) {
	model, err := s.loadThread(ctx, opGetThread, threadID)
	if err != nil {
		return ThreadPayload{}, err
	}

	var messages []Message
	if err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at_s ASC, id ASC").
		Find(&messages).Error; err != nil {
		s.logError(opGetThread, "message_query_failed", err, zap.String("thread_id", threadID))
		return ThreadPayload{}, newServiceError(opGetThread, "message_query_failed", err)
	}

	messageIDs := make([]string, 0, len(messages))
	for _, message := range messages {
		messageIDs = append(messageIDs, message.ID)
	}
	reactionsByMessage := make(map[string][]Reaction)
	if len(messageIDs) > 0 {
		var reactions []Reaction
		if err := s.db.WithContext(ctx).
			Where("message_id IN ?", messageIDs).
			Order("created_at_s ASC").
			Find(&reactions).Error; err != nil {
			s.logError(opGetThread, "reaction_query_failed", err, zap.String("thread_id", threadID))
			return ThreadPayload{}, newServiceError(opGetThread, "reaction_query_failed", err)
		}
		for _, reaction := range reactions {
			reactionsByMessage[reaction.MessageID] = append(reactionsByMessage[reaction.MessageID], reaction)
		}
	}

	payload := threadPayload(model)
	payload.MessageCount = len(messages)
	if len(messages) > 0 {
		payload.FirstMessageContent = messages[0].Content
	}
	for _, message := range messages {
		payload.Messages = append(payload.Messages, messagePayload(message, reactionsByMessage[message.ID]))
	}
	return payload, nil
}

// UpdateThreadRequest is a partial thread update. Nil fields are untouched.
// Selector and Coordinates arrive together on reposition and are applied as
// one write so the stored anchor is never half-superseded.
type UpdateThreadRequest struct {
	Status      *Status
	Priority    *Priority
	Selector    *string
	Coordinates *Coordinates
}

// UpdateThread applies a partial update and announces thread:updated.
func (s *Service) UpdateThread(ctx context.Context, threadID string, request UpdateThreadRequest) (ThreadPayload, error) {
	model, err := s.loadThread(ctx, opUpdateThread, threadID)
	if err != nil {
		return ThreadPayload{}, err
	}

	updates := map[string]any{}
	if request.Status != nil {
		if _, err := ParseStatus(string(*request.Status)); err != nil {
			return ThreadPayload{}, newServiceError(opUpdateThread, "invalid_status", err)
		}
		updates["status"] = string(*request.Status)
	}
	if request.Priority != nil {
		if _, err := ParsePriority(string(*request.Priority)); err != nil {
			return ThreadPayload{}, newServiceError(opUpdateThread, "invalid_priority", err)
		}
		updates["priority"] = string(*request.Priority)
	}
	if request.Selector != nil {
		updates["selector"] = *request.Selector
	}
	if request.Coordinates != nil {
		updates["coord_x"] = request.Coordinates.X
		updates["coord_y"] = request.Coordinates.Y
	}
	if len(updates) == 0 {
		return threadPayload(model), nil
	}
	updates["updated_at_s"] = s.clock().UTC().Unix()

	if err := s.db.WithContext(ctx).
		Model(&Thread{}).
		Where("id = ?", threadID).
		Updates(updates).Error; err != nil {
		s.logError(opUpdateThread, "update_failed", err, zap.String("thread_id", threadID))
		return ThreadPayload{}, newServiceError(opUpdateThread, "update_failed", err)
	}

	updated, err := s.loadThread(ctx, opUpdateThread, threadID)
	if err != nil {
		return ThreadPayload{}, err
	}
	s.publish(updated, EventThreadUpdated, ThreadEventPayload{ThreadID: threadID})
	return threadPayload(updated), nil
}

// AddMessageRequest describes a reply to an existing thread.
type AddMessageRequest struct {
	ThreadID        string
	AuthorID        string
	Content         string
	ParentMessageID string
}

// AddMessage appends a reply. A parent that is itself a reply is clamped to
// its own top-level parent, keeping threading exactly one level deep.
func (s *Service) AddMessage(ctx context.Context, request AddMessageRequest) (MessagePayload, error) {
	if request.AuthorID == "" {
		return MessagePayload{}, newServiceError(opAddMessage, "missing_author", errMissingAuthor)
	}
	if request.Content == "" {
		return MessagePayload{}, newServiceError(opAddMessage, "missing_content", errMissingContent)
	}
	thread, err := s.loadThread(ctx, opAddMessage, request.ThreadID)
	if err != nil {
		return MessagePayload{}, err
	}

	parentID := request.ParentMessageID
	if parentID != "" {
		var parent Message
		err := s.db.WithContext(ctx).
			Where("id = ? AND thread_id = ?", parentID, request.ThreadID).
			Take(&parent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return MessagePayload{}, newServiceError(opAddMessage, "parent_not_found", ErrMessageNotFound)
		}
		if err != nil {
			s.logError(opAddMessage, "parent_query_failed", err, zap.String("thread_id", request.ThreadID))
			return MessagePayload{}, newServiceError(opAddMessage, "parent_query_failed", err)
		}
		if parent.ParentMessageID != "" {
			parentID = parent.ParentMessageID
		}
	}

	messageID, err := s.idProvider.NewID()
	if err != nil {
		return MessagePayload{}, newServiceError(opAddMessage, "id_generation_failed", err)
	}
	now := s.clock().UTC().Unix()
	message := Message{
		ID:               messageID,
		ThreadID:         request.ThreadID,
		ParentMessageID:  parentID,
		AuthorID:         request.AuthorID,
		Content:          request.Content,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		s.logError(opAddMessage, "insert_failed", err, zap.String("thread_id", request.ThreadID))
		return MessagePayload{}, newServiceError(opAddMessage, "insert_failed", err)
	}

	payload := messagePayload(message, nil)
	s.publish(thread, EventMessageAdded, payload)
	return payload, nil
}

// EditMessage overwrites message content and flags it edited.
func (s *Service) EditMessage(ctx context.Context, messageID, content string) (MessagePayload, error) {
	if content == "" {
		return MessagePayload{}, newServiceError(opEditMessage, "missing_content", errMissingContent)
	}
	message, thread, err := s.loadMessage(ctx, opEditMessage, messageID)
	if err != nil {
		return MessagePayload{}, err
	}

	message.Content = content
	message.Edited = true
	message.UpdatedAtSeconds = s.clock().UTC().Unix()
	if err := s.db.WithContext(ctx).Save(&message).Error; err != nil {
		s.logError(opEditMessage, "update_failed", err, zap.String("message_id", messageID))
		return MessagePayload{}, newServiceError(opEditMessage, "update_failed", err)
	}

	var reactions []Reaction
	if err := s.db.WithContext(ctx).Where("message_id = ?", messageID).Find(&reactions).Error; err != nil {
		s.logError(opEditMessage, "reaction_query_failed", err, zap.String("message_id", messageID))
		return MessagePayload{}, newServiceError(opEditMessage, "reaction_query_failed", err)
	}

	payload := messagePayload(message, reactions)
	s.publish(thread, EventMessageEdited, payload)
	return payload, nil
}

// DeleteMessage removes a message and its reactions.
func (s *Service) DeleteMessage(ctx context.Context, messageID string) error {
	message, thread, err := s.loadMessage(ctx, opDeleteMessage, messageID)
	if err != nil {
		return err
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ?", messageID).Delete(&Reaction{}).Error; err != nil {
			return newServiceError(opDeleteMessage, "reaction_delete_failed", err)
		}
		if err := tx.Delete(&Message{}, "id = ?", messageID).Error; err != nil {
			return newServiceError(opDeleteMessage, "delete_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opDeleteMessage, "transaction_failed", txErr, zap.String("message_id", messageID))
		return txErr
	}

	s.publish(thread, EventMessageDeleted, MessageDeletedPayload{
		ThreadID:  message.ThreadID,
		MessageID: messageID,
	})
	return nil
}

// AddReaction records a reaction; a duplicate (message, user, emoji) add is a
// no-op, not an error, and publishes nothing.
func (s *Service) AddReaction(ctx context.Context, messageID, userID, emoji string) error {
	if emoji == "" {
		return newServiceError(opAddReaction, "missing_emoji", errMissingContent)
	}
	message, thread, err := s.loadMessage(ctx, opAddReaction, messageID)
	if err != nil {
		return err
	}

	var existing Reaction
	err = s.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		Take(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opAddReaction, "query_failed", err, zap.String("message_id", messageID))
		return newServiceError(opAddReaction, "query_failed", err)
	}

	reaction := Reaction{
		MessageID:        messageID,
		UserID:           userID,
		Emoji:            emoji,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&reaction).Error; err != nil {
		s.logError(opAddReaction, "insert_failed", err, zap.String("message_id", messageID))
		return newServiceError(opAddReaction, "insert_failed", err)
	}

	s.publish(thread, EventReactionAdded, ReactionEventPayload{
		ThreadID:  message.ThreadID,
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
	})
	return nil
}

// RemoveReaction deletes a reaction; removing an absent one is a no-op.
func (s *Service) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	message, thread, err := s.loadMessage(ctx, opRemoveReaction, messageID)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		Delete(&Reaction{})
	if result.Error != nil {
		s.logError(opRemoveReaction, "delete_failed", result.Error, zap.String("message_id", messageID))
		return newServiceError(opRemoveReaction, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil
	}

	s.publish(thread, EventReactionRemoved, ReactionEventPayload{
		ThreadID:  message.ThreadID,
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
	})
	return nil
}

func (s *Service) loadThread(ctx context.Context, operation, threadID string) (Thread, error) {
	if threadID == "" {
		return Thread{}, newServiceError(operation, "missing_thread_id", ErrThreadNotFound)
	}
	var model Thread
	err := s.db.WithContext(ctx).Where("id = ?", threadID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Thread{}, newServiceError(operation, "thread_not_found", ErrThreadNotFound)
	}
	if err != nil {
		s.logError(operation, "thread_query_failed", err, zap.String("thread_id", threadID))
		return Thread{}, newServiceError(operation, "thread_query_failed", err)
	}
	return model, nil
}

func (s *Service) loadMessage(ctx context.Context, operation, messageID string) (Message, Thread, error) {
	if messageID == "" {
		return Message{}, Thread{}, newServiceError(operation, "missing_message_id", ErrMessageNotFound)
	}
	var message Message
	err := s.db.WithContext(ctx).Where("id = ?", messageID).Take(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Message{}, Thread{}, newServiceError(operation, "message_not_found", ErrMessageNotFound)
	}
	if err != nil {
		s.logError(operation, "message_query_failed", err, zap.String("message_id", messageID))
		return Message{}, Thread{}, newServiceError(operation, "message_query_failed", err)
	}
	thread, err := s.loadThread(ctx, operation, message.ThreadID)
	if err != nil {
		return Message{}, Thread{}, err
	}
	return message, thread, nil
}

// publish fans an event out to the repo room and, when the thread is
// branch-scoped, to the repo:branch room as well.
func (s *Service) publish(thread Thread, op string, data any) {
	if s.events == nil {
		return
	}
	s.events.Publish(Room(thread.Repo, ""), op, data)
	if thread.Branch != "" {
		s.events.Publish(Room(thread.Repo, thread.Branch), op, data)
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("threads service error", attrs...)
}
