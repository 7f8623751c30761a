// Package threads holds the comment domain shared by the widget engine and
// the thread API: persisted models, wire payloads, and the server-side
// service. A thread is anchored to a repo+branch and to exactly one context:
// a UI element on a deployed preview or a code location.
package threads

import (
	"errors"
	"fmt"
	"strings"
)

// ContextType distinguishes UI-anchored threads from code-anchored threads.
type ContextType string

const (
	// ContextTypeUI anchors a thread to a live page element or page point.
	ContextTypeUI ContextType = "ui"
	// ContextTypeCode anchors a thread to a file and line range.
	ContextTypeCode ContextType = "code"
)

// Status is the thread lifecycle state.
type Status string

const (
	// StatusOpen marks an unresolved thread.
	StatusOpen Status = "open"
	// StatusResolved marks a resolved thread; it drops out of open-list loads.
	StatusResolved Status = "resolved"
)

// Priority orders threads for triage.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidContextType indicates an unknown thread context type.
	ErrInvalidContextType = errors.New("threads: invalid context type")
	// ErrInvalidStatus indicates an unknown thread status.
	ErrInvalidStatus = errors.New("threads: invalid status")
	// ErrInvalidPriority indicates an unknown thread priority.
	ErrInvalidPriority = errors.New("threads: invalid priority")
	// ErrInvalidRepo indicates an empty or oversized repo identifier.
	ErrInvalidRepo = errors.New("threads: invalid repo")
	// ErrThreadNotFound indicates the thread id matched no row.
	ErrThreadNotFound = errors.New("threads: thread not found")
	// ErrMessageNotFound indicates the message id matched no row.
	ErrMessageNotFound = errors.New("threads: message not found")
	// ErrMissingAnchor indicates a UI thread without any resolvable anchor.
	ErrMissingAnchor = errors.New("threads: ui thread requires selector, xpath, or coordinates")
	// ErrMissingFilePath indicates a code thread without a file path.
	ErrMissingFilePath = errors.New("threads: code thread requires file_path")
)

// ParseContextType validates raw input against the known context types.
func ParseContextType(raw string) (ContextType, error) {
	switch ContextType(strings.ToLower(strings.TrimSpace(raw))) {
	case ContextTypeUI:
		return ContextTypeUI, nil
	case ContextTypeCode:
		return ContextTypeCode, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidContextType, raw)
	}
}

// ParseStatus validates raw input against the known statuses.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusOpen:
		return StatusOpen, nil
	case StatusResolved:
		return StatusResolved, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// ParsePriority validates raw input against the known priorities.
func ParsePriority(raw string) (Priority, error) {
	switch Priority(strings.ToLower(strings.TrimSpace(raw))) {
	case PriorityLow:
		return PriorityLow, nil
	case PriorityNormal:
		return PriorityNormal, nil
	case PriorityHigh:
		return PriorityHigh, nil
	case PriorityCritical:
		return PriorityCritical, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, raw)
	}
}

// NewRepo validates a repo identifier.
func NewRepo(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRepo)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRepo, maxIdentifierLength)
	}
	return trimmed, nil
}

// Room returns the realtime room key for a repo, optionally branch-scoped.
func Room(repo, branch string) string {
	if branch == "" {
		return repo
	}
	return repo + ":" + branch
}

// Coordinates is an absolute page point captured at creation or reposition.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Thread models a persisted conversation anchor.
type Thread struct {
	ID               string   `gorm:"column:id;primaryKey;size:190;not null"`
	Repo             string   `gorm:"column:repo;size:190;not null;index:idx_threads_repo_branch,priority:1"`
	Branch           string   `gorm:"column:branch;size:190;not null;default:'';index:idx_threads_repo_branch,priority:2"`
	ContextType      string   `gorm:"column:context_type;size:8;not null"`
	Selector         string   `gorm:"column:selector;type:text;not null;default:''"`
	XPath            string   `gorm:"column:xpath;type:text;not null;default:''"`
	CoordX           *float64 `gorm:"column:coord_x"`
	CoordY           *float64 `gorm:"column:coord_y"`
	FilePath         string   `gorm:"column:file_path;size:512;not null;default:''"`
	LineStart        int      `gorm:"column:line_start;not null;default:0"`
	LineEnd          int      `gorm:"column:line_end;not null;default:0"`
	Status           string   `gorm:"column:status;size:16;not null;index:idx_threads_repo_branch,priority:3"`
	Priority         string   `gorm:"column:priority;size:16;not null"`
	CreatedBy        string   `gorm:"column:created_by;size:190;not null"`
	CreatedAtSeconds int64    `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64    `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Thread) TableName() string {
	return "threads"
}

// Coordinates assembles the nullable coordinate pair, nil when unset.
func (t Thread) Coordinates() *Coordinates {
	if t.CoordX == nil || t.CoordY == nil {
		return nil
	}
	return &Coordinates{X: *t.CoordX, Y: *t.CoordY}
}

// Message models one post within a thread. ParentMessageID is empty for
// top-level messages and always references a top-level message otherwise;
// deeper nesting is clamped at write time.
type Message struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	ThreadID         string `gorm:"column:thread_id;size:190;not null;index:idx_messages_thread_time,priority:1"`
	ParentMessageID  string `gorm:"column:parent_message_id;size:190;not null;default:''"`
	AuthorID         string `gorm:"column:author_id;size:190;not null"`
	Content          string `gorm:"column:content;type:text;not null"`
	Edited           bool   `gorm:"column:edited;not null;default:false"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_messages_thread_time,priority:2"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return "messages"
}

// Reaction models one emoji reaction. The composite primary key enforces the
// unique (message, user, emoji) invariant at the storage layer.
type Reaction struct {
	MessageID        string `gorm:"column:message_id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Emoji            string `gorm:"column:emoji;primaryKey;size:64;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Reaction) TableName() string {
	return "reactions"
}
