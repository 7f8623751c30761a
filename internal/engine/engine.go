// Package engine hosts the widget orchestrator. The engine owns the
// authoritative client-side thread cache, drives the position tracker from
// that cache, and funnels every write through the thread API followed by a
// reload; local state is never patched optimistically.
package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/pinpoint-labs/pinpoint/internal/anchor"
	"github.com/pinpoint-labs/pinpoint/internal/apiclient"
	"github.com/pinpoint-labs/pinpoint/internal/dom"
	"github.com/pinpoint-labs/pinpoint/internal/position"
	"github.com/pinpoint-labs/pinpoint/internal/realtime"
	"github.com/pinpoint-labs/pinpoint/internal/threads"
	"go.uber.org/zap"
)

var (
	errMissingAPI      = errors.New("engine: thread api client is required")
	errMissingDocument = errors.New("engine: document is required")
	errMissingRepo     = errors.New("engine: repo is required")

	// ErrDisposed is returned by operations invoked after Dispose.
	ErrDisposed = errors.New("engine: disposed")
	// ErrUnknownThread is returned when an operation addresses a thread
	// absent from the cache.
	ErrUnknownThread = errors.New("engine: unknown thread")
	// ErrUnknownMessage is returned when a reaction toggle addresses a
	// message absent from the cache.
	ErrUnknownMessage = errors.New("engine: unknown message")
)

// API is the thread API surface the engine depends on. *apiclient.Client
// satisfies it; tests substitute fakes.
type API interface {
	ListThreads(ctx context.Context, repo, branch string, status threads.Status) ([]threads.ThreadPayload, error)
	GetThread(ctx context.Context, threadID string) (threads.ThreadPayload, error)
	CreateThread(ctx context.Context, request apiclient.CreateThreadRequest) (threads.ThreadPayload, error)
	UpdateThread(ctx context.Context, threadID string, request apiclient.UpdateThreadRequest) (threads.ThreadPayload, error)
	AddMessage(ctx context.Context, threadID string, request apiclient.AddMessageRequest) (threads.MessagePayload, error)
	AddReaction(ctx context.Context, threadID, messageID, emoji string) error
	RemoveReaction(ctx context.Context, threadID, messageID, emoji string) error
}

// Config configures an Engine.
type Config struct {
	API      API
	Document *dom.Document
	Repo     string
	Branch   string
	// UserID identifies the current viewer for reaction toggles. Typically
	// decoded, unverified, from the bearer token.
	UserID string
	// OnChange fires after every cache replacement. Optional.
	OnChange func()
	// Schedule overrides the tracker's debounce timer. Optional.
	Schedule position.ScheduleFunc
	Logger   *zap.Logger
}

// Engine is one widget instance with an explicit lifecycle. Construct with
// NewEngine, release with Dispose.
type Engine struct {
	api      API
	document *dom.Document
	repo     string
	branch   string
	userID   string
	onChange func()
	logger   *zap.Logger

	tracker *position.Tracker

	mu         sync.Mutex
	cache      []threads.ThreadPayload
	disposed   bool
	generation uint64
}

// NewEngine validates dependencies, starts position tracking, and returns an
// Engine with an empty cache. Call LoadThreads to populate it.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.API == nil {
		return nil, errMissingAPI
	}
	if cfg.Document == nil {
		return nil, errMissingDocument
	}
	if cfg.Repo == "" {
		return nil, errMissingRepo
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := &Engine{
		api:      cfg.API,
		document: cfg.Document,
		repo:     cfg.Repo,
		branch:   cfg.Branch,
		userID:   cfg.UserID,
		onChange: cfg.OnChange,
		logger:   logger,
	}

	tracker, err := position.NewTracker(position.TrackerConfig{
		Document: cfg.Document,
		Schedule: cfg.Schedule,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	engine.tracker = tracker
	tracker.Start()

	return engine, nil
}

// Threads returns a copy of the cached thread list.
func (e *Engine) Threads() []threads.ThreadPayload {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]threads.ThreadPayload(nil), e.cache...)
}

// Positions returns the tracked marker state per thread.
func (e *Engine) Positions() map[string]position.MarkerState {
	return e.tracker.Positions()
}

// LoadThreads fetches the open thread list and replaces the cache wholesale.
// A failed load leaves the previous cache intact so already rendered markers
// survive transient API errors.
func (e *Engine) LoadThreads(ctx context.Context) error {
	generation, err := e.liveGeneration()
	if err != nil {
		return err
	}
	list, err := e.api.ListThreads(ctx, e.repo, e.branch, threads.StatusOpen)
	if err != nil {
		e.logger.Warn("thread list load failed", zap.Error(err))
		return err
	}
	return e.replaceCache(generation, list)
}

// CreateThread creates a UI-context thread at the given page point. The
// anchor is derived from the element under the point when one exists, always
// keeping the literal coordinates as fallback.
func (e *Engine) CreateThread(ctx context.Context, point dom.Point, message string, priority threads.Priority) (threads.ThreadPayload, error) {
	generation, err := e.liveGeneration()
	if err != nil {
		return threads.ThreadPayload{}, err
	}

	placed := anchor.Anchor{Coordinates: &point}
	if target := e.document.ElementFromPoint(point); target != nil {
		placed.Selector = anchor.BuildSelector(target)
	}

	request := apiclient.CreateThreadRequest{
		Repo:        e.repo,
		Branch:      e.branch,
		ContextType: threads.ContextTypeUI,
		Selector:    placed.Selector,
		Coordinates: &threads.Coordinates{X: point.X, Y: point.Y},
		Priority:    priority,
		Message:     message,
	}
	created, err := e.api.CreateThread(ctx, request)
	if err != nil {
		return threads.ThreadPayload{}, err
	}
	if err := e.reload(ctx, generation); err != nil {
		return created, err
	}
	return created, nil
}

// OpenThread fetches full message and reaction detail for one thread and
// installs it in the cache. The list endpoint carries summaries only, so
// detail loads on demand when a thread panel opens; reaction toggles need it
// in the cache first.
func (e *Engine) OpenThread(ctx context.Context, threadID string) (threads.ThreadPayload, error) {
	generation, err := e.liveGeneration()
	if err != nil {
		return threads.ThreadPayload{}, err
	}
	detail, err := e.api.GetThread(ctx, threadID)
	if err != nil {
		return threads.ThreadPayload{}, err
	}

	e.mu.Lock()
	if e.disposed || e.generation != generation {
		e.mu.Unlock()
		return threads.ThreadPayload{}, ErrDisposed
	}
	for index := range e.cache {
		if e.cache[index].ID == threadID {
			e.cache[index] = detail
			break
		}
	}
	e.mu.Unlock()

	e.notifyChange()
	return detail, nil
}

// Reply appends a message to a thread. The server clamps reply depth; the
// renderer clamps again on display, so a stale parent id is harmless here.
func (e *Engine) Reply(ctx context.Context, threadID, content, parentMessageID string) error {
	generation, err := e.liveGeneration()
	if err != nil {
		return err
	}
	_, err = e.api.AddMessage(ctx, threadID, apiclient.AddMessageRequest{
		Content:         content,
		ParentMessageID: parentMessageID,
	})
	if err != nil {
		return err
	}
	return e.reload(ctx, generation)
}

// Resolve marks a thread resolved.
func (e *Engine) Resolve(ctx context.Context, threadID string) error {
	return e.setStatus(ctx, threadID, threads.StatusResolved)
}

// Reopen marks a thread open again.
func (e *Engine) Reopen(ctx context.Context, threadID string) error {
	return e.setStatus(ctx, threadID, threads.StatusOpen)
}

func (e *Engine) setStatus(ctx context.Context, threadID string, status threads.Status) error {
	generation, err := e.liveGeneration()
	if err != nil {
		return err
	}
	if _, err := e.api.UpdateThread(ctx, threadID, apiclient.UpdateThreadRequest{Status: &status}); err != nil {
		return err
	}
	return e.reload(ctx, generation)
}

// ToggleReaction adds the viewer's reaction when absent and removes it when
// present, decided against the cached reaction membership.
func (e *Engine) ToggleReaction(ctx context.Context, threadID, messageID, emoji string) error {
	generation, err := e.liveGeneration()
	if err != nil {
		return err
	}

	mine, err := e.hasOwnReaction(threadID, messageID, emoji)
	if err != nil {
		return err
	}
	if mine {
		err = e.api.RemoveReaction(ctx, threadID, messageID, emoji)
	} else {
		err = e.api.AddReaction(ctx, threadID, messageID, emoji)
	}
	if err != nil {
		return err
	}
	return e.reload(ctx, generation)
}

// Reposition submits a dragged marker's new anchor. Selector and coordinates
// travel together so the stored anchor is superseded atomically; on failure
// the cache is untouched and the next reload restores the server position.
func (e *Engine) Reposition(ctx context.Context, threadID string, placed anchor.Anchor) error {
	generation, err := e.liveGeneration()
	if err != nil {
		return err
	}
	if placed.Coordinates == nil {
		return threads.ErrMissingAnchor
	}
	selector := placed.Selector
	request := apiclient.UpdateThreadRequest{
		Selector:    &selector,
		Coordinates: &threads.Coordinates{X: placed.Coordinates.X, Y: placed.Coordinates.Y},
	}
	if _, err := e.api.UpdateThread(ctx, threadID, request); err != nil {
		return err
	}
	return e.reload(ctx, generation)
}

// ApplyRealtimeEvent merges a pushed event into the cache. Message and
// reaction events patch in place; thread events trigger a full reload.
func (e *Engine) ApplyRealtimeEvent(ctx context.Context, event realtime.Event) error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return ErrDisposed
	}
	generation := e.generation
	result, err := realtime.ApplyEvent(e.cache, event)
	changed := result.Changed
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn("realtime event merge failed", zap.String("op", event.Op), zap.Error(err))
		return err
	}
	if result.ReloadRequired {
		return e.reload(ctx, generation)
	}
	if changed {
		e.syncTracker()
		e.notifyChange()
	}
	return nil
}

// Dispose releases the engine: position tracking disconnects and any
// in-flight API response arriving afterwards is dropped instead of mutating
// state. Dispose is idempotent.
func (e *Engine) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	e.generation++
	e.cache = nil
	e.mu.Unlock()
	e.tracker.Close()
}

func (e *Engine) reload(ctx context.Context, generation uint64) error {
	list, err := e.api.ListThreads(ctx, e.repo, e.branch, threads.StatusOpen)
	if err != nil {
		e.logger.Warn("post-write reload failed", zap.Error(err))
		return err
	}
	return e.replaceCache(generation, list)
}

// replaceCache installs a fresh list unless the engine was disposed while
// the request was in flight.
func (e *Engine) replaceCache(generation uint64, list []threads.ThreadPayload) error {
	e.mu.Lock()
	if e.disposed || e.generation != generation {
		e.mu.Unlock()
		return ErrDisposed
	}
	e.cache = list
	e.mu.Unlock()

	e.syncTracker()
	e.notifyChange()
	return nil
}

// syncTracker rebuilds the tracked anchor set from the cache.
func (e *Engine) syncTracker() {
	e.mu.Lock()
	anchors := make(map[string]anchor.Anchor)
	for _, thread := range e.cache {
		if thread.ContextType != threads.ContextTypeUI {
			continue
		}
		entry := anchor.Anchor{Selector: thread.Selector}
		if thread.Coordinates != nil {
			entry.Coordinates = &dom.Point{X: thread.Coordinates.X, Y: thread.Coordinates.Y}
		}
		anchors[thread.ID] = entry
	}
	e.mu.Unlock()
	e.tracker.SetAnchors(anchors)
}

func (e *Engine) notifyChange() {
	if e.onChange != nil {
		e.onChange()
	}
}

func (e *Engine) liveGeneration() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return 0, ErrDisposed
	}
	return e.generation, nil
}

func (e *Engine) hasOwnReaction(threadID, messageID, emoji string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, thread := range e.cache {
		if thread.ID != threadID {
			continue
		}
		for _, message := range thread.Messages {
			if message.ID != messageID {
				continue
			}
			for _, reaction := range message.Reactions {
				if reaction.UserID == e.userID && reaction.Emoji == emoji {
					return true, nil
				}
			}
			return false, nil
		}
		return false, ErrUnknownMessage
	}
	return false, ErrUnknownThread
}
