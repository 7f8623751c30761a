// Package position keeps screen positions of active anchors consistent with
// the document: markers move with scroll, survive layout shifts, and drop out
// of render the moment their anchor stops resolving.
package position

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pinpoint-labs/pinpoint/internal/anchor"
	"github.com/pinpoint-labs/pinpoint/internal/dom"
)

const defaultDebounce = 100 * time.Millisecond

var (
	errMissingDocument = errors.New("document is required")
	noOpLogger         = zap.NewNop()
)

// MarkerState is the ephemeral per-cycle position of one thread's marker.
// It is recomputed on every scroll/mutation/invalidation tick and is never a
// source of truth.
type MarkerState struct {
	Point   dom.Point
	Visible bool
}

// ScheduleFunc defers fn by the given delay and returns a cancel func. The
// default wraps time.AfterFunc; tests inject a manual scheduler.
type ScheduleFunc func(delay time.Duration, fn func()) (cancel func())

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	Document *dom.Document
	Debounce time.Duration
	Schedule ScheduleFunc
	Logger   *zap.Logger
	// OnUpdate fires after every recompute pass; the renderer hangs off it.
	OnUpdate func()
}

// Tracker maintains the live threadID → MarkerState map.
type Tracker struct {
	mu sync.Mutex

	doc      *dom.Document
	debounce time.Duration
	schedule ScheduleFunc
	logger   *zap.Logger
	onUpdate func()

	anchors map[string]anchor.Anchor
	states  map[string]MarkerState

	pendingCancel func()
	disconnects   []func()
	closed        bool
}

// NewTracker validates the config and returns a stopped tracker; call Start
// to begin observing the document.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Document == nil {
		return nil, errMissingDocument
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	schedule := cfg.Schedule
	if schedule == nil {
		schedule = func(delay time.Duration, fn func()) func() {
			timer := time.AfterFunc(delay, fn)
			return func() { timer.Stop() }
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Tracker{
		doc:      cfg.Document,
		debounce: debounce,
		schedule: schedule,
		logger:   logger,
		onUpdate: cfg.OnUpdate,
		anchors:  make(map[string]anchor.Anchor),
		states:   make(map[string]MarkerState),
	}, nil
}

// Start subscribes to document scroll and mutation streams. Scroll recomputes
// immediately; mutations coalesce within one debounce window so a mutation
// storm during an animation costs a single pass.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || len(t.disconnects) > 0 {
		return
	}
	t.disconnects = append(t.disconnects,
		t.doc.OnScroll(func(x, y float64) { t.Recompute() }),
		t.doc.OnMutation(t.handleMutation),
	)
}

// Close disconnects observers and cancels any pending recompute.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for _, disconnect := range t.disconnects {
		disconnect()
	}
	t.disconnects = nil
	if t.pendingCancel != nil {
		t.pendingCancel()
		t.pendingCancel = nil
	}
}

// SetAnchors replaces the tracked anchor set wholesale (thread list reload)
// and recomputes immediately.
func (t *Tracker) SetAnchors(anchors map[string]anchor.Anchor) {
	t.mu.Lock()
	t.anchors = make(map[string]anchor.Anchor, len(anchors))
	for threadID, a := range anchors {
		t.anchors[threadID] = a
	}
	t.states = make(map[string]MarkerState, len(anchors))
	t.recomputeLocked()
	t.mu.Unlock()
	t.fireUpdate()
}

// Track adds or replaces a single tracked anchor and recomputes immediately.
func (t *Tracker) Track(threadID string, a anchor.Anchor) {
	t.mu.Lock()
	t.anchors[threadID] = a
	t.recomputeLocked()
	t.mu.Unlock()
	t.fireUpdate()
}

// Forget stops tracking the thread's anchor.
func (t *Tracker) Forget(threadID string) {
	t.mu.Lock()
	delete(t.anchors, threadID)
	delete(t.states, threadID)
	t.mu.Unlock()
	t.fireUpdate()
}

// Recompute runs a full resolution pass now.
func (t *Tracker) Recompute() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.recomputeLocked()
	t.mu.Unlock()
	t.fireUpdate()
}

// Positions returns a snapshot of the current marker states.
func (t *Tracker) Positions() map[string]MarkerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]MarkerState, len(t.states))
	for threadID, state := range t.states {
		out[threadID] = state
	}
	return out
}

// Position returns one thread's marker state.
func (t *Tracker) Position(threadID string) (MarkerState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.states[threadID]
	return state, ok
}

func (t *Tracker) recomputeLocked() {
	for threadID, a := range t.anchors {
		resolution := anchor.Resolve(t.doc, a)
		if resolution == nil {
			t.states[threadID] = MarkerState{Visible: false}
			continue
		}
		t.states[threadID] = MarkerState{Point: resolution.Point, Visible: true}
	}
}

// handleMutation schedules a coalesced recompute. Only structural changes and
// class/style/id attribute flips matter; other attributes cannot change where
// an anchor resolves.
func (t *Tracker) handleMutation(m dom.Mutation) {
	if m.Type == dom.MutationAttributes {
		switch m.AttributeName {
		case "class", "style", "id":
		default:
			return
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.pendingCancel != nil {
		return
	}
	t.pendingCancel = t.schedule(t.debounce, func() {
		t.mu.Lock()
		t.pendingCancel = nil
		if t.closed {
			t.mu.Unlock()
			return
		}
		t.recomputeLocked()
		t.mu.Unlock()
		t.fireUpdate()
	})
}

func (t *Tracker) fireUpdate() {
	if t.onUpdate != nil {
		t.onUpdate()
	}
}
