// Package overlay turns thread state and tracked marker positions into render
// frames: positioned markers, grouped message lists, and reaction summaries.
// It computes what to draw; the embedding layer owns the actual painting.
package overlay

import (
	"strconv"

	"github.com/pinpoint-labs/pinpoint/internal/dom"
	"github.com/pinpoint-labs/pinpoint/internal/position"
	"github.com/pinpoint-labs/pinpoint/internal/threads"
)

const (
	// resolvedGlyph replaces the ordinal on resolved markers.
	resolvedGlyph = "✓"
	// resolvedOpacity dims resolved markers against open ones.
	resolvedOpacity = 0.5
	// groupingGapSeconds is the maximum author-to-self gap that still groups
	// two consecutive top-level messages into one compact block.
	groupingGapSeconds = 300
)

// Mode is the widget interaction mode.
type Mode string

const (
	// ModeBrowse is the default read/interact mode.
	ModeBrowse Mode = "browse"
	// ModeAddComment is armed placement: the next page click chooses where a
	// new thread goes.
	ModeAddComment Mode = "add"
)

// Marker is one positioned thread indicator.
type Marker struct {
	ThreadID string
	Position dom.Point
	// Label is the rendered glyph: a 1-based ordinal for open threads, a
	// checkmark for resolved ones. Ordinals follow the open list's current
	// order and shift as membership changes; they are labels, not identities.
	Label    string
	Resolved bool
	Opacity  float64
	Selected bool
}

// Markers lays out one marker per thread that currently has a visible tracked
// position. Threads without a position entry, or whose entry is invisible,
// are omitted entirely rather than drawn at a default point.
func Markers(list []threads.ThreadPayload, states map[string]position.MarkerState, selectedThreadID string) []Marker {
	markers := make([]Marker, 0, len(list))
	ordinal := 0
	for _, thread := range list {
		open := thread.Status == threads.StatusOpen
		if open {
			ordinal++
		}
		state, tracked := states[thread.ID]
		if !tracked || !state.Visible {
			continue
		}
		marker := Marker{
			ThreadID: thread.ID,
			Position: state.Point,
			Resolved: !open,
			Opacity:  1,
			Selected: thread.ID == selectedThreadID,
		}
		if open {
			marker.Label = strconv.Itoa(ordinal)
		} else {
			marker.Label = resolvedGlyph
			marker.Opacity = resolvedOpacity
		}
		markers = append(markers, marker)
	}
	return markers
}

// ReactionGroup is one emoji aggregated across reactors.
type ReactionGroup struct {
	Emoji string
	Count int
	// Mine is true when the current user is among the reactors; the embedder
	// renders the group in its active style and a click removes instead of
	// adds.
	Mine bool
}

// GroupReactions aggregates raw reaction records by emoji in first-appearance
// order.
func GroupReactions(reactions []threads.ReactionPayload, currentUserID string) []ReactionGroup {
	var groups []ReactionGroup
	indexByEmoji := make(map[string]int)
	for _, reaction := range reactions {
		index, ok := indexByEmoji[reaction.Emoji]
		if !ok {
			index = len(groups)
			indexByEmoji[reaction.Emoji] = index
			groups = append(groups, ReactionGroup{Emoji: reaction.Emoji})
		}
		groups[index].Count++
		if reaction.UserID == currentUserID {
			groups[index].Mine = true
		}
	}
	return groups
}

// MessageView is one message in final render order.
type MessageView struct {
	Message threads.MessagePayload
	// Reply marks the view as nested one level under the preceding top-level
	// message.
	Reply bool
	// GroupedWithPrevious compacts this message into the previous block:
	// same author, under five minutes apart, neither a reply.
	GroupedWithPrevious bool
	Reactions           []ReactionGroup
}

// MessageViews flattens a thread's messages into render order: top-level
// messages chronologically, each followed by its replies. Replies whose
// parent is itself a reply are clamped under the top-level ancestor, and a
// reply to an unknown parent renders as top-level rather than vanishing.
func MessageViews(messages []threads.MessagePayload, currentUserID string) []MessageView {
	byID := make(map[string]threads.MessagePayload, len(messages))
	for _, message := range messages {
		byID[message.ID] = message
	}

	var topLevel []threads.MessagePayload
	repliesByParent := make(map[string][]threads.MessagePayload)
	for _, message := range messages {
		parentID := topLevelAncestor(message, byID)
		if parentID == "" {
			topLevel = append(topLevel, message)
			continue
		}
		repliesByParent[parentID] = append(repliesByParent[parentID], message)
	}

	var views []MessageView
	var previousTopLevel *threads.MessagePayload
	for index := range topLevel {
		message := topLevel[index]
		view := MessageView{
			Message:   message,
			Reactions: GroupReactions(message.Reactions, currentUserID),
		}
		if previousTopLevel != nil {
			view.GroupedWithPrevious = previousTopLevel.AuthorID == message.AuthorID &&
				message.CreatedAtSeconds-previousTopLevel.CreatedAtSeconds < groupingGapSeconds
		}
		views = append(views, view)
		previousTopLevel = &topLevel[index]

		for _, reply := range repliesByParent[message.ID] {
			views = append(views, MessageView{
				Message:   reply,
				Reply:     true,
				Reactions: GroupReactions(reply.Reactions, currentUserID),
			})
		}
	}
	return views
}

// topLevelAncestor resolves a message's render parent: empty for top-level
// messages and for orphans, otherwise the id of a top-level message.
func topLevelAncestor(message threads.MessagePayload, byID map[string]threads.MessagePayload) string {
	parentID := message.ParentMessageID
	if parentID == "" {
		return ""
	}
	parent, ok := byID[parentID]
	if !ok {
		return ""
	}
	if parent.ParentMessageID != "" {
		if grandparent, ok := byID[parent.ParentMessageID]; ok {
			return grandparent.ID
		}
		return ""
	}
	return parent.ID
}

// Frame is one complete render pass.
type Frame struct {
	Markers []Marker
	Mode    Mode
	// Pending is the chosen location for a not-yet-created thread while in
	// add mode, nil otherwise.
	Pending *dom.Point
	// OpenThreadID is the thread whose detail panel is open, empty for none.
	OpenThreadID string
	Messages     []MessageView
}

// Renderer holds view-only interaction state and assembles frames.
type Renderer struct {
	mode          Mode
	pending       *dom.Point
	openThreadID  string
	currentUserID string
}

// NewRenderer constructs a Renderer in browse mode for the given viewer.
func NewRenderer(currentUserID string) *Renderer {
	return &Renderer{mode: ModeBrowse, currentUserID: currentUserID}
}

// EnterAddMode arms comment placement.
func (r *Renderer) EnterAddMode() {
	r.mode = ModeAddComment
	r.pending = nil
}

// PlacePending records the clicked page point while in add mode.
func (r *Renderer) PlacePending(point dom.Point) {
	if r.mode != ModeAddComment {
		return
	}
	r.pending = &point
}

// ExitAddMode returns to browse mode, discarding any pending placement.
func (r *Renderer) ExitAddMode() {
	r.mode = ModeBrowse
	r.pending = nil
}

// PendingPosition returns the armed placement point, nil when none.
func (r *Renderer) PendingPosition() *dom.Point {
	return r.pending
}

// OpenThread selects a thread's detail panel.
func (r *Renderer) OpenThread(threadID string) {
	r.openThreadID = threadID
}

// CloseThread dismisses the detail panel.
func (r *Renderer) CloseThread() {
	r.openThreadID = ""
}

// Render assembles the frame for the current thread list and tracked
// positions. The previous frame is discarded wholesale; markers carry no
// state between passes.
func (r *Renderer) Render(list []threads.ThreadPayload, states map[string]position.MarkerState) Frame {
	frame := Frame{
		Markers:      Markers(list, states, r.openThreadID),
		Mode:         r.mode,
		Pending:      r.pending,
		OpenThreadID: r.openThreadID,
	}
	if r.openThreadID != "" {
		for _, thread := range list {
			if thread.ID == r.openThreadID {
				frame.Messages = MessageViews(thread.Messages, r.currentUserID)
				break
			}
		}
	}
	return frame
}
