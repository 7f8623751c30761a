package overlay

import (
	"testing"

	"github.com/pinpoint-labs/pinpoint/internal/dom"
	"github.com/pinpoint-labs/pinpoint/internal/position"
	"github.com/pinpoint-labs/pinpoint/internal/threads"
)

func TestMarkersAssignOrdinalsToOpenThreadsOnly(t *testing.T) {
	list := []threads.ThreadPayload{
		{ID: "thread-1", Status: threads.StatusOpen},
		{ID: "thread-2", Status: threads.StatusResolved},
		{ID: "thread-3", Status: threads.StatusOpen},
	}
	states := map[string]position.MarkerState{
		"thread-1": {Point: dom.Point{X: 10, Y: 10}, Visible: true},
		"thread-2": {Point: dom.Point{X: 20, Y: 20}, Visible: true},
		"thread-3": {Point: dom.Point{X: 30, Y: 30}, Visible: true},
	}

	markers := Markers(list, states, "")
	if len(markers) != 3 {
		t.Fatalf("expected 3 markers, got %d", len(markers))
	}
	if markers[0].Label != "1" || markers[0].Resolved {
		t.Fatalf("unexpected first marker %+v", markers[0])
	}
	if markers[1].Label != "✓" || !markers[1].Resolved || markers[1].Opacity >= 1 {
		t.Fatalf("resolved marker must show a dimmed checkmark, got %+v", markers[1])
	}
	// The resolved thread does not consume an ordinal.
	if markers[2].Label != "2" {
		t.Fatalf("expected second ordinal for third thread, got %q", markers[2].Label)
	}
}

func TestMarkersOmitInvisibleAndUntrackedThreads(t *testing.T) {
	list := []threads.ThreadPayload{
		{ID: "thread-1", Status: threads.StatusOpen},
		{ID: "thread-2", Status: threads.StatusOpen},
		{ID: "thread-3", Status: threads.StatusOpen},
	}
	states := map[string]position.MarkerState{
		"thread-1": {Point: dom.Point{X: 10, Y: 10}, Visible: true},
		"thread-2": {Visible: false},
	}

	markers := Markers(list, states, "")
	if len(markers) != 1 || markers[0].ThreadID != "thread-1" {
		t.Fatalf("expected only the visible marker, got %+v", markers)
	}
}

func TestOrdinalsShiftWhenAThreadResolves(t *testing.T) {
	states := map[string]position.MarkerState{
		"thread-1": {Point: dom.Point{X: 10, Y: 10}, Visible: true},
		"thread-2": {Point: dom.Point{X: 20, Y: 20}, Visible: true},
	}

	before := Markers([]threads.ThreadPayload{
		{ID: "thread-1", Status: threads.StatusOpen},
		{ID: "thread-2", Status: threads.StatusOpen},
	}, states, "")
	if before[1].Label != "2" {
		t.Fatalf("expected ordinal 2 before resolve, got %q", before[1].Label)
	}

	after := Markers([]threads.ThreadPayload{
		{ID: "thread-2", Status: threads.StatusOpen},
	}, states, "")
	if len(after) != 1 || after[0].Label != "1" {
		t.Fatalf("ordinal must shift after membership change, got %+v", after)
	}
}

func TestMessageGroupingFixture(t *testing.T) {
	// A (author X, t=0), B (author X, t=100), C (author Y, t=110).
	messages := []threads.MessagePayload{
		{ID: "a", AuthorID: "user-x", Content: "A", CreatedAtSeconds: 0},
		{ID: "b", AuthorID: "user-x", Content: "B", CreatedAtSeconds: 100},
		{ID: "c", AuthorID: "user-y", Content: "C", CreatedAtSeconds: 110},
	}

	views := MessageViews(messages, "user-x")
	if len(views) != 3 {
		t.Fatalf("expected 3 views, got %d", len(views))
	}
	got := []bool{views[0].GroupedWithPrevious, views[1].GroupedWithPrevious, views[2].GroupedWithPrevious}
	expected := []bool{false, true, false}
	for index := range expected {
		if got[index] != expected[index] {
			t.Fatalf("grouping flags mismatch: expected %v, got %v", expected, got)
		}
	}
}

func TestRepliesNeverGroup(t *testing.T) {
	messages := []threads.MessagePayload{
		{ID: "a", AuthorID: "user-x", Content: "A", CreatedAtSeconds: 0},
		{ID: "r", AuthorID: "user-x", Content: "quick reply", ParentMessageID: "a", CreatedAtSeconds: 10},
		{ID: "b", AuthorID: "user-x", Content: "B", CreatedAtSeconds: 20},
	}

	views := MessageViews(messages, "user-x")
	if len(views) != 3 {
		t.Fatalf("expected 3 views, got %d", len(views))
	}
	// Render order: A, its reply, then B.
	if !views[1].Reply || views[1].Message.ID != "r" {
		t.Fatalf("expected reply view second, got %+v", views[1])
	}
	if views[1].GroupedWithPrevious {
		t.Fatalf("a reply must never group")
	}
	// B still groups with A across the intervening reply.
	if views[2].Message.ID != "b" || !views[2].GroupedWithPrevious {
		t.Fatalf("top-level grouping must skip replies, got %+v", views[2])
	}
}

func TestGroupingRespectsFiveMinuteGap(t *testing.T) {
	messages := []threads.MessagePayload{
		{ID: "a", AuthorID: "user-x", CreatedAtSeconds: 0},
		{ID: "b", AuthorID: "user-x", CreatedAtSeconds: 299},
		{ID: "c", AuthorID: "user-x", CreatedAtSeconds: 599},
	}

	views := MessageViews(messages, "user-x")
	if !views[1].GroupedWithPrevious {
		t.Fatalf("299s gap must group")
	}
	if views[2].GroupedWithPrevious {
		t.Fatalf("300s gap must not group")
	}
}

func TestReplyToReplyRendersUnderTopLevelAncestor(t *testing.T) {
	messages := []threads.MessagePayload{
		{ID: "root", AuthorID: "user-x", CreatedAtSeconds: 0},
		{ID: "reply-1", AuthorID: "user-y", ParentMessageID: "root", CreatedAtSeconds: 10},
		{ID: "reply-2", AuthorID: "user-z", ParentMessageID: "reply-1", CreatedAtSeconds: 20},
	}

	views := MessageViews(messages, "user-x")
	if len(views) != 3 {
		t.Fatalf("expected 3 views, got %d", len(views))
	}
	if !views[2].Reply || views[2].Message.ID != "reply-2" {
		t.Fatalf("expected clamped reply last, got %+v", views[2])
	}
	// Both replies sit in root's reply run, single level deep.
	if views[1].Message.ID != "reply-1" || !views[1].Reply {
		t.Fatalf("unexpected render order %+v", views)
	}
}

func TestGroupReactionsAggregatesAndFlagsMine(t *testing.T) {
	reactions := []threads.ReactionPayload{
		{Emoji: "👍", UserID: "user-x"},
		{Emoji: "👍", UserID: "user-y"},
		{Emoji: "🎉", UserID: "user-y"},
	}

	groups := GroupReactions(reactions, "user-x")
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].Emoji != "👍" || groups[0].Count != 2 || !groups[0].Mine {
		t.Fatalf("unexpected first group %+v", groups[0])
	}
	if groups[1].Emoji != "🎉" || groups[1].Count != 1 || groups[1].Mine {
		t.Fatalf("unexpected second group %+v", groups[1])
	}
}

func TestRendererAddModeLifecycle(t *testing.T) {
	renderer := NewRenderer("user-x")

	renderer.PlacePending(dom.Point{X: 5, Y: 5})
	if renderer.PendingPosition() != nil {
		t.Fatalf("placement outside add mode must be ignored")
	}

	renderer.EnterAddMode()
	renderer.PlacePending(dom.Point{X: 100, Y: 200})
	pending := renderer.PendingPosition()
	if pending == nil || pending.X != 100 || pending.Y != 200 {
		t.Fatalf("unexpected pending position %+v", pending)
	}

	renderer.ExitAddMode()
	if renderer.PendingPosition() != nil {
		t.Fatalf("exit must discard the pending placement")
	}
}

func TestRenderBuildsDetailForOpenThread(t *testing.T) {
	renderer := NewRenderer("user-x")
	renderer.OpenThread("thread-1")

	list := []threads.ThreadPayload{
		{
			ID:     "thread-1",
			Status: threads.StatusOpen,
			Messages: []threads.MessagePayload{
				{ID: "a", AuthorID: "user-x", Content: "hello", CreatedAtSeconds: 0},
			},
		},
	}
	states := map[string]position.MarkerState{
		"thread-1": {Point: dom.Point{X: 10, Y: 10}, Visible: true},
	}

	frame := renderer.Render(list, states)
	if frame.OpenThreadID != "thread-1" || len(frame.Messages) != 1 {
		t.Fatalf("unexpected frame %+v", frame)
	}
	if len(frame.Markers) != 1 || !frame.Markers[0].Selected {
		t.Fatalf("open thread's marker must be selected, got %+v", frame.Markers)
	}
}
