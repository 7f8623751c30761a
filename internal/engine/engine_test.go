package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/pinpoint-labs/pinpoint/internal/anchor"
	"github.com/pinpoint-labs/pinpoint/internal/apiclient"
	"github.com/pinpoint-labs/pinpoint/internal/dom"
	"github.com/pinpoint-labs/pinpoint/internal/realtime"
	"github.com/pinpoint-labs/pinpoint/internal/threads"
)

type fakeAPI struct {
	threads      []threads.ThreadPayload
	listCalls    int
	listErr      error
	added        []string
	removed      []string
	updates      []apiclient.UpdateThreadRequest
	createdCount int

	// beforeListReturns runs inside ListThreads, before it returns. Used to
	// dispose the engine while a load is in flight.
	beforeListReturns func()
}

func (f *fakeAPI) ListThreads(ctx context.Context, repo, branch string, status threads.Status) ([]threads.ThreadPayload, error) {
	f.listCalls++
	if f.beforeListReturns != nil {
		f.beforeListReturns()
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]threads.ThreadPayload(nil), f.threads...), nil
}

func (f *fakeAPI) GetThread(ctx context.Context, threadID string) (threads.ThreadPayload, error) {
	for _, thread := range f.threads {
		if thread.ID == threadID {
			return thread, nil
		}
	}
	return threads.ThreadPayload{}, apiclient.ErrNotFound
}

func (f *fakeAPI) CreateThread(ctx context.Context, request apiclient.CreateThreadRequest) (threads.ThreadPayload, error) {
	f.createdCount++
	created := threads.ThreadPayload{
		ID:          "created-thread",
		Repo:        request.Repo,
		Branch:      request.Branch,
		ContextType: request.ContextType,
		Selector:    request.Selector,
		Coordinates: request.Coordinates,
		Status:      threads.StatusOpen,
	}
	f.threads = append(f.threads, created)
	return created, nil
}

func (f *fakeAPI) UpdateThread(ctx context.Context, threadID string, request apiclient.UpdateThreadRequest) (threads.ThreadPayload, error) {
	f.updates = append(f.updates, request)
	for index := range f.threads {
		if f.threads[index].ID != threadID {
			continue
		}
		if request.Status != nil {
			f.threads[index].Status = *request.Status
		}
		if request.Selector != nil {
			f.threads[index].Selector = *request.Selector
		}
		if request.Coordinates != nil {
			f.threads[index].Coordinates = request.Coordinates
		}
		return f.threads[index], nil
	}
	return threads.ThreadPayload{}, apiclient.ErrNotFound
}

func (f *fakeAPI) AddMessage(ctx context.Context, threadID string, request apiclient.AddMessageRequest) (threads.MessagePayload, error) {
	return threads.MessagePayload{ID: "new-message", ThreadID: threadID, Content: request.Content}, nil
}

func (f *fakeAPI) AddReaction(ctx context.Context, threadID, messageID, emoji string) error {
	f.added = append(f.added, emoji)
	for t := range f.threads {
		for m := range f.threads[t].Messages {
			if f.threads[t].Messages[m].ID == messageID {
				f.threads[t].Messages[m].Reactions = append(f.threads[t].Messages[m].Reactions, threads.ReactionPayload{
					Emoji:  emoji,
					UserID: "user-ada",
				})
			}
		}
	}
	return nil
}

func (f *fakeAPI) RemoveReaction(ctx context.Context, threadID, messageID, emoji string) error {
	f.removed = append(f.removed, emoji)
	for t := range f.threads {
		for m := range f.threads[t].Messages {
			if f.threads[t].Messages[m].ID != messageID {
				continue
			}
			kept := f.threads[t].Messages[m].Reactions[:0]
			for _, reaction := range f.threads[t].Messages[m].Reactions {
				if !(reaction.UserID == "user-ada" && reaction.Emoji == emoji) {
					kept = append(kept, reaction)
				}
			}
			f.threads[t].Messages[m].Reactions = kept
		}
	}
	return nil
}

func coordinateThread(id string, x, y float64) threads.ThreadPayload {
	return threads.ThreadPayload{
		ID:          id,
		Repo:        "acme/storefront",
		ContextType: threads.ContextTypeUI,
		Coordinates: &threads.Coordinates{X: x, Y: y},
		Status:      threads.StatusOpen,
		Messages: []threads.MessagePayload{
			{ID: id + "-message", ThreadID: id, AuthorID: "user-grace", Content: "hello"},
		},
	}
}

func newTestEngine(t *testing.T, api *fakeAPI) *Engine {
	t.Helper()
	engine, err := NewEngine(Config{
		API:      api,
		Document: dom.NewDocument(),
		Repo:     "acme/storefront",
		UserID:   "user-ada",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(engine.Dispose)
	return engine
}

func TestLoadThreadsReplacesCacheAndTracksPositions(t *testing.T) {
	api := &fakeAPI{threads: []threads.ThreadPayload{coordinateThread("thread-1", 100, 200)}}
	engine := newTestEngine(t, api)

	if err := engine.LoadThreads(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cached := engine.Threads()
	if len(cached) != 1 || cached[0].ID != "thread-1" {
		t.Fatalf("unexpected cache %+v", cached)
	}

	// A coordinates-only anchor resolves to the literal point.
	states := engine.Positions()
	state, ok := states["thread-1"]
	if !ok || !state.Visible || state.Point.X != 100 || state.Point.Y != 200 {
		t.Fatalf("unexpected marker state %+v", states)
	}
}

func TestLoadFailureLeavesCacheIntact(t *testing.T) {
	api := &fakeAPI{threads: []threads.ThreadPayload{coordinateThread("thread-1", 100, 200)}}
	engine := newTestEngine(t, api)
	if err := engine.LoadThreads(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	api.listErr = errors.New("boom")
	if err := engine.LoadThreads(context.Background()); err == nil {
		t.Fatalf("expected load error")
	}
	if got := engine.Threads(); len(got) != 1 {
		t.Fatalf("failed load must keep the previous cache, got %+v", got)
	}
}

func TestToggleReactionAddsThenRemoves(t *testing.T) {
	api := &fakeAPI{threads: []threads.ThreadPayload{coordinateThread("thread-1", 100, 200)}}
	engine := newTestEngine(t, api)
	ctx := context.Background()
	if err := engine.LoadThreads(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := engine.ToggleReaction(ctx, "thread-1", "thread-1-message", "👍"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.added) != 1 || len(api.removed) != 0 {
		t.Fatalf("first toggle must add, got added=%v removed=%v", api.added, api.removed)
	}

	if err := engine.ToggleReaction(ctx, "thread-1", "thread-1-message", "👍"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.added) != 1 || len(api.removed) != 1 {
		t.Fatalf("second toggle must remove, got added=%v removed=%v", api.added, api.removed)
	}
}

func TestOpenThreadInstallsDetailInCache(t *testing.T) {
	api := &fakeAPI{threads: []threads.ThreadPayload{coordinateThread("thread-1", 100, 200)}}
	engine := newTestEngine(t, api)
	ctx := context.Background()
	if err := engine.LoadThreads(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	opened, err := engine.OpenThread(ctx, "thread-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(opened.Messages) != 1 {
		t.Fatalf("expected message detail, got %+v", opened)
	}
	cached := engine.Threads()
	if len(cached) != 1 || len(cached[0].Messages) != 1 {
		t.Fatalf("detail must land in the cache, got %+v", cached)
	}
}

func TestOpenThreadUnknownThreadSurfacesNotFound(t *testing.T) {
	api := &fakeAPI{}
	engine := newTestEngine(t, api)

	if _, err := engine.OpenThread(context.Background(), "missing"); !errors.Is(err, apiclient.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestToggleReactionUnknownMessageFails(t *testing.T) {
	api := &fakeAPI{threads: []threads.ThreadPayload{coordinateThread("thread-1", 100, 200)}}
	engine := newTestEngine(t, api)
	ctx := context.Background()
	if err := engine.LoadThreads(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := engine.ToggleReaction(ctx, "thread-1", "missing", "👍"); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("expected unknown message error, got %v", err)
	}
}

func TestResolveReloadsAndDropsThreadFromOpenList(t *testing.T) {
	api := &fakeAPI{threads: []threads.ThreadPayload{
		coordinateThread("thread-1", 100, 200),
		coordinateThread("thread-2", 300, 400),
	}}
	engine := newTestEngine(t, api)
	ctx := context.Background()
	if err := engine.LoadThreads(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The fake serves the full slice; emulate the open-only filter by
	// removing the resolved thread, as the real API would.
	resolvedAt := len(api.updates)
	if err := engine.Resolve(ctx, "thread-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.updates) != resolvedAt+1 || api.updates[resolvedAt].Status == nil || *api.updates[resolvedAt].Status != threads.StatusResolved {
		t.Fatalf("expected one status update, got %+v", api.updates)
	}

	api.threads = api.threads[1:]
	if err := engine.LoadThreads(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, thread := range engine.Threads() {
		if thread.ID == "thread-1" {
			t.Fatalf("resolved thread must drop from the open list")
		}
	}
	if _, tracked := engine.Positions()["thread-1"]; tracked {
		t.Fatalf("dropped thread must not stay tracked")
	}
}

func TestRepositionSendsSelectorAndCoordinatesTogether(t *testing.T) {
	api := &fakeAPI{threads: []threads.ThreadPayload{coordinateThread("thread-1", 100, 200)}}
	engine := newTestEngine(t, api)
	ctx := context.Background()
	if err := engine.LoadThreads(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	point := dom.Point{X: 50, Y: 60}
	if err := engine.Reposition(ctx, "thread-1", anchorAt("section.hero", point)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.updates) != 1 {
		t.Fatalf("expected one update, got %d", len(api.updates))
	}
	update := api.updates[0]
	if update.Selector == nil || *update.Selector != "section.hero" {
		t.Fatalf("expected selector in update, got %+v", update)
	}
	if update.Coordinates == nil || update.Coordinates.X != 50 {
		t.Fatalf("expected coordinates in update, got %+v", update)
	}
}

func TestCreateThreadDerivesSelectorFromElementUnderPoint(t *testing.T) {
	api := &fakeAPI{}
	doc := dom.NewDocument()
	section := doc.CreateElement("section")
	section.SetClasses("hero")
	section.SetRect(dom.Rect{X: 0, Y: 0, Width: 400, Height: 400})
	doc.Root().AppendChild(section)

	engine, err := NewEngine(Config{API: api, Document: doc, Repo: "acme/storefront", UserID: "user-ada"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer engine.Dispose()

	created, err := engine.CreateThread(context.Background(), dom.Point{X: 100, Y: 100}, "first", threads.PriorityNormal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Selector != "section.hero" {
		t.Fatalf("expected derived selector, got %q", created.Selector)
	}
	if created.Coordinates == nil || created.Coordinates.X != 100 {
		t.Fatalf("expected coordinate fallback retained, got %+v", created.Coordinates)
	}
}

func TestRealtimeMessageEventPatchesCache(t *testing.T) {
	api := &fakeAPI{threads: []threads.ThreadPayload{coordinateThread("thread-1", 100, 200)}}
	engine := newTestEngine(t, api)
	ctx := context.Background()
	if err := engine.LoadThreads(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loadsBefore := api.listCalls

	data, _ := json.Marshal(threads.MessagePayload{ID: "message-2", ThreadID: "thread-1", Content: "pushed"})
	event := realtime.Event{Op: threads.EventMessageAdded, Data: data}
	if err := engine.ApplyRealtimeEvent(ctx, event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if api.listCalls != loadsBefore {
		t.Fatalf("message events must patch, not reload")
	}
	cached := engine.Threads()
	if cached[0].MessageCount != 2 || len(cached[0].Messages) != 2 {
		t.Fatalf("expected patched cache, got %+v", cached[0])
	}

	// Duplicate delivery is a no-op.
	if err := engine.ApplyRealtimeEvent(ctx, event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := engine.Threads()[0]; got.MessageCount != 2 {
		t.Fatalf("duplicate event must not double-apply, got %+v", got)
	}
}

func TestRealtimeThreadEventTriggersReload(t *testing.T) {
	api := &fakeAPI{threads: []threads.ThreadPayload{coordinateThread("thread-1", 100, 200)}}
	engine := newTestEngine(t, api)
	ctx := context.Background()
	if err := engine.LoadThreads(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loadsBefore := api.listCalls

	data, _ := json.Marshal(threads.ThreadEventPayload{ThreadID: "thread-2"})
	if err := engine.ApplyRealtimeEvent(ctx, realtime.Event{Op: threads.EventThreadCreated, Data: data}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if api.listCalls != loadsBefore+1 {
		t.Fatalf("thread events must reload, got %d loads", api.listCalls)
	}
}

func TestDisposeDropsInFlightResponses(t *testing.T) {
	api := &fakeAPI{threads: []threads.ThreadPayload{coordinateThread("thread-1", 100, 200)}}
	engine := newTestEngine(t, api)

	api.beforeListReturns = func() { engine.Dispose() }
	if err := engine.LoadThreads(context.Background()); !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected disposed error, got %v", err)
	}
	if got := engine.Threads(); len(got) != 0 {
		t.Fatalf("late response must not touch a disposed engine, got %+v", got)
	}
}

func TestOperationsAfterDisposeFail(t *testing.T) {
	api := &fakeAPI{}
	engine := newTestEngine(t, api)
	engine.Dispose()

	if err := engine.LoadThreads(context.Background()); !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected disposed error, got %v", err)
	}
	if err := engine.Reply(context.Background(), "thread-1", "hi", ""); !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected disposed error, got %v", err)
	}
}

func anchorAt(selector string, point dom.Point) anchor.Anchor {
	return anchor.Anchor{Selector: selector, Coordinates: &point}
}
