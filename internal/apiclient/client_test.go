package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pinpoint-labs/pinpoint/internal/threads"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL, Token: "test-token"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return client
}

func TestListThreadsSendsQueryAndBearerToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/threads" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Fatalf("unexpected authorization header %q", got)
		}
		query := r.URL.Query()
		if query.Get("repo") != "acme/storefront" || query.Get("branch") != "main" || query.Get("status") != "open" {
			t.Fatalf("unexpected query %v", query)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"threads": []threads.ThreadPayload{{ID: "thread-1", Status: threads.StatusOpen}},
		})
	})

	result, err := client.ListThreads(context.Background(), "acme/storefront", "main", threads.StatusOpen)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 1 || result[0].ID != "thread-1" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestCreateThreadPostsBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/threads" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var request CreateThreadRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		if request.ContextType != threads.ContextTypeUI || request.Coordinates == nil || request.Coordinates.X != 100 {
			t.Fatalf("unexpected body %+v", request)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(threads.ThreadPayload{ID: "thread-1"})
	})

	payload, err := client.CreateThread(context.Background(), CreateThreadRequest{
		Repo:        "acme/storefront",
		ContextType: threads.ContextTypeUI,
		Coordinates: &threads.Coordinates{X: 100, Y: 200},
		Message:     "hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.ID != "thread-1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestRemoveReactionEscapesEmojiInPath(t *testing.T) {
	var requestedPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.RemoveReaction(context.Background(), "thread-1", "message-1", "👍"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if requestedPath != "/threads/thread-1/messages/message-1/reactions/%F0%9F%91%8D" {
		t.Fatalf("unexpected path %q", requestedPath)
	}
}

func TestUnauthorizedMapsToSentinel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	})

	_, err := client.ListThreads(context.Background(), "acme/storefront", "", "")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized sentinel, got %v", err)
	}
}

func TestNotFoundMapsToSentinel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "thread_not_found"})
	})

	_, err := client.GetThread(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found sentinel, got %v", err)
	}
}

func TestServerErrorCarriesStatusAndCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "thread_create_failed"})
	})

	_, err := client.CreateThread(context.Background(), CreateThreadRequest{
		Repo:        "acme/storefront",
		ContextType: threads.ContextTypeUI,
		Coordinates: &threads.Coordinates{X: 1, Y: 2},
		Message:     "hello",
	})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected status error, got %v", err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError || statusErr.Code != "thread_create_failed" {
		t.Fatalf("unexpected status error %+v", statusErr)
	}
}
