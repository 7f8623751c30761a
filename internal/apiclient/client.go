// Package apiclient is the widget-side HTTP client for the thread API. Every
// method maps to one endpoint and returns decoded wire payloads; the engine
// layers caching and reload policy on top.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pinpoint-labs/pinpoint/internal/threads"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 15 * time.Second

var (
	errMissingBaseURL = errors.New("apiclient: base url is required")

	// ErrUnauthorized indicates the server rejected the bearer token.
	ErrUnauthorized = errors.New("apiclient: unauthorized")
	// ErrNotFound indicates the addressed thread or message does not exist.
	ErrNotFound = errors.New("apiclient: not found")
)

// StatusError carries a non-2xx response the sentinel errors do not cover.
type StatusError struct {
	StatusCode int
	Code       string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("apiclient: server returned %d (%s)", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("apiclient: server returned %d", e.StatusCode)
}

// Config configures a Client.
type Config struct {
	// BaseURL is the API origin, for example "https://api.pinpoint.dev".
	BaseURL string
	// Token is sent as a bearer credential on every request.
	Token string
	// HTTPClient overrides the transport. Optional; the default applies a
	// 15 second timeout.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client is a typed thread API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient validates the configuration and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    base,
		token:      cfg.Token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CreateThreadRequest is the POST /threads body.
type CreateThreadRequest struct {
	Repo        string               `json:"repo"`
	Branch      string               `json:"branch,omitempty"`
	ContextType threads.ContextType  `json:"context_type"`
	Selector    string               `json:"selector,omitempty"`
	XPath       string               `json:"xpath,omitempty"`
	Coordinates *threads.Coordinates `json:"coordinates,omitempty"`
	FilePath    string               `json:"file_path,omitempty"`
	LineStart   int                  `json:"line_start,omitempty"`
	LineEnd     int                  `json:"line_end,omitempty"`
	Priority    threads.Priority     `json:"priority,omitempty"`
	Message     string               `json:"message"`
}

// UpdateThreadRequest is the PATCH /threads/:id body. Nil fields are omitted
// and left untouched server-side.
type UpdateThreadRequest struct {
	Status      *threads.Status      `json:"status,omitempty"`
	Priority    *threads.Priority    `json:"priority,omitempty"`
	Selector    *string              `json:"selector,omitempty"`
	Coordinates *threads.Coordinates `json:"coordinates,omitempty"`
}

// AddMessageRequest is the POST /threads/:id/messages body.
type AddMessageRequest struct {
	Content         string `json:"content"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
}

type editMessageRequest struct {
	Content string `json:"content"`
}

type addReactionRequest struct {
	Emoji string `json:"emoji"`
}

type threadListResponse struct {
	Threads []threads.ThreadPayload `json:"threads"`
}

// ListThreads fetches the summary thread list for (repo, branch), optionally
// filtered by status.
func (c *Client) ListThreads(ctx context.Context, repo, branch string, status threads.Status) ([]threads.ThreadPayload, error) {
	query := url.Values{}
	query.Set("repo", repo)
	if branch != "" {
		query.Set("branch", branch)
	}
	if status != "" {
		query.Set("status", string(status))
	}
	var response threadListResponse
	if err := c.do(ctx, http.MethodGet, "/threads?"+query.Encode(), nil, &response); err != nil {
		return nil, err
	}
	return response.Threads, nil
}

// GetThread fetches one thread with full messages and reactions.
func (c *Client) GetThread(ctx context.Context, threadID string) (threads.ThreadPayload, error) {
	var payload threads.ThreadPayload
	if err := c.do(ctx, http.MethodGet, "/threads/"+url.PathEscape(threadID), nil, &payload); err != nil {
		return threads.ThreadPayload{}, err
	}
	return payload, nil
}

// CreateThread creates a thread with its first message.
func (c *Client) CreateThread(ctx context.Context, request CreateThreadRequest) (threads.ThreadPayload, error) {
	var payload threads.ThreadPayload
	if err := c.do(ctx, http.MethodPost, "/threads", request, &payload); err != nil {
		return threads.ThreadPayload{}, err
	}
	return payload, nil
}

// UpdateThread applies a partial update.
func (c *Client) UpdateThread(ctx context.Context, threadID string, request UpdateThreadRequest) (threads.ThreadPayload, error) {
	var payload threads.ThreadPayload
	if err := c.do(ctx, http.MethodPatch, "/threads/"+url.PathEscape(threadID), request, &payload); err != nil {
		return threads.ThreadPayload{}, err
	}
	return payload, nil
}

// AddMessage posts a reply to a thread.
func (c *Client) AddMessage(ctx context.Context, threadID string, request AddMessageRequest) (threads.MessagePayload, error) {
	var payload threads.MessagePayload
	path := "/threads/" + url.PathEscape(threadID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, request, &payload); err != nil {
		return threads.MessagePayload{}, err
	}
	return payload, nil
}

// EditMessage replaces a message's content.
func (c *Client) EditMessage(ctx context.Context, threadID, messageID, content string) (threads.MessagePayload, error) {
	var payload threads.MessagePayload
	path := "/threads/" + url.PathEscape(threadID) + "/messages/" + url.PathEscape(messageID)
	if err := c.do(ctx, http.MethodPatch, path, editMessageRequest{Content: content}, &payload); err != nil {
		return threads.MessagePayload{}, err
	}
	return payload, nil
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, threadID, messageID string) error {
	path := "/threads/" + url.PathEscape(threadID) + "/messages/" + url.PathEscape(messageID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// AddReaction records an emoji reaction on a message.
func (c *Client) AddReaction(ctx context.Context, threadID, messageID, emoji string) error {
	path := "/threads/" + url.PathEscape(threadID) + "/messages/" + url.PathEscape(messageID) + "/reactions"
	return c.do(ctx, http.MethodPost, path, addReactionRequest{Emoji: emoji}, nil)
}

// RemoveReaction removes the caller's reaction from a message.
func (c *Client) RemoveReaction(ctx context.Context, threadID, messageID, emoji string) error {
	path := "/threads/" + url.PathEscape(threadID) + "/messages/" + url.PathEscape(messageID) + "/reactions/" + url.PathEscape(emoji)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("apiclient: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("apiclient: build request: %w", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("apiclient: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return c.statusError(method, path, response)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("apiclient: decode response: %w", err)
	}
	return nil
}

func (c *Client) statusError(method, path string, response *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(response.Body, 4096)).Decode(&payload); err != nil {
		payload.Error = ""
	}
	c.logger.Warn("thread api request failed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", response.StatusCode),
		zap.String("code", payload.Error),
	)
	switch response.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, payload.Error)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, payload.Error)
	default:
		return &StatusError{StatusCode: response.StatusCode, Code: payload.Error}
	}
}
