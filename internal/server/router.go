package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pinpoint-labs/pinpoint/internal/auth"
	"github.com/pinpoint-labs/pinpoint/internal/realtime"
	"github.com/pinpoint-labs/pinpoint/internal/threads"
	"github.com/pinpoint-labs/pinpoint/internal/users"
)

const userIDContextKey = "pinpoint_user_id"

var (
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingThreadsService = errors.New("threads service dependency required")
	errMissingDispatcher     = errors.New("realtime dispatcher dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates bearer tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, claims auth.UserClaims) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface to its collaborators.
type Dependencies struct {
	TokenManager   TokenManager
	ThreadsService *threads.Service
	UsersService   *users.Service
	Dispatcher     *realtime.Dispatcher
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router serving the thread API and the
// realtime websocket endpoint.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.ThreadsService == nil {
		return nil, errMissingThreadsService
	}
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:     deps.TokenManager,
		threads:    deps.ThreadsService,
		users:      deps.UsersService,
		dispatcher: deps.Dispatcher,
		logger:     logger,
	}

	router.POST("/auth/token", handler.handleIssueToken)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/threads", handler.handleListThreads)
	protected.POST("/threads", handler.handleCreateThread)
	protected.GET("/threads/:id", handler.handleGetThread)
	protected.PATCH("/threads/:id", handler.handleUpdateThread)
	protected.POST("/threads/:id/messages", handler.handleAddMessage)
	protected.PATCH("/threads/:id/messages/:message_id", handler.handleEditMessage)
	protected.DELETE("/threads/:id/messages/:message_id", handler.handleDeleteMessage)
	protected.POST("/threads/:id/messages/:message_id/reactions", handler.handleAddReaction)
	protected.DELETE("/threads/:id/messages/:message_id/reactions/:emoji", handler.handleRemoveReaction)
	protected.GET("/realtime", handler.handleRealtime)

	return router, nil
}

type httpHandler struct {
	tokens     TokenManager
	threads    *threads.Service
	users      *users.Service
	dispatcher *realtime.Dispatcher
	logger     *zap.Logger
}

type issueTokenRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

type issueTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleIssueToken(c *gin.Context) {
	var request issueTokenRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims := auth.UserClaims{
		Subject: strings.TrimSpace(request.UserID),
		Email:   request.Email,
		Name:    request.Name,
	}
	if h.users != nil {
		if _, err := h.users.EnsureIdentity(claims); err != nil {
			h.logger.Error("failed to record identity", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "identity_failed"})
			return
		}
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, issueTokenResponse{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type threadListResponse struct {
	Threads []threads.ThreadPayload `json:"threads"`
}

func (h *httpHandler) handleListThreads(c *gin.Context) {
	repo := strings.TrimSpace(c.Query("repo"))
	if repo == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_repo"})
		return
	}
	branch := strings.TrimSpace(c.Query("branch"))

	var status threads.Status
	if raw := c.Query("status"); raw != "" {
		parsed, err := threads.ParseStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
			return
		}
		status = parsed
	}

	list, err := h.threads.ListThreads(c.Request.Context(), repo, branch, status)
	if err != nil {
		h.respondServiceError(c, err, "thread_list_failed")
		return
	}
	c.JSON(http.StatusOK, threadListResponse{Threads: list})
}

type createThreadRequest struct {
	Repo        string               `json:"repo"`
	Branch      string               `json:"branch"`
	ContextType string               `json:"context_type"`
	Selector    string               `json:"selector"`
	XPath       string               `json:"xpath"`
	Coordinates *threads.Coordinates `json:"coordinates"`
	FilePath    string               `json:"file_path"`
	LineStart   int                  `json:"line_start"`
	LineEnd     int                  `json:"line_end"`
	Priority    string               `json:"priority"`
	Message     string               `json:"message"`
}

func (h *httpHandler) handleCreateThread(c *gin.Context) {
	var request createThreadRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	contextType, err := threads.ParseContextType(request.ContextType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_context_type"})
		return
	}
	priority := threads.PriorityNormal
	if request.Priority != "" {
		priority, err = threads.ParsePriority(request.Priority)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_priority"})
			return
		}
	}

	created, err := h.threads.CreateThread(c.Request.Context(), threads.CreateThreadRequest{
		Repo:        request.Repo,
		Branch:      request.Branch,
		ContextType: contextType,
		Selector:    request.Selector,
		XPath:       request.XPath,
		Coordinates: request.Coordinates,
		FilePath:    request.FilePath,
		LineStart:   request.LineStart,
		LineEnd:     request.LineEnd,
		Priority:    priority,
		CreatedBy:   c.GetString(userIDContextKey),
		Message:     request.Message,
	})
	if err != nil {
		h.respondServiceError(c, err, "thread_create_failed")
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleGetThread(c *gin.Context) {
	payload, err := h.threads.GetThread(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err, "thread_get_failed")
		return
	}
	c.JSON(http.StatusOK, payload)
}

type updateThreadRequest struct {
	Status      *string              `json:"status"`
	Priority    *string              `json:"priority"`
	Selector    *string              `json:"selector"`
	Coordinates *threads.Coordinates `json:"coordinates"`
}

func (h *httpHandler) handleUpdateThread(c *gin.Context) {
	var request updateThreadRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	update := threads.UpdateThreadRequest{
		Selector:    request.Selector,
		Coordinates: request.Coordinates,
	}
	if request.Status != nil {
		status, err := threads.ParseStatus(*request.Status)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
			return
		}
		update.Status = &status
	}
	if request.Priority != nil {
		priority, err := threads.ParsePriority(*request.Priority)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_priority"})
			return
		}
		update.Priority = &priority
	}

	payload, err := h.threads.UpdateThread(c.Request.Context(), c.Param("id"), update)
	if err != nil {
		h.respondServiceError(c, err, "thread_update_failed")
		return
	}
	c.JSON(http.StatusOK, payload)
}

type addMessageRequest struct {
	Content         string `json:"content"`
	ParentMessageID string `json:"parent_message_id"`
}

func (h *httpHandler) handleAddMessage(c *gin.Context) {
	var request addMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	payload, err := h.threads.AddMessage(c.Request.Context(), threads.AddMessageRequest{
		ThreadID:        c.Param("id"),
		AuthorID:        c.GetString(userIDContextKey),
		Content:         request.Content,
		ParentMessageID: request.ParentMessageID,
	})
	if err != nil {
		h.respondServiceError(c, err, "message_add_failed")
		return
	}
	c.JSON(http.StatusCreated, payload)
}

type editMessageRequest struct {
	Content string `json:"content"`
}

func (h *httpHandler) handleEditMessage(c *gin.Context) {
	var request editMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	payload, err := h.threads.EditMessage(c.Request.Context(), c.Param("message_id"), request.Content)
	if err != nil {
		h.respondServiceError(c, err, "message_edit_failed")
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleDeleteMessage(c *gin.Context) {
	if err := h.threads.DeleteMessage(c.Request.Context(), c.Param("message_id")); err != nil {
		h.respondServiceError(c, err, "message_delete_failed")
		return
	}
	c.Status(http.StatusNoContent)
}

type addReactionRequest struct {
	Emoji string `json:"emoji"`
}

func (h *httpHandler) handleAddReaction(c *gin.Context) {
	var request addReactionRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Emoji) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.threads.AddReaction(c.Request.Context(), c.Param("message_id"), c.GetString(userIDContextKey), request.Emoji)
	if err != nil {
		h.respondServiceError(c, err, "reaction_add_failed")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleRemoveReaction(c *gin.Context) {
	err := h.threads.RemoveReaction(c.Request.Context(), c.Param("message_id"), c.GetString(userIDContextKey), c.Param("emoji"))
	if err != nil {
		h.respondServiceError(c, err, "reaction_remove_failed")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

// bearerToken extracts the credential from the Authorization header, falling
// back to the token query parameter for websocket clients that cannot set
// headers.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(c.Query("token"))
}

// respondServiceError maps service failures onto HTTP statuses: sentinel
// validation errors to 400, missing rows to 404, everything else to 500 with
// the fallback code.
func (h *httpHandler) respondServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, threads.ErrThreadNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "thread_not_found"})
	case errors.Is(err, threads.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message_not_found"})
	case errors.Is(err, threads.ErrInvalidRepo),
		errors.Is(err, threads.ErrInvalidContextType),
		errors.Is(err, threads.ErrInvalidStatus),
		errors.Is(err, threads.ErrInvalidPriority),
		errors.Is(err, threads.ErrMissingAnchor),
		errors.Is(err, threads.ErrMissingFilePath):
		c.JSON(http.StatusBadRequest, gin.H{"error": serviceErrorCode(err, "invalid_request")})
	default:
		h.logger.Error("thread api request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func serviceErrorCode(err error, fallback string) string {
	var serviceErr *threads.ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return fallback
}
