package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pinpoint-labs/pinpoint/internal/realtime"
	"github.com/pinpoint-labs/pinpoint/internal/threads"
)

const (
	writeDeadline     = 10 * time.Second
	pongDeadline      = 60 * time.Second
	pingInterval      = 45 * time.Second
	subscribeDeadline = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Cross-origin widgets are the normal case; authorization happens via
	// the bearer token, not the Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleRealtime upgrades the connection, waits for one subscribe frame, and
// streams room events until the peer disconnects. Authorization already ran
// in the middleware chain.
func (h *httpHandler) handleRealtime(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(subscribeDeadline))
	var request realtime.SubscribeRequest
	if err := conn.ReadJSON(&request); err != nil || request.Action != realtime.ActionSubscribe || len(request.Rooms) == 0 {
		h.closeWith(conn, websocket.CloseUnsupportedData, "expected subscribe frame")
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.dispatcher.Subscribe(ctx, request.Rooms)
	defer cleanup()

	ack, err := realtime.NewEvent("", realtime.OpSubscribeAck, threads.ThreadEventPayload{})
	if err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		err = conn.WriteJSON(ack)
	}
	if err != nil {
		h.logger.Warn("realtime ack failed", zap.Error(err))
		return
	}

	// Reader goroutine: we expect no further frames, but reading is what
	// surfaces pongs and the peer's close.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		conn.SetReadDeadline(time.Now().Add(pongDeadline))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongDeadline))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pings := time.NewTicker(pingInterval)
	defer pings.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-disconnected:
			return
		case <-pings.C:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event := <-stream:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}

func (h *httpHandler) closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeDeadline)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}
