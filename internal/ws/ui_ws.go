package ws

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-client/internal/observability"
)

// Sessions is the slice of the session manager the push handler needs.
type Sessions interface {
	IsOpen(conversationID int64) bool
}

// UIHandler upgrades UI connections onto conversation rooms. The UI
// receives every store change for the conversations it watches, so it
// never polls.
type UIHandler struct {
	hub      *Hub
	sessions Sessions
	token    string
	userID   int64
}

// NewUIHandler constructs a UIHandler.
func NewUIHandler(hub *Hub, sessions Sessions, token string, userID int64) *UIHandler {
	return &UIHandler{hub: hub, sessions: sessions, token: token, userID: userID}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and registers the client.
func (h *UIHandler) Handle(c *gin.Context) {
	conversationID, err := strconv.ParseInt(c.Param("conversation_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	ctx, span := otel.Tracer("chat-client/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
		if token != "" {
			token = "Bearer " + token
		}
	}
	if !h.validToken(token) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	if !h.sessions.IsOpen(conversationID) {
		c.JSON(http.StatusConflict, gin.H{"error": "conversation not open"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      h.userID,
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	h.hub.AddClient(conversationID, conn, info)

	observability.IncWSActive("ui")
	observability.IncWSEvent("ui", "ws_connect")
	_ = observability.PublishEvent(ctx, uiRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_connect",
		Payload:   wsEventPayload(conversationID, "ws_connect", info, 0, ""),
	}, observability.ConversationHeaders(conversationID, requestID, traceID))

	// Keep connection alive and clean on close
	go func() {
		var closeReason string
		defer func() {
			h.hub.RemoveClient(conversationID, conn)
			observability.DecWSActive("ui")
			observability.IncWSEvent("ui", "ws_disconnect")
			_ = observability.PublishEvent(ctx, uiRoutingKey, observability.EventEnvelope{
				EventType: "ws_events",
				EventName: "ws_disconnect",
				Payload:   wsEventPayload(conversationID, "ws_disconnect", info, time.Since(info.ConnectedAt), closeReason),
			}, observability.ConversationHeaders(conversationID, requestID, traceID))
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent("ui", "ws_error")
					_ = observability.PublishEvent(ctx, uiRoutingKey, observability.EventEnvelope{
						EventType: "ws_events",
						EventName: "ws_error",
						Payload:   wsEventPayload(conversationID, "ws_error", info, time.Since(info.ConnectedAt), closeReason),
					}, observability.ConversationHeaders(conversationID, requestID, traceID))
				}
				return
			}
		}
	}()
}

func (h *UIHandler) validToken(header string) bool {
	if h.token == "" {
		return true
	}
	parts := strings.SplitN(header, " ", 2)
	return len(parts) == 2 && strings.EqualFold(parts[0], "bearer") && parts[1] == h.token
}
