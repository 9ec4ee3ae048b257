package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	eventsWriteTimeout = 10 * time.Second
	eventsReadLimit    = 512
)

type letterEventPayload struct {
	Type      string   `json:"type"`
	LetterIDs []string `json:"letterIds,omitempty"`
	Timestamp string   `json:"timestamp"`
	Source    string   `json:"source"`
}

func newLetterEventPayload(message RealtimeMessage) letterEventPayload {
	return letterEventPayload{
		Type:      message.EventType,
		LetterIDs: message.LetterIDs,
		Timestamp: message.Timestamp.UTC().Format(time.RFC3339Nano),
		Source:    realtimeSource,
	}
}

func (h *httpHandler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := strings.TrimRight(r.Header.Get("Origin"), "/")
			if origin == "" {
				return true
			}
			for _, allowed := range h.allowedOrigins {
				if allowed == "*" || strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// handleLetterEvents streams letter-change events of the caller over a
// websocket until either side closes the connection.
func (h *httpHandler) handleLetterEvents(c *gin.Context) {
	identity := identityFromContext(c)
	conn, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Info("letter events upgrade failed", zap.String("user_id", identity.UserID), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	stream, unsubscribe := h.realtime.Subscribe(ctx, identity.UserID)
	defer unsubscribe()

	// Inbound frames are ignored; reading is what surfaces the peer closing.
	conn.SetReadLimit(eventsReadLimit)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(eventsWriteTimeout))
			return
		case message, ok := <-stream:
			if !ok {
				return
			}
			if err := h.writeEvent(conn, newLetterEventPayload(message)); err != nil {
				h.logger.Info("letter events write failed", zap.String("user_id", identity.UserID), zap.Error(err))
				return
			}
		case tick := <-ticker.C:
			heartbeat := letterEventPayload{
				Type:      realtimeEventHeartbeat,
				Timestamp: tick.UTC().Format(time.RFC3339Nano),
				Source:    realtimeSource,
			}
			if err := h.writeEvent(conn, heartbeat); err != nil {
				h.logger.Info("letter events heartbeat failed", zap.String("user_id", identity.UserID), zap.Error(err))
				return
			}
		}
	}
}

func (h *httpHandler) writeEvent(conn *websocket.Conn, payload letterEventPayload) error {
	if err := conn.SetWriteDeadline(time.Now().Add(eventsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(payload)
}
