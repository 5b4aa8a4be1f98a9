package notify

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/reelrate/reelrate/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// Clients only send control frames.
	maxMessageSize = 512
)

// Handler upgrades GET /ws to a websocket that receives every hub message.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	pingPeriod time.Duration
}

// NewHandler creates the websocket endpoint. allowedOrigin is the client
// URL; an empty value or "*" accepts any origin.
func NewHandler(hub *Hub, allowedOrigin string, m *metrics.Metrics, logger zerolog.Logger) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigin),
		},
		metrics:    m,
		logger:     logger.With().Str("handler", "websocket").Logger(),
		pingPeriod: pingPeriod,
	}
}

func originChecker(allowed string) func(r *http.Request) bool {
	allowed = strings.TrimRight(allowed, "/")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowed == "" || allowed == "*" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Scheme+"://"+u.Host, allowed)
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Debug().Err(err).Str("origin", r.Header.Get("Origin")).Msg("websocket upgrade rejected")
		return
	}

	sub := h.hub.Subscribe()
	h.metrics.WSConnected()
	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("websocket connected")

	defer func() {
		h.hub.Unsubscribe(sub)
		h.metrics.WSDisconnected()
		_ = conn.Close()
		h.logger.Debug().Str("remote", r.RemoteAddr).Msg("websocket disconnected")
	}()

	done := make(chan struct{})
	go h.readPump(conn, done)

	h.writePump(conn, sub, done)
}

// readPump discards client frames and reports disconnects by closing done.
func (h *Handler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sub <-chan Message, done <-chan struct{}) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case msg, ok := <-sub:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed: server is shutting down.
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg.Body); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
