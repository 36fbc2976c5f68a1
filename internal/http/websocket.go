package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"voice-agent-dashboard/internal/observability/logging"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	// The dashboard is served from another origin during development.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamViews pushes every published view to the client. Slow clients skip
// intermediate views and always receive the latest one.
func (h *handlers) streamViews(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Session()
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	defer conn.Close()

	logger := logging.WithSession(s.ID(), s.RoomName()).With().
		Str("component", "ws").
		Str("remote", r.RemoteAddr).
		Logger()
	logger.Debug().Msg("View stream opened")

	views, cancel := s.Subscribe()
	defer cancel()

	// Reads only serve to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			logger.Debug().Msg("View stream closed by client")
			return
		case v, ok := <-views:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := conn.WriteJSON(v); err != nil {
				logger.Debug().Err(err).Msg("View stream write failed")
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
