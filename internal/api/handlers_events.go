package api

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jordanhubbard/beadhub/internal/events"
	"github.com/jordanhubbard/beadhub/internal/metrics"
	"github.com/jordanhubbard/beadhub/internal/sse"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Auth happens via bearer key or dashboard token, not origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// handleEventsWS bridges the workspace event stream onto a WebSocket.
// Each SSE frame body is forwarded as one text message, so browser
// dashboards get the same payloads the SSE endpoint serves.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}

	workspaceID := r.URL.Query().Get("workspace_id")
	if workspaceID == "" {
		workspaceID = id.AgentID
	}
	wsID, err := s.resolveWorkspace(r, id, workspaceID)
	if err != nil {
		s.respondError(w, err)
		return
	}

	categories := sse.ParseCategories(r.URL.Query().Get("categories"))
	if id.PublicReader {
		categories = map[events.Category]bool{events.CategoryBead: true}
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[API] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	m := metrics.NewMetrics()
	m.SSEStreams.Inc()
	defer m.SSEStreams.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain client frames so pings and close messages are processed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = sse.Stream(ctx, s.rdb, sse.Options{
		WorkspaceIDs: []string{wsID},
		Categories:   categories,
	}, func(frame string) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if frame == sse.KeepaliveFrame {
			return conn.WriteMessage(websocket.PingMessage, nil)
		}
		payload := strings.TrimSuffix(strings.TrimPrefix(frame, "data: "), "\n\n")
		return conn.WriteMessage(websocket.TextMessage, []byte(payload))
	})
	if err != nil {
		log.Printf("[API] websocket stream for %s ended with error: %v", wsID, err)
	}
}
