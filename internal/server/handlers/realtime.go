package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/agentstation/ratify/internal/server/events"
	ws "github.com/agentstation/ratify/internal/server/websocket"
)

// HandleWebSocket handles GET /updates/ws. The optional project query
// scopes the stream to one project.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	project := r.URL.Query().Get("project")
	id := uuid.NewString()
	client := ws.NewClient(id, project, h.wsHub, conn)
	h.wsHub.Register(client)
	h.wsHub.Broadcast(ws.Message{
		Type:      string(events.ClientConnected),
		ProjectID: project,
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"client_id": id},
	})

	go client.WritePump()
	go client.ReadPump()
}

// HandleSSE handles GET /updates/stream.
func (h *Handlers) HandleSSE(w http.ResponseWriter, r *http.Request) {
	h.sseBroadcaster.ServeHTTP(w, r)
}
