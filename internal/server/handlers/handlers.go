// Package handlers provides the HTTP handlers of the ratify API.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentstation/ratify"
	"github.com/agentstation/ratify/internal/server/cache"
	"github.com/agentstation/ratify/internal/server/events"
	"github.com/agentstation/ratify/internal/server/response"
	"github.com/agentstation/ratify/internal/server/sse"
	ws "github.com/agentstation/ratify/internal/server/websocket"
	"github.com/agentstation/ratify/pkg/errors"
)

// maxBody bounds request bodies.
const maxBody = 4 << 20

// Handlers holds handler dependencies.
type Handlers struct {
	engine         ratify.Engine
	cache          *cache.Cache
	broker         *events.Broker
	wsHub          *ws.Hub
	sseBroadcaster *sse.Broadcaster
	upgrader       websocket.Upgrader
	logger         *zerolog.Logger
	startTime      time.Time
}

// New creates a Handlers instance.
func New(
	engine ratify.Engine,
	cache *cache.Cache,
	broker *events.Broker,
	wsHub *ws.Hub,
	sseBroadcaster *sse.Broadcaster,
	upgrader websocket.Upgrader,
	logger *zerolog.Logger,
) *Handlers {
	return &Handlers{
		engine:         engine,
		cache:          cache,
		broker:         broker,
		wsHub:          wsHub,
		sseBroadcaster: sseBroadcaster,
		upgrader:       upgrader,
		logger:         logger,
		startTime:      time.Now(),
	}
}

// idsRequest is the body of the batch endpoints.
type idsRequest struct {
	IDs []string `json:"ids"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		response.BadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// cached serves key from the read cache or fills it with load.
func (h *Handlers) cached(w http.ResponseWriter, key string, load func() (any, error)) {
	if v, ok := h.cache.Get(key); ok {
		w.Header().Set("X-Cache", "HIT")
		response.OK(w, v)
		return
	}
	v, err := load()
	if err != nil {
		response.ErrorFrom(w, err)
		return
	}
	h.cache.Set(key, v)
	w.Header().Set("X-Cache", "MISS")
	response.OK(w, v)
}

// splitList parses a comma separated query value, dropping empty items.
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func projectMismatch(path, body string) error {
	return errors.NewValidationError("project_id", body, "does not match project "+path+" in the path")
}
