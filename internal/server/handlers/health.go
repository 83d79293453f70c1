package handlers

import (
	"net/http"
	"time"

	"github.com/agentstation/ratify/internal/server/response"
)

// HandleHealth handles GET /health, the liveness probe.
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, map[string]any{
		"status":  "healthy",
		"service": "ratify",
		"version": "v1",
	})
}

// HandleReady handles GET /ready. The engine must answer a read within the
// request deadline.
func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := h.engine.List(r.Context(), "_ready"); err != nil {
		h.logger.Warn().Err(err).Msg("Readiness check failed")
		response.JSON(w, http.StatusServiceUnavailable, response.Fail("SERVICE_UNAVAILABLE", "engine not ready", nil))
		return
	}
	response.OK(w, map[string]any{
		"status":            "ready",
		"uptime":            time.Since(h.startTime).Round(time.Second).String(),
		"cache":             h.cache.GetStats(),
		"events":            h.broker.Stats(),
		"websocket_clients": h.wsHub.ClientCount(),
		"sse_clients":       h.sseBroadcaster.ClientCount(),
	})
}
