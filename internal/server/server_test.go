package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/ratify"
	"github.com/agentstation/ratify/pkg/logging"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type harness struct {
	t   *testing.T
	srv *Server
	ts  *httptest.Server
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	engine, err := ratify.New(ratify.WithLogger(logging.NewNopLogger()), ratify.WithMetrics(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	cfg := DefaultConfig()
	cfg.RateLimit = 0
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(engine, cfg, logging.NewNopLogger())
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &harness{t: t, srv: srv, ts: ts}
}

func (h *harness) do(method, path string, body any) (*http.Response, envelope) {
	h.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(h.t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, r)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	var env envelope
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&env))
	}
	return resp, env
}

func (h *harness) createFeature(project, name string) string {
	h.t.Helper()
	resp, env := h.do(http.MethodPost, "/api/v1/projects/"+project+"/entities", map[string]any{
		"operation":   "create",
		"entity_type": "feature",
		"data":        map[string]any{"name": name, "status": "planned"},
	})
	require.Equal(h.t, http.StatusOK, resp.StatusCode, "%+v", env.Error)
	var res struct {
		Record struct {
			Ref struct {
				ID string `json:"entity_id"`
			} `json:"ref"`
		} `json:"record"`
	}
	require.NoError(h.t, json.Unmarshal(env.Data, &res))
	return res.Record.Ref.ID
}

func (h *harness) submitRename(project, id, from, to string) string {
	h.t.Helper()
	resp, env := h.do(http.MethodPost, "/api/v1/projects/"+project+"/proposals", map[string]any{
		"title":         "rename " + from,
		"proposal_type": "feature_update",
		"changes": []map[string]any{{
			"entity_type": "feature",
			"operation":   "update",
			"entity_id":   id,
			"before":      map[string]any{"name": from, "status": "planned"},
			"after":       map[string]any{"name": to, "status": "planned"},
			"evidence":    []map[string]any{{"chunk_id": "doc-1#" + to, "excerpt": "call it " + to}},
		}},
	})
	require.Equal(h.t, http.StatusCreated, resp.StatusCode, "%+v", env.Error)
	var res struct {
		Proposal struct {
			ID string `json:"id"`
		} `json:"proposal"`
	}
	require.NoError(h.t, json.Unmarshal(env.Data, &res))
	return res.Proposal.ID
}

func TestServerNewDoesNotBlock(t *testing.T) {
	engine, err := ratify.New(ratify.WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)
	defer engine.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv, err := New(engine, DefaultConfig(), logging.NewNopLogger())
		assert.NoError(t, err)
		assert.NoError(t, srv.Shutdown(context.Background()))
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("New or Shutdown blocked without Start")
	}
}

func TestConfigValidate(t *testing.T) {
	engine, err := ratify.New(ratify.WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)
	defer engine.Close()

	for name, mutate := range map[string]func(*Config){
		"port":          func(c *Config) { c.Port = 70000 },
		"prefix":        func(c *Config) { c.PathPrefix = "api/" },
		"auth sans key": func(c *Config) { c.AuthEnabled = true },
		"rate":          func(c *Config) { c.RateLimit = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			_, err := New(engine, cfg, logging.NewNopLogger())
			assert.Error(t, err)
		})
	}
	assert.Equal(t, "localhost:8080", DefaultConfig().Addr())
}

func TestProposalLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t, nil)
	id := h.createFeature("acme", "Login")

	a := h.submitRename("acme", id, "Login", "Sign In")
	b := h.submitRename("acme", id, "Login", "Log In")

	resp, env := h.do(http.MethodGet, "/api/v1/projects/acme/proposals?status=pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	var list []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 2)
	assert.Equal(t, a, list[0]["id"])
	assert.Equal(t, true, list[1]["has_conflicts"])

	resp, _ = h.do(http.MethodGet, "/api/v1/projects/acme/proposals?status=pending", nil)
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))

	resp, env = h.do(http.MethodGet, "/api/v1/projects/acme/proposals/eligible", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, fmt.Sprintf(`{"ids":[%q]}`, a), string(env.Data))

	resp, env = h.do(http.MethodPost, "/api/v1/proposals/"+b+"/apply", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "CONFLICT", env.Error.Code)
	assert.Equal(t, []any{a}, env.Error.Details["conflicting_proposal_ids"])

	resp, _ = h.do(http.MethodPost, "/api/v1/proposals/"+a+"/preview", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, env = h.do(http.MethodPost, "/api/v1/proposals/"+a+"/apply", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "%+v", env.Error)

	// The apply invalidated the cached listing.
	resp, _ = h.do(http.MethodGet, "/api/v1/projects/acme/proposals?status=pending", nil)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))

	resp, env = h.do(http.MethodPost, "/api/v1/proposals/"+b+"/apply", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "STALE", env.Error.Code)
	assert.NotEmpty(t, env.Error.Details["reason"])

	resp, env = h.do(http.MethodPost, "/api/v1/proposals/"+a+"/apply", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "INVALID_STATE", env.Error.Code)

	resp, env = h.do(http.MethodPost, "/api/v1/projects/acme/proposals/batch-discard", map[string]any{"ids": []string{b, a}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var batch struct {
		Outcomes []struct {
			Status string `json:"status"`
		} `json:"outcomes"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &batch))
	require.Len(t, batch.Outcomes, 2)
	assert.Equal(t, "discarded", batch.Outcomes[0].Status)
	assert.Equal(t, "skipped", batch.Outcomes[1].Status)

	resp, env = h.do(http.MethodGet, "/api/v1/projects/acme/entities/feature/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(env.Data), `"name":"Sign In"`)

	resp, env = h.do(http.MethodGet, "/api/v1/proposals/"+a+"/evidence", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	require.Len(t, entries, 1)

	resp, env = h.do(http.MethodGet, "/api/v1/projects/acme/entities/feature/"+id+"/evidence", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	assert.Len(t, entries, 1)
}

func TestPreviewInvalidatesCachedProposal(t *testing.T) {
	h := newHarness(t, nil)
	id := h.createFeature("acme", "Login")
	a := h.submitRename("acme", id, "Login", "Sign In")

	status := func() (string, string) {
		resp, env := h.do(http.MethodGet, "/api/v1/proposals/"+a, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var p struct {
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &p))
		return p.Status, resp.Header.Get("X-Cache")
	}

	got, hit := status()
	assert.Equal(t, "pending", got)
	assert.Equal(t, "MISS", hit)
	_, hit = status()
	assert.Equal(t, "HIT", hit)

	resp, env := h.do(http.MethodPost, "/api/v1/proposals/"+a+"/preview", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "%+v", env.Error)

	got, hit = status()
	assert.Equal(t, "previewed", got)
	assert.Equal(t, "MISS", hit)
}

func TestRequestErrors(t *testing.T) {
	h := newHarness(t, nil)

	resp, env := h.do(http.MethodGet, "/api/v1/proposals/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	resp, env = h.do(http.MethodGet, "/api/v1/projects/acme/proposals?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "BAD_REQUEST", env.Error.Code)

	resp, env = h.do(http.MethodGet, "/api/v1/projects/acme/entities?kind=widget", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)

	resp, env = h.do(http.MethodPost, "/api/v1/projects/acme/proposals", map[string]any{"title": "empty"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)

	resp, env = h.do(http.MethodPost, "/api/v1/projects/acme/entities", map[string]any{
		"project_id": "globex", "operation": "create", "entity_type": "feature",
		"data": map[string]any{"name": "X", "status": "planned"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)

	resp, env = h.do(http.MethodGet, "/api/v1/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	resp, _ = h.do(http.MethodDelete, "/api/v1/proposals/p1", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestProbesAndMetrics(t *testing.T) {
	h := newHarness(t, nil)

	resp, env := h.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(env.Data), "healthy")
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, env = h.do(http.MethodGet, "/api/v1/ready", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(env.Data), "sse_clients")
	assert.Contains(t, string(env.Data), `"dropped":0`)

	h.createFeature("acme", "Login")
	resp, err := http.Get(h.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `ratify_operations_total{operation="edit",outcome="ok"} 1`)
}

func TestAuthAndRateLimit(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.AuthEnabled = true
		c.APIKey = "k"
		c.RateLimit = 0.01
		c.RateBurst = 2
	})

	resp, _ := h.do(http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, env := h.do(http.MethodGet, "/api/v1/projects/acme/proposals", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	// Both requests above consumed the burst.
	resp, env = h.do(http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMITED", env.Error.Code)
}

func TestEventsStreamOverSSE(t *testing.T) {
	h := newHarness(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.ts.URL+"/api/v1/updates/stream?project=acme", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	name, _ := readEvent(t, r)
	require.Equal(t, "connected", name)
	require.Eventually(t, func() bool { return h.srv.sseBroadcaster.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	h.createFeature("globex", "Ignored")
	h.createFeature("acme", "Login")

	name, data := readEvent(t, r)
	assert.Equal(t, "entity.changed", name)
	assert.Contains(t, data, `"project_id":"acme"`)
	assert.Contains(t, data, `"operation":"create"`)
}

func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			return name, data
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}
