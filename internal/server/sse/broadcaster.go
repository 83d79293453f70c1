// Package sse streams engine events to Server-Sent Events clients.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is one SSE frame.
type Event struct {
	Event   string `json:"event,omitempty"`
	ID      string `json:"id,omitempty"`
	Project string `json:"-"`
	Data    any    `json:"data"`
}

// client is one connected stream, optionally scoped to a project.
type client struct {
	ch      chan Event
	project string
}

func (c *client) wants(e Event) bool {
	return c.project == "" || e.Project == "" || c.project == e.Project
}

// Broadcaster manages SSE connections.
type Broadcaster struct {
	clients    map[*client]bool
	newClients chan *client
	closed     chan *client
	events     chan Event
	mu         sync.RWMutex
	logger     *zerolog.Logger
}

// NewBroadcaster creates a broadcaster. Clients may connect before Run
// starts.
func NewBroadcaster(logger *zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		clients:    make(map[*client]bool),
		newClients: make(chan *client, 10),
		closed:     make(chan *client, 10),
		events:     make(chan Event, 256),
		logger:     logger,
	}
}

// Run is the broadcaster loop. It returns when ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for c := range b.clients {
				close(c.ch)
			}
			b.clients = make(map[*client]bool)
			b.mu.Unlock()
			b.logger.Info().Msg("SSE broadcaster shut down")
			return

		case c := <-b.newClients:
			b.mu.Lock()
			b.clients[c] = true
			n := len(b.clients)
			b.mu.Unlock()
			b.logger.Debug().Str("project", c.project).Int("total_clients", n).Msg("SSE client connected")

		case c := <-b.closed:
			b.mu.Lock()
			if b.clients[c] {
				delete(b.clients, c)
				close(c.ch)
			}
			n := len(b.clients)
			b.mu.Unlock()
			b.logger.Debug().Int("total_clients", n).Msg("SSE client disconnected")

		case event := <-b.events:
			b.mu.RLock()
			for c := range b.clients {
				if !c.wants(event) {
					continue
				}
				select {
				case c.ch <- event:
				default:
					b.logger.Warn().Str("event", event.Event).Msg("SSE client buffer full, event skipped")
				}
			}
			b.mu.RUnlock()
		}
	}
}

// Broadcast queues an event for every interested client.
func (b *Broadcaster) Broadcast(event Event) {
	select {
	case b.events <- event:
	default:
		b.logger.Warn().Msg("SSE broadcast channel full, event dropped")
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ServeHTTP streams events until the request is done. The optional project
// query parameter limits the stream to one project.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c := &client{ch: make(chan Event, 64), project: r.URL.Query().Get("project")}
	b.newClients <- c
	defer func() { b.closed <- c }()

	b.writeEvent(w, flusher, Event{
		Event: "connected",
		Data: map[string]any{
			"project":   c.project,
			"timestamp": time.Now().UTC(),
		},
	})

	for {
		select {
		case event, ok := <-c.ch:
			if !ok {
				return
			}
			b.writeEvent(w, flusher, event)
		case <-r.Context().Done():
			return
		}
	}
}

func (b *Broadcaster) writeEvent(w http.ResponseWriter, flusher http.Flusher, event Event) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		b.logger.Error().Err(err).Str("event", event.Event).Msg("Failed to marshal SSE event data")
		return
	}
	if event.Event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event.Event)
	}
	if event.ID != "" {
		_, _ = fmt.Fprintf(w, "id: %s\n", event.ID)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
