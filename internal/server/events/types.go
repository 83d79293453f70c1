// Package events fans engine events out to the real-time transports.
//
// Engine hooks publish into a Broker, which forwards each event, in order,
// to every subscriber (WebSocket hub, SSE broadcaster).
package events

import "time"

// EventType names an engine event.
type EventType string

// Event types.
const (
	ProposalSubmitted  EventType = "proposal.submitted"
	ProposalPreviewed  EventType = "proposal.previewed"
	ProposalApplied    EventType = "proposal.applied"
	ProposalDiscarded  EventType = "proposal.discarded"
	ProposalTransition EventType = "proposal.transition"
	EntityChanged      EventType = "entity.changed"
	ClientConnected    EventType = "client.connected"
)

// Event is one published event.
type Event struct {
	Seq       uint64    `json:"seq"`
	Type      EventType `json:"type"`
	ProjectID string    `json:"project_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}
