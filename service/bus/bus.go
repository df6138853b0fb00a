// Package bus is the cross-worker fan-out fabric. One worker's publish
// reaches sockets physically held open on other workers; delivery is
// best-effort at-most-once, the durable store stays the authority for
// "was it sent".
package bus

import (
	"context"
	"encoding/json"
)

// Envelope is the unit of fan-out. Room-addressed envelopes go to every
// connection of the user the room is named after; broadcast envelopes go
// to every connection on every worker except ExcludeUser's own.
type Envelope struct {
	Event       string          `json:"event"`
	Room        string          `json:"room,omitempty"`
	ExcludeUser string          `json:"exclude_user,omitempty"`
	Data        json.RawMessage `json:"data"`
}

// DeliverFunc hands an envelope to the local gateway for delivery to the
// sockets it owns.
type DeliverFunc func(env Envelope)

// LocalCountFunc reports how many connections this worker holds for a
// user; every worker answers it during a fleet census.
type LocalCountFunc func(userID string) int

type Bus interface {
	// JoinRoom subscribes this worker to a room's fan-out; idempotent.
	JoinRoom(room string) error
	// LeaveRoom drops the subscription once no local connection needs it.
	LeaveRoom(room string) error
	PublishRoom(ctx context.Context, room string, env Envelope) error
	Broadcast(ctx context.Context, env Envelope) error
	// LiveConnections counts a user's open connections fleet-wide.
	LiveConnections(ctx context.Context, userID string) (int, error)
	Close() error
}
