// internal/lobby/activity.go
package lobby

import (
	"context"
	"time"
)

// Activity kinds recorded after successful mutations.
const (
	ActivityCreated = "created"
	ActivityJoined  = "joined"
	ActivityLeft    = "left"
	ActivityClosed  = "closed"
	ActivityKicked  = "kicked"
	ActivityStarted = "started"
	ActivityReaped  = "reaped"
)

// Activity is an append-only audit record of a lobby state change.
type Activity struct {
	Code         string    `json:"code"`
	Kind         string    `json:"kind"`
	ConnectionID string    `json:"connection_id,omitempty"`
	Players      int       `json:"players"`
	At           time.Time `json:"at"`
}

// ActivitySink receives activity records. Implementations must be safe for concurrent use.
type ActivitySink interface {
	Record(ctx context.Context, a Activity) error
}
