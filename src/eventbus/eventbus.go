// Package eventbus fans island lifecycle events out across worker
// processes over Redis Pub/Sub, and hosts the SETNX-with-TTL primitive the
// reconciler uses to elect a single leader at startup.
package eventbus

import (
	"context"
	"encoding/json"
	"time"
)

// Event types emitted by the kernel (SPEC_FULL §4.5).
const (
	EventIslandUpdated        = "island_updated"
	EventIslandDeleted        = "island_deleted"
	EventTeamUpdated          = "team_updated"
	EventGracefulShutdown     = "graceful_shutdown_for_update"
)

// Message is the envelope published on the bus: a set of recipient ids
// (player or team UUIDs) and the event payload each should receive.
type Message struct {
	RecipientIDs []string        `json:"recipient_ids"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
}

// Handler processes one Message delivered by Subscribe.
type Handler func(Message)

// Bus is the cross-process event transport and leader-election primitive.
// The only implementation is Redis; the interface exists so the kernel and
// reconciler can be tested against an in-memory fake.
type Bus interface {
	// Publish serialises an event for recipientIDs and pushes it to the bus.
	Publish(ctx context.Context, recipientIDs []string, eventType string, payload interface{}) error
	// Subscribe registers handler for every Message delivered on the bus.
	// It blocks until ctx is cancelled or the underlying connection fails.
	Subscribe(ctx context.Context, handler Handler) error
	// AcquireLeader performs a SETNX-with-TTL; the caller that gets true
	// owns the key until ttl expires.
	AcquireLeader(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Close() error
}

func NewMessage(recipientIDs []string, eventType string, payload interface{}) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{RecipientIDs: recipientIDs, Type: eventType, Payload: raw}, nil
}
