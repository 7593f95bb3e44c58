// Package room implements the broadcast group behind a document room: every
// connection joined to a document subscribes to it, and whatever one
// connection publishes is fanned out to all current subscribers, itself
// included.
//
// Messages from one publisher reach each subscriber in publish order. Order
// between different publishers is not defined.
package room

import (
	"context"

	"collabtext/internal/store"
)

// Subscription is one connection's membership in a room.
type Subscription interface {
	// Messages is closed when the subscription ends, either through Close or
	// because the subscriber fell too far behind.
	Messages() <-chan []byte
	Close() error
}

// Group is a set of rooms keyed by document.
type Group interface {
	Subscribe(ctx context.Context, doc store.DocumentID) (Subscription, error)
	Publish(ctx context.Context, doc store.DocumentID, msg []byte) error
}
