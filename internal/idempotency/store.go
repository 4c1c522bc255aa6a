// Package idempotency provides the seen-event gate that suppresses redelivered
// webhook events. The upstream platform delivers at least once; marking an event
// id seen before processing keeps the downstream handlers from running twice.
package idempotency

import "context"

// Store records webhook event ids inside a bounded time window.
type Store interface {
	// Seen marks the event id as observed and reports whether it had already
	// been observed inside the current window.
	Seen(ctx context.Context, eventID string) (bool, error)
}
