// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// PublishIdempotent sends a message carrying a deduplication key. The
	// key must derive from a stable identifier of the effect (a step ID),
	// never from a retry counter or timestamp, so a re-run after a
	// loop-back or crash publishes under the same key and the broker
	// drops the duplicate.
	PublishIdempotent(ctx context.Context, subject, key string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for NATS subjects used by Foreman.
const (
	SubjectHandoffRequest  = "handoffs.request"  // structured role-to-role handoff
	SubjectWorkflowEvent   = "workflows.event"   // phase/status change notifications
	SubjectReviewDispatch  = "reviews.dispatch"  // fan-out snapshot announcements
	SubjectReviewComplete  = "reviews.complete"  // synthesized report ready
	SubjectStepSideEffect  = "steps.side_effect" // externally visible step effects
	SubjectCIStatusChanged = "ci.status"         // CI watch outcomes
)
