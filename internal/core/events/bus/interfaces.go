package bus

import "time"

// Event types published by agents and the tree library.
const (
	TypeAgentTick      = "agent.tick"
	TypeAgentCompleted = "agent.completed"
	TypeTreeLoaded     = "tree.loaded"
	TypeTreeRejected   = "tree.rejected"
	TypeTreeRemoved    = "tree.removed"

	// All subscribes to every event type.
	All = "*"
)

// EventBus is a thread-safe, in-process pub/sub bus.
//
// Key characteristics:
// - Type-based fan-out: handlers subscribe by Event.Type, or to All.
// - Synchronous delivery: Publish calls handlers in the caller goroutine.
// - Error aggregation: handler errors are joined and returned from Publish.
//
// Handlers should be quick or hand work off; a slow handler stalls the tick
// loop that published the event.
type EventBus interface {
	// Publish delivers the event to every active subscriber of its type and of
	// All. Handlers that return an error do not stop delivery.
	Publish(event Event) error
	// PublishAsync publishes in a separate goroutine. The channel receives the
	// joined error (or nil) and is then closed.
	PublishAsync(event Event) <-chan error
	// Subscribe registers a handler. Filters are evaluated per event; the
	// handler only sees events every filter accepts.
	Subscribe(eventType string, handler Handler, filters ...Filter) (Subscription, error)
	// Unsubscribe cancels the subscription. Safe with nil.
	Unsubscribe(Subscription) error
	// Subscribers counts the active subscriptions of an event type.
	Subscribers(eventType string) int
}

// Event is one runtime notification. Events are treated as read-only once
// published.
type Event struct {
	Type   string    `json:"type"`
	Source string    `json:"source"`
	Tree   string    `json:"tree,omitempty"`
	Tick   uint64    `json:"tick,omitempty"`
	Status string    `json:"status,omitempty"`
	Time   time.Time `json:"time"`
	Data   any       `json:"data,omitempty"`
}

type (
	Handler func(event Event) error
	Filter  func(event Event) bool
)

// Subscription represents a registered handler bound to an event type.
type Subscription interface {
	ID() string
	EventType() string
	IsActive() bool
	// Cancel de-registers the handler. Multiple calls are safe.
	Cancel() error
}
