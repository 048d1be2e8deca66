package bus

import "time"

// Event kinds published inside the daemon. Subscribers filter by prefix,
// e.g. "push." receives every push channel event.
const (
	KindCacheUpdated       = "cache.updated"
	KindCacheRemoved       = "cache.removed"
	KindPushStateChanged   = "push.state_changed"
	KindMutationConfirmed  = "mutation.confirmed"
	KindMutationRolledBack = "mutation.rolled_back"
	KindServerConversation = "server.conversation"
	KindServerMessage      = "server.message"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
