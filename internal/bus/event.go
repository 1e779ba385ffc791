package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kind namespaces used across the daemon:
//
//	feed.*    raw change-feed rows (feed.message, feed.message_update, feed.chat)
//	          plus feed.state_changed for subscription lifecycle transitions
//	inbox.*   store mutations (inbox.conversations_changed, inbox.messages_changed)
//	notify.*  user-facing notifications (notify.info, notify.error)
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Notification is the payload for notify.* events. API stream consumers
// render these as transient toasts.
type Notification struct {
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}
