// Package bus is the in-process pub/sub backbone for domdrive. Delivery is
// synchronous: Publish returns only after every current subscriber of the
// topic has run, so dependent state transitions (a variable manager applying
// a SET) are complete before the publisher's next statement.
package bus

import "time"

// Topics exported for external consumers (debugging tools, orchestration).
const (
	TopicRootVarSet       = "CONTAINER_ROOT_VAR_SET"
	TopicRootVarChanged   = "CONTAINER_ROOT_VAR_CHANGED"
	TopicDiscoverComplete = "CONTAINER_ROOT_DISCOVER_COMPLETE"
	TopicChildDiscovered  = "CONTAINER_CHILD_DISCOVERED"
	TopicRootScrollStart  = "CONTAINER_ROOT_SCROLL_START"
	TopicRootLifecycle    = "CONTAINER_ROOT_LIFECYCLE"
)

// Topics lists every exported topic, in a stable order. Used by consumers
// that tap the whole bus (e.g. the observability event log).
func Topics() []string {
	return []string{
		TopicRootVarSet,
		TopicRootVarChanged,
		TopicDiscoverComplete,
		TopicChildDiscovered,
		TopicRootScrollStart,
		TopicRootLifecycle,
	}
}

// Source identifies the component that published a message.
type Source struct {
	Component string `json:"component"`
}

// Meta carries message envelope metadata.
type Meta struct {
	Version int `json:"version"`
}

// Message is the envelope published on a topic.
type Message struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`
	Meta      Meta      `json:"meta"`
}
