package eventstream

import "time"

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeExtractionCommitted is emitted after an extraction batch has
	// been committed and the topic's cursor advanced.
	EventTypeExtractionCommitted = "secondme.memory.extraction_committed"

	// EventTypeMemoryUsed is emitted after a reply grounded on a memory has
	// been persisted.
	EventTypeMemoryUsed = "secondme.memory.used"
)

// MemoryEvent is a transport-neutral event payload for memory lifecycle
// changes.
type MemoryEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`

	// TopicID is the conversation the event originated from, when any.
	TopicID string `json:"topic_id,omitempty"`

	// Extraction batch outcome. Only set for extraction events.
	Added   int    `json:"added,omitempty"`
	Updated int    `json:"updated,omitempty"`
	Reason  string `json:"reason,omitempty"`

	// MemoryID is the memory a usage event refers to.
	MemoryID string `json:"memory_id,omitempty"`
}
