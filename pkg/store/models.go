package store

import "time"

// Memory sources.
const (
	SourceChat   = "chat"
	SourceManual = "manual"
	SourceDirect = "direct"
)

// Memory types. MemoryTypeChat marks raw conversation rows that are
// excluded from default listings; the other four are extracted types.
const (
	MemoryTypeChat       = "chat"
	MemoryTypePersonal   = "personal"
	MemoryTypePreference = "preference"
	MemoryTypeFact       = "fact"
	MemoryTypePlan       = "plan"
)

// NormalizeMemoryType maps unknown extracted types to "fact" so a sloppy
// model response never produces an unlistable row.
func NormalizeMemoryType(t string) string {
	switch t {
	case MemoryTypePersonal, MemoryTypePreference, MemoryTypeFact, MemoryTypePlan:
		return t
	default:
		return MemoryTypeFact
	}
}

// User roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Topic is a conversation thread. Flowmo topics carry journal entries and
// are excluded from auto-titling.
type Topic struct {
	ID                     string     `json:"id"`
	UserID                 string     `json:"user_id,omitempty"`
	Title                  string     `json:"title"`
	IsFlowmo               bool       `json:"is_flowmo"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
	LastActiveAt           *time.Time `json:"last_active_at,omitempty"`
	MemoryProcessedAt      *time.Time `json:"memory_processed_at,omitempty"`
	LastProcessedMessageID string     `json:"last_processed_message_id,omitempty"`
}

// Message is a single user or assistant turn inside a topic. Seq is a
// per-topic monotonic sequence assigned at insert; it is the ordering and
// cursor key, since wall-clock timestamps can collide or skew.
type Message struct {
	ID        string    `json:"id"`
	TopicID   string    `json:"topic_id"`
	Seq       int64     `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Memory is a long-term memory row. Extraction writes source="chat" rows
// with a typed memory_type; manual rows come in via the API.
type Memory struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id,omitempty"`
	Content         string     `json:"content"`
	Source          string     `json:"source"`
	MemoryType      string     `json:"memory_type"`
	SourceTopicID   string     `json:"source_topic_id,omitempty"`
	SourceMessageID string     `json:"source_message_id,omitempty"`
	UseCount        int        `json:"use_count"`
	CreatedAt       time.Time  `json:"created_at"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
}

// MemoryUsage records one retrieval of a memory into a reply.
type MemoryUsage struct {
	UsedAt     time.Time `json:"used_at"`
	TopicID    string    `json:"topic_id"`
	TopicTitle string    `json:"topic_title"`
	MessageID  string    `json:"message_id"`
}

// Flowmo is a journal entry captured from a flowmo topic or created
// directly via the API.
type Flowmo struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	TopicID   string    `json:"topic_id,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Provider is an OpenAI-compatible upstream registered at runtime.
type Provider struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	BaseURL   string    `json:"base_url"`
	APIKey    string    `json:"api_key,omitempty"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// User is an account row. PasswordHash never leaves the store layer.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// InviteCode gates registration when api.require_invite is on.
type InviteCode struct {
	ID        string     `json:"id"`
	Code      string     `json:"code"`
	CreatedBy string     `json:"created_by,omitempty"`
	MaxUses   int        `json:"max_uses"`
	UseCount  int        `json:"use_count"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
