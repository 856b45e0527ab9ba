// Package llm defines the provider-agnostic chat capability consumed by the
// serving path and the memory extraction pipeline. Provider implementations
// live under pkg/llm/provider.
package llm

// Role values for chat messages. The relational store only persists user and
// assistant turns; system prompts are passed out-of-band to the provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserMessage creates a user-role message with the given content.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}
