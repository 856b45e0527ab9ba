package testutils

import (
	"context"
	"fmt"

	"github.com/secondme/secondme/pkg/llm"
)

// MockChatClient is a test chat client that replays canned responses
type MockChatClient struct {
	// Response is returned by every Complete call when Responses is empty
	Response string

	// Responses, when set, are returned in order; Complete fails once drained
	Responses []string

	// Err causes every call to fail
	Err error

	// Prompts records the last user message of each Complete call
	Prompts []string

	// Systems records the system prompt of each Complete call
	Systems []string

	calls int
}

func NewMockChatClient(response string) *MockChatClient {
	return &MockChatClient{Response: response}
}

func (m *MockChatClient) Complete(_ context.Context, messages []llm.Message, system string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}

	if len(messages) > 0 {
		m.Prompts = append(m.Prompts, messages[len(messages)-1].Content)
	}
	m.Systems = append(m.Systems, system)

	if len(m.Responses) > 0 {
		if m.calls >= len(m.Responses) {
			return "", fmt.Errorf("mock chat client: no response for call %d", m.calls)
		}
		r := m.Responses[m.calls]
		m.calls++
		return r, nil
	}

	return m.Response, nil
}

func (m *MockChatClient) Stream(ctx context.Context, messages []llm.Message, system string, fn llm.StreamFunc) error {
	response, err := m.Complete(ctx, messages, system)
	if err != nil {
		return err
	}
	return fn(response)
}

func (m *MockChatClient) Close() error {
	return nil
}
