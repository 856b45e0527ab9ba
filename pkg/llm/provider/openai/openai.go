// Package openai implements pkg/llm's ChatClient against any
// OpenAI-compatible chat completion API. The original deployment targets
// bring-your-own-base-URL providers, so only base URL, API key and model are
// configurable.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/secondme/secondme/pkg/llm"
	"github.com/secondme/secondme/pkg/sse"
)

const (
	// DefaultBaseURL targets the canonical OpenAI endpoint; self-hosted
	// compatible gateways override this.
	DefaultBaseURL = "https://api.openai.com/v1"

	// streamDoneSentinel terminates an OpenAI-compatible SSE stream.
	streamDoneSentinel = "[DONE]"
)

// Client wraps an OpenAI-compatible chat completion API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// Config holds configuration for the OpenAI-compatible chat client.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.openai.com/v1" or any
	// compatible gateway. Defaults to DefaultBaseURL if empty.
	BaseURL string

	// APIKey is sent as a bearer token. May be empty for keyless gateways.
	APIKey string

	// Model is the chat model id, e.g. "gpt-4o-mini". Required.
	Model string

	// Timeout bounds each request. Defaults to 120s if zero.
	Timeout time.Duration
}

// NewClient creates a chat client for an OpenAI-compatible API.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("chat model is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type apiError struct {
	Message string `json:"message"`
}

func (c *Client) buildMessages(messages []llm.Message, system string) []chatMessage {
	out := make([]chatMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, chatMessage{Role: llm.RoleSystem, Content: system})
	}
	for _, m := range messages {
		out = append(out, chatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func (c *Client) newRequest(ctx context.Context, body chatRequest) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// Complete sends the conversation and returns the assistant's full reply.
func (c *Client) Complete(ctx context.Context, messages []llm.Message, system string) (string, error) {
	req, err := c.newRequest(ctx, chatRequest{
		Model:    c.model,
		Messages: c.buildMessages(messages, system),
	})
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("chat API returned status %d: %s", resp.StatusCode, string(body))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("chat API error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("chat API returned no choices")
	}

	return result.Choices[0].Message.Content, nil
}

// Stream sends the conversation and invokes fn once per incremental chunk.
func (c *Client) Stream(ctx context.Context, messages []llm.Message, system string, fn llm.StreamFunc) error {
	req, err := c.newRequest(ctx, chatRequest{
		Model:    c.model,
		Messages: c.buildMessages(messages, system),
		Stream:   true,
	})
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chat API returned status %d: %s", resp.StatusCode, string(body))
	}

	reader := sse.NewReader(resp.Body)
	for {
		event, err := reader.Next()
		if err != nil {
			return fmt.Errorf("reading stream: %w", err)
		}
		if event == nil || event.Data == streamDoneSentinel {
			return nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(event.Data), &chunk); err != nil {
			// Providers occasionally interleave non-JSON keep-alives.
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}

		if err := fn(chunk.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

var _ llm.ChatClient = (*Client)(nil)
