package llm

import (
	"context"
	"errors"
)

// ErrStreamingNotImplemented is returned by Stream when a provider does not
// support incremental output.
var ErrStreamingNotImplemented = errors.New("streaming not implemented for this provider")

// StreamFunc receives one incremental text chunk. Returning an error stops
// the stream and propagates the error to the Stream caller.
type StreamFunc func(chunk string) error

// ChatClient is the chat-completion capability. Implementations wrap a
// specific provider API; callers never see provider wire formats.
type ChatClient interface {
	// Complete sends the conversation and returns the assistant's full reply.
	// An optional system prompt is prepended provider-appropriately; pass ""
	// for none.
	Complete(ctx context.Context, messages []Message, system string) (string, error)

	// Stream sends the conversation and invokes fn once per incremental text
	// chunk until the reply is complete.
	Stream(ctx context.Context, messages []Message, system string, fn StreamFunc) error

	// Close releases any resources held by the client.
	Close() error
}
