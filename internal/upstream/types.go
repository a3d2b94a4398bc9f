package upstream

import (
	"errors"
	"fmt"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the OpenAI-compatible chat completion payload.
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

// Response is whatever the upstream answered, error statuses included.
type Response struct {
	StatusCode int
	Body       []byte
}

// ErrTransport matches any failure to get an HTTP response from upstream.
var ErrTransport = errors.New("upstream transport failure")

type TransportError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream %s: %d attempt(s) failed: %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }
