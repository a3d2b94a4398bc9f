package relay

import (
	"errors"
	"strings"

	"github.com/goccy/go-json"

	"github.com/manojgurugula/Chatbot-Backend/internal/upstream"
)

type ResponseMode string

const (
	// ResponseModeRaw relays the upstream JSON payload as is.
	ResponseModeRaw ResponseMode = "raw"
	// ResponseModeExtracted answers {"response": <generated text>}.
	ResponseModeExtracted ResponseMode = "extracted"
)

// placeholderText stands in when no text can be extracted from a completion.
const placeholderText = "Sorry, no response was generated."

type ChatRequest struct {
	Messages []upstream.Message `json:"messages"`
}

type ChatResponse struct {
	Response string `json:"response"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type completion struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

var errNoChoices = errors.New("completion has no choices")

// extractText pulls choices[0].message.content out of a completion payload.
func extractText(body []byte) (string, error) {
	var c completion
	if err := json.Unmarshal(body, &c); err != nil {
		return "", err
	}
	if len(c.Choices) == 0 {
		return "", errNoChoices
	}
	text := strings.TrimSpace(c.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty completion text")
	}
	return text, nil
}
