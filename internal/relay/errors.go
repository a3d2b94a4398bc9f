package relay

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/manojgurugula/Chatbot-Backend/internal/auth"
	"github.com/manojgurugula/Chatbot-Backend/internal/upstream"
)

// Error is a caller-facing failure: HTTP status plus a stable error code.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

const maxDetailBytes = 512

var (
	errMissingCredential = &Error{http.StatusUnauthorized, "missing_credential", "Missing upstream API key configuration."}
	errMessagesRequired  = &Error{http.StatusBadRequest, "messages_required", "messages array required"}
	errInvalidJSON       = &Error{http.StatusBadRequest, "invalid_json", "request body is not valid JSON"}
	errBodyTooLarge      = &Error{http.StatusRequestEntityTooLarge, "body_too_large", "request body too large"}
	errInvalidPayload    = &Error{http.StatusInternalServerError, "upstream_error", "upstream returned a non-JSON payload"}
)

// fromUpstreamStatus maps an upstream chat completion status to a caller
// error. It returns nil for non-error statuses.
func fromUpstreamStatus(resp *upstream.Response) *Error {
	code := resp.StatusCode
	if code < 400 {
		return nil
	}
	detail := truncate(resp.Body)
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &Error{http.StatusUnauthorized, "upstream_auth", "Upstream API auth error: " + detail}
	case code == http.StatusTooManyRequests:
		return &Error{http.StatusTooManyRequests, "upstream_rate_limited", "Upstream quota/limit error: " + detail}
	case code == http.StatusNotFound && bytes.Contains(resp.Body, []byte("model")):
		return &Error{http.StatusBadRequest, "upstream_model", "Upstream model error: " + detail}
	}
	return &Error{http.StatusInternalServerError, "upstream_error", "Upstream API error: " + detail}
}

// fromUpstreamErr maps a failed upstream call.
func fromUpstreamErr(err error) *Error {
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		return errMissingCredential
	case errors.Is(err, upstream.ErrTransport):
		return &Error{http.StatusBadGateway, "upstream_unavailable", "Upstream I/O error: " + err.Error()}
	}
	return &Error{http.StatusInternalServerError, "internal_error", err.Error()}
}

func truncate(b []byte) string {
	if len(b) > maxDetailBytes {
		return string(b[:maxDetailBytes]) + "..."
	}
	return string(b)
}
