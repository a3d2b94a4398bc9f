package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrMissingCredential is returned when no upstream API key is configured.
var ErrMissingCredential = errors.New("upstream API key is not configured")

// Credential is a static bearer token for the upstream API.
type Credential struct {
	token string
}

// NewStatic creates a credential from the configured key. An empty key
// yields a credential that is not Configured.
func NewStatic(token string) *Credential {
	return &Credential{token: strings.TrimSpace(token)}
}

func (c *Credential) Configured() bool {
	return c != nil && c.token != ""
}

// RoundTripper returns a transport that sets "Authorization: Bearer <token>"
// on requests that don't carry an Authorization header yet.
func (c *Credential) RoundTripper(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &bearerRoundTripper{cred: c, next: next}
}

type bearerRoundTripper struct {
	cred *Credential
	next http.RoundTripper
}

func (rt *bearerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Authorization") != "" {
		return rt.next.RoundTrip(req)
	}
	if !rt.cred.Configured() {
		if req.Body != nil {
			_ = req.Body.Close() // per RoundTripper contract
		}
		return nil, ErrMissingCredential
	}
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", rt.cred.token))
	return rt.next.RoundTrip(req)
}
