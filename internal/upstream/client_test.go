package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/manojgurugula/Chatbot-Backend/internal/auth"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// flakyTransport fails the first n requests with an I/O error.
func flakyTransport(n int64, calls *atomic.Int64) http.RoundTripper {
	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		if calls.Inc() <= n {
			return nil, io.ErrUnexpectedEOF
		}
		return http.DefaultTransport.RoundTrip(r)
	})
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
	retries  int
}

func (o *recordingObserver) ObserveUpstream(_, _, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) ObserveUpstreamRetry(string, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

func newTestClient(srvURL string, tr http.RoundTripper, obsv Observer) *Client {
	return New(Options{
		Provider:      "groq",
		BaseURL:       srvURL,
		Credential:    auth.NewStatic("gsk-test"),
		Transport:     tr,
		RetryAttempts: 1,
		RetryBackoff:  10 * time.Millisecond,
		Observer:      obsv,
	})
}

func TestClient_ChatCompletion(t *testing.T) {
	var (
		gotPath, gotAuth, gotCT string
		gotReq                  CompletionRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cmpl-1"}`))
	}))
	defer srv.Close()

	obsv := &recordingObserver{}
	c := newTestClient(srv.URL+"/openai/v1", http.DefaultTransport, obsv)
	resp, err := c.ChatCompletion(context.Background(), CompletionRequest{
		Model:       "llama",
		Messages:    []Message{{Role: "user", Content: "hi"}},
		MaxTokens:   400,
		Temperature: 0.2,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"id":"cmpl-1"}`, string(resp.Body))

	assert.Equal(t, "/openai/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer gsk-test", gotAuth)
	assert.Equal(t, "application/json", gotCT)
	assert.Equal(t, "llama", gotReq.Model)
	assert.Equal(t, 400, gotReq.MaxTokens)
	assert.InDelta(t, 0.2, gotReq.Temperature, 1e-9)
	assert.Equal(t, []Message{{Role: "user", Content: "hi"}}, gotReq.Messages)
	assert.Equal(t, []string{"200"}, obsv.outcomes)
}

func TestClient_ErrorStatusIsNotAnError(t *testing.T) {
	calls := atomic.NewInt64(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Inc()
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"overloaded"}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL, nil, nil).ListModels(context.Background())
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.EqualValues(t, 1, calls.Load(), "HTTP error statuses are not retried")
}

func TestClient_RetriesOnceOnTransportFailure(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	calls := atomic.NewInt64(0)
	obsv := &recordingObserver{}
	c := newTestClient(srv.URL, flakyTransport(1, calls), obsv)

	resp, err := c.ChatCompletion(context.Background(), CompletionRequest{Model: "m", Messages: []Message{{Role: "user", Content: "x"}}})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 2, calls.Load())
	require.Len(t, bodies, 1)
	require.Contains(t, bodies[0], `"model":"m"`, "body is resent on retry")
	require.Equal(t, 1, obsv.retries)
}

func TestClient_GivesUpAfterRetry(t *testing.T) {
	calls := atomic.NewInt64(0)
	obsv := &recordingObserver{}
	c := newTestClient("http://upstream.invalid", flakyTransport(100, calls), obsv)

	_, err := c.ChatCompletion(context.Background(), CompletionRequest{Model: "m"})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrTransport)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	require.Equal(t, 2, terr.Attempts)
	require.Equal(t, EndpointChat, terr.Endpoint)
	require.EqualValues(t, 2, calls.Load())
	require.Equal(t, []string{"error"}, obsv.outcomes)
}

func TestClient_NoRetryWhenDisabled(t *testing.T) {
	calls := atomic.NewInt64(0)
	c := New(Options{
		BaseURL:    "http://upstream.invalid",
		Credential: auth.NewStatic("k"),
		Transport:  flakyTransport(100, calls),
	})

	_, err := c.ListModels(context.Background())
	require.ErrorIs(t, err, ErrTransport)
	require.EqualValues(t, 1, calls.Load())
}

func TestClient_CancelledContextStopsRetries(t *testing.T) {
	calls := atomic.NewInt64(0)
	ctx, cancel := context.WithCancel(context.Background())
	tr := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		calls.Inc()
		cancel()
		return nil, context.Canceled
	})
	c := newTestClient("http://upstream.invalid", tr, nil)

	_, err := c.ChatCompletion(ctx, CompletionRequest{Model: "m"})
	require.ErrorIs(t, err, ErrTransport)
	require.EqualValues(t, 1, calls.Load())
}

func TestClient_MissingCredential(t *testing.T) {
	calls := atomic.NewInt64(0)
	c := New(Options{
		BaseURL:       "http://upstream.invalid",
		Credential:    auth.NewStatic(""),
		Transport:     flakyTransport(0, calls),
		RetryAttempts: 1,
	})

	_, err := c.ChatCompletion(context.Background(), CompletionRequest{Model: "m"})
	require.ErrorIs(t, err, auth.ErrMissingCredential)
	require.NotErrorIs(t, err, ErrTransport)
	require.Zero(t, calls.Load())
}

func TestClient_AttemptTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(Options{
		BaseURL:       srv.URL,
		Credential:    auth.NewStatic("k"),
		ModelsTimeout: 50 * time.Millisecond,
		RetryAttempts: 1,
		RetryBackoff:  time.Millisecond,
	})

	start := time.Now()
	_, err := c.ListModels(context.Background())
	require.ErrorIs(t, err, ErrTransport)
	require.Less(t, time.Since(start), 5*time.Second)
}
