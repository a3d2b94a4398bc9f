package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/manojgurugula/Chatbot-Backend/internal/auth"
)

const (
	EndpointChat   = "chat_completions"
	EndpointModels = "models"

	maxResponseBytes = 10 << 20
)

// Observer receives call outcomes; obs.Metrics implements it.
type Observer interface {
	ObserveUpstream(provider, endpoint, outcome string, d time.Duration)
	ObserveUpstreamRetry(provider, endpoint string)
}

type nopObserver struct{}

func (nopObserver) ObserveUpstream(string, string, string, time.Duration) {}
func (nopObserver) ObserveUpstreamRetry(string, string)                   {}

type Options struct {
	Provider   string
	BaseURL    string
	Credential *auth.Credential
	Transport  http.RoundTripper // defaults to NewHTTPTransport()

	Timeout       time.Duration // per attempt, chat completions
	ModelsTimeout time.Duration // per attempt, model listing
	RetryAttempts int           // retries after the first attempt, transport failures only
	RetryBackoff  time.Duration

	Observer Observer
}

// Client calls an OpenAI-compatible API.
type Client struct {
	provider      string
	baseURL       string
	http          *http.Client
	timeout       time.Duration
	modelsTimeout time.Duration
	retryAttempts int
	retryBackoff  time.Duration
	observer      Observer
}

func New(opts Options) *Client {
	tr := opts.Transport
	if tr == nil {
		tr = NewHTTPTransport()
	}
	obsv := opts.Observer
	if obsv == nil {
		obsv = nopObserver{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.ModelsTimeout <= 0 {
		opts.ModelsTimeout = 20 * time.Second
	}
	return &Client{
		provider:      opts.Provider,
		baseURL:       opts.BaseURL,
		http:          &http.Client{Transport: opts.Credential.RoundTripper(tr)},
		timeout:       opts.Timeout,
		modelsTimeout: opts.ModelsTimeout,
		retryAttempts: max(opts.RetryAttempts, 0),
		retryBackoff:  opts.RetryBackoff,
		observer:      obsv,
	}
}

// ChatCompletion posts the request to /chat/completions.
func (c *Client) ChatCompletion(ctx context.Context, req CompletionRequest) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}
	return c.do(ctx, EndpointChat, http.MethodPost, "/chat/completions", body, c.timeout)
}

// ListModels fetches /models.
func (c *Client) ListModels(ctx context.Context) (*Response, error) {
	return c.do(ctx, EndpointModels, http.MethodGet, "/models", nil, c.modelsTimeout)
}

func (c *Client) do(
	ctx context.Context, endpoint, method, path string, body []byte, timeout time.Duration,
) (*Response, error) {
	logger := zerolog.Ctx(ctx)
	start := time.Now()

	var resp *Response
	attempts := 0
	op := func() error {
		attempts++
		r, err := c.attempt(ctx, method, path, body, timeout)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, auth.ErrMissingCredential) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn().Err(err).
			Str("provider", c.provider).
			Str("endpoint", endpoint).
			Int("attempt", attempts).
			Dur("backoff", wait).
			Msg("upstream call failed, retrying")
		c.observer.ObserveUpstreamRetry(c.provider, endpoint)
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if c.retryAttempts > 0 {
		b = backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryBackoff), uint64(c.retryAttempts))
	}
	b = backoff.WithContext(b, ctx)

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		c.observer.ObserveUpstream(c.provider, endpoint, "error", time.Since(start))
		if errors.Is(err, auth.ErrMissingCredential) {
			return nil, err
		}
		logger.Error().Err(err).
			Str("provider", c.provider).
			Str("endpoint", endpoint).
			Int("attempts", attempts).
			Msg("upstream unreachable")
		return nil, &TransportError{Endpoint: endpoint, Attempts: attempts, Err: err}
	}

	c.observer.ObserveUpstream(c.provider, endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))
	logger.Debug().
		Str("provider", c.provider).
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Int("bytes", len(resp.Body)).
		Msg("upstream responded")
	return resp, nil
}

func (c *Client) attempt(
	ctx context.Context, method, path string, body []byte, timeout time.Duration,
) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: b}, nil
}
