package relay

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/hlog"

	"github.com/manojgurugula/Chatbot-Backend/internal/auth"
	"github.com/manojgurugula/Chatbot-Backend/internal/gateway"
	"github.com/manojgurugula/Chatbot-Backend/internal/ratelimit"
	"github.com/manojgurugula/Chatbot-Backend/internal/upstream"
)

// Upstream is the completion API the relay forwards to.
type Upstream interface {
	ChatCompletion(ctx context.Context, req upstream.CompletionRequest) (*upstream.Response, error)
	ListModels(ctx context.Context) (*upstream.Response, error)
}

type Options struct {
	// Limiter is shared by every chat request. Nil disables limiting.
	Limiter    ratelimit.Limiter
	Upstream   Upstream
	Credential *auth.Credential

	Model        string
	MaxTokens    int
	Temperature  float64
	ResponseMode ResponseMode

	Clock     clockwork.Clock
	OnLimited func(r *http.Request)
}

type Handler struct {
	opts Options
}

func New(opts Options) *Handler {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.ResponseMode == "" {
		opts.ResponseMode = ResponseModeRaw
	}
	return &Handler{opts: opts}
}

// Chat validates the message list, takes a token from the limiter and
// forwards the conversation upstream.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)

	if !h.opts.Credential.Configured() {
		logger.Error().Msg("upstream API key is not configured")
		h.fail(w, r, errMissingCredential)
		return
	}

	req, rerr := decodeChatRequest(r)
	if rerr != nil {
		h.fail(w, r, rerr)
		return
	}

	if lim := h.opts.Limiter; lim != nil {
		if !lim.TryConsume() {
			if h.opts.OnLimited != nil {
				h.opts.OnLimited(r)
			}
			logger.Info().Msg("chat request rate limited")
			gateway.WriteRateLimited(w, lim.Status(), h.opts.Clock.Now())
			return
		}
		gateway.SetRateLimitHeaders(w, lim.Status())
	}

	ctx := logger.WithContext(r.Context())
	resp, err := h.opts.Upstream.ChatCompletion(ctx, upstream.CompletionRequest{
		Model:       h.opts.Model,
		Messages:    req.Messages,
		MaxTokens:   h.opts.MaxTokens,
		Temperature: h.opts.Temperature,
	})
	if err != nil {
		h.fail(w, r, fromUpstreamErr(err))
		return
	}
	if rerr := fromUpstreamStatus(resp); rerr != nil {
		logger.Warn().Int("upstream_status", resp.StatusCode).Msg("upstream rejected chat completion")
		h.fail(w, r, rerr)
		return
	}

	if h.opts.ResponseMode == ResponseModeExtracted {
		text, err := extractText(resp.Body)
		if err != nil {
			logger.Warn().Err(err).Msg("could not extract completion text")
			text = placeholderText
		}
		b, _ := json.Marshal(ChatResponse{Response: text})
		gateway.WriteJSON(w, http.StatusOK, b)
		return
	}

	if !json.Valid(resp.Body) {
		h.fail(w, r, errInvalidPayload)
		return
	}
	gateway.WriteJSON(w, http.StatusOK, resp.Body)
}

// Models relays the upstream model listing. Upstream error statuses are
// passed through unchanged.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)

	if !h.opts.Credential.Configured() {
		h.fail(w, r, errMissingCredential)
		return
	}

	resp, err := h.opts.Upstream.ListModels(logger.WithContext(r.Context()))
	if err != nil {
		h.fail(w, r, fromUpstreamErr(err))
		return
	}
	if resp.StatusCode >= 400 {
		logger.Warn().Int("upstream_status", resp.StatusCode).Msg("upstream rejected models listing")
		h.fail(w, r, &Error{resp.StatusCode, "upstream_error", "Upstream models error: " + truncate(resp.Body)})
		return
	}
	if !json.Valid(resp.Body) {
		h.fail(w, r, errInvalidPayload)
		return
	}
	gateway.WriteJSON(w, http.StatusOK, resp.Body)
}

func Health(w http.ResponseWriter, _ *http.Request) {
	b, _ := json.Marshal(HealthResponse{Status: "ok"})
	gateway.WriteJSON(w, http.StatusOK, b)
}

func decodeChatRequest(r *http.Request) (*ChatRequest, *Error) {
	var req ChatRequest
	if r.Body == nil {
		return nil, errMessagesRequired
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errBodyTooLarge
		}
		return nil, errInvalidJSON
	}
	if len(body) == 0 {
		return nil, errMessagesRequired
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errInvalidJSON
	}
	if len(req.Messages) == 0 {
		return nil, errMessagesRequired
	}
	return &req, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, e *Error) {
	ev := hlog.FromRequest(r).Debug()
	if e.Status >= 500 {
		ev = hlog.FromRequest(r).Error()
	}
	ev.Int("status", e.Status).Str("code", e.Code).Msg(e.Message)
	gateway.WriteError(w, e.Status, e.Code, e.Message)
}
