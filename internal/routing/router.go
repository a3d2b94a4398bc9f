package routing

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/manojgurugula/Chatbot-Backend/internal/gateway"
)

// Handlers are the endpoints served by the relay. Nil handlers are not mounted.
type Handlers struct {
	Chat    http.Handler
	Health  http.Handler
	Models  http.Handler
	Version http.Handler
	Metrics http.Handler
}

type Options struct {
	MetricsPath string
	// ModelsLimit guards the models endpoint; nil means unlimited.
	ModelsLimit func(http.Handler) http.Handler
	// Middlewares run after route matching, so RoutePattern is available.
	Middlewares []func(http.Handler) http.Handler
}

func New(h Handlers, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(opts.Middlewares...)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		gateway.WriteError(w, http.StatusNotFound, "no_route", "no matching route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		gateway.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		if h.Chat != nil {
			r.Method(http.MethodPost, "/chat", h.Chat)
		}
		if h.Health != nil {
			r.Method(http.MethodGet, "/health", h.Health)
		}
		if h.Models != nil {
			mr := r
			if opts.ModelsLimit != nil {
				mr = r.With(opts.ModelsLimit)
			}
			mr.Method(http.MethodGet, "/models", h.Models)
		}
	})
	if h.Version != nil {
		r.Method(http.MethodGet, "/version", h.Version)
	}
	if h.Metrics != nil && opts.MetricsPath != "" {
		r.Method(http.MethodGet, opts.MetricsPath, h.Metrics)
	}
	return r
}

// RoutePattern returns the matched chi pattern ("/api/chat") or "unknown".
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unknown"
}
