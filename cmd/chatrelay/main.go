package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/manojgurugula/Chatbot-Backend/internal/auth"
	"github.com/manojgurugula/Chatbot-Backend/internal/config"
	"github.com/manojgurugula/Chatbot-Backend/internal/gateway"
	"github.com/manojgurugula/Chatbot-Backend/internal/obs"
	"github.com/manojgurugula/Chatbot-Backend/internal/ratelimit/memory"
	"github.com/manojgurugula/Chatbot-Backend/internal/relay"
	"github.com/manojgurugula/Chatbot-Backend/internal/routing"
	"github.com/manojgurugula/Chatbot-Backend/internal/upstream"
)

var version = "v0.1.0"

func main() {
	configPath := flag.String("config", "./config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		l := obs.NewLogger(os.Stderr, "error")
		l.Fatal().Err(err).Msg("load config")
	}

	logger := obs.SetupLogger(cfg.Observability.LogLevel)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newHandler(cfg, logger, prometheus.NewRegistry(), clockwork.NewRealClock()),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout(),
		IdleTimeout:       cfg.Server.IdleTimeout(),
		ReadTimeout:       cfg.Server.ReadTimeout(),
	}

	// start
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("provider", cfg.Upstream.Provider).
			Str("model", cfg.Upstream.Model).
			Str("response_mode", cfg.Upstream.ResponseMode).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("bye")
}

// newHandler wires the relay. The chat limiter is created here, once per
// process, and handed to the relay handler.
func newHandler(cfg *config.Root, logger zerolog.Logger, reg *prometheus.Registry, clock clockwork.Clock) http.Handler {
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(reg)

	cred := auth.NewStatic(cfg.Upstream.APIKey)
	if !cred.Configured() {
		logger.Warn().Str("provider", cfg.Upstream.Provider).Msg("no upstream API key configured, chat requests will fail with 401")
	}

	client := upstream.New(upstream.Options{
		Provider:      cfg.Upstream.Provider,
		BaseURL:       cfg.Upstream.BaseURL,
		Credential:    cred,
		Timeout:       cfg.Upstream.Timeout(),
		ModelsTimeout: cfg.Upstream.ModelsTimeout(),
		RetryAttempts: cfg.Upstream.Retries(),
		RetryBackoff:  cfg.Upstream.RetryBackoff(),
		Observer:      metrics,
	})

	chatLimiter := memory.New(cfg.Limits.Chat.Policy(), clock)
	rh := relay.New(relay.Options{
		Limiter:      chatLimiter,
		Upstream:     client,
		Credential:   cred,
		Model:        cfg.Upstream.Model,
		MaxTokens:    cfg.Upstream.MaxTokens,
		Temperature:  cfg.Upstream.SamplingTemperature(),
		ResponseMode: relay.ResponseMode(cfg.Upstream.ResponseMode),
		Clock:        clock,
		OnLimited:    metrics.RateLimitedOn,
	})

	var modelsLimit func(http.Handler) http.Handler
	if lim := memory.New(cfg.Limits.Models.Policy(), clock); lim != nil {
		modelsLimit = gateway.RateLimit(lim, clock, metrics.RateLimitedOn)
	}

	router := routing.New(routing.Handlers{
		Chat:   http.HandlerFunc(rh.Chat),
		Health: http.HandlerFunc(relay.Health),
		Models: http.HandlerFunc(rh.Models),
		Version: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(version))
		}),
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, routing.Options{
		MetricsPath: cfg.Observability.PrometheusPath,
		ModelsLimit: modelsLimit,
		Middlewares: []func(http.Handler) http.Handler{metrics.Middleware},
	})

	return gateway.Chain(
		router,
		obs.Logger(logger, cfg.Upstream.Provider, "/api/health", cfg.Observability.PrometheusPath),
		gateway.CORS(cfg.CORS.AllowedOrigins),
		gateway.BodyLimit(cfg.Server.MaxBody()),
	)
}
