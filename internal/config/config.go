package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/manojgurugula/Chatbot-Backend/internal/ratelimit"
)

type Server struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int    `yaml:"idle_timeout_ms"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level"`       // "debug","info","warn","error"
	PrometheusPath string `yaml:"prometheus_path"` // e.g. "/metrics"
}

type Limit struct {
	Capacity              int    `yaml:"capacity"`
	RefillIntervalSeconds int    `yaml:"refill_interval_seconds"`
	Algorithm             string `yaml:"algorithm"` // "reset" or "smooth"
}

type Limits struct {
	Chat   Limit `yaml:"chat"`
	Models Limit `yaml:"models"` // disabled unless capacity > 0
}

type Upstream struct {
	Provider        string   `yaml:"provider"` // "groq" or "openai"
	BaseURL         string   `yaml:"base_url"`
	APIKey          string   `yaml:"api_key"`
	Model           string   `yaml:"model"`
	ResponseMode    string   `yaml:"response_mode"` // "raw" or "extracted"
	MaxTokens       int      `yaml:"max_tokens"`
	Temperature     *float64 `yaml:"temperature"`
	TimeoutMS       int      `yaml:"timeout_ms"`
	ModelsTimeoutMS int      `yaml:"models_timeout_ms"`
	RetryAttempts   *int     `yaml:"retry_attempts"` // 0 disables retries
	RetryBackoffMS  int      `yaml:"retry_backoff_ms"`
}

type CORS struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Root struct {
	Server        Server        `yaml:"server"`
	Observability Observability `yaml:"observability"`
	Limits        Limits        `yaml:"limits"`
	Upstream      Upstream      `yaml:"upstream"`
	CORS          CORS          `yaml:"cors"`
}

const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"

	ResponseModeRaw       = "raw"
	ResponseModeExtracted = "extracted"
)

var (
	defaultBaseURLs = map[string]string{
		ProviderGroq:   "https://api.groq.com/openai/v1",
		ProviderOpenAI: "https://api.openai.com/v1",
	}
	defaultModels = map[string]string{
		ProviderGroq:   "meta-llama/llama-4-maverick-17b-128e-instruct",
		ProviderOpenAI: "gpt-4o-mini",
	}
	keyEnvVars = map[string]string{
		ProviderGroq:   "GROQ_API_KEY",
		ProviderOpenAI: "OPENAI_API_KEY",
	}
)

func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

// WriteTimeout has to outlast an upstream call plus its retry.
func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutMS == 0 {
		return 130 * time.Second
	}
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	if s.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (s Server) MaxBody() int64 {
	if s.MaxBodyBytes == 0 {
		return 1 << 20
	}
	return s.MaxBodyBytes
} // default 1MB

func (l Limit) Policy() ratelimit.Policy {
	alg, _ := ratelimit.ParseAlgorithm(l.Algorithm) // validated in Load
	return ratelimit.Policy{
		Capacity:       l.Capacity,
		RefillInterval: time.Duration(l.RefillIntervalSeconds) * time.Second,
		Algorithm:      alg,
	}
}

func (u Upstream) SamplingTemperature() float64 {
	if u.Temperature == nil {
		return 0.2
	}
	return *u.Temperature
}

// Retries is the number of retries after a failed first attempt.
func (u Upstream) Retries() int {
	if u.RetryAttempts == nil {
		return 1
	}
	return max(*u.RetryAttempts, 0)
}

func (u Upstream) Timeout() time.Duration {
	return time.Duration(u.TimeoutMS) * time.Millisecond
}

func (u Upstream) ModelsTimeout() time.Duration {
	return time.Duration(u.ModelsTimeoutMS) * time.Millisecond
}

func (u Upstream) RetryBackoff() time.Duration {
	return time.Duration(u.RetryBackoffMS) * time.Millisecond
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result. A missing file is not an error.
func Load(path string) (*Root, error) {
	var cfg Root
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg, os.LookupEnv)
	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Root, lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set("LISTEN_ADDR", &cfg.Server.Addr)
	set("LOG_LEVEL", &cfg.Observability.LogLevel)
	set("LLM_PROVIDER", &cfg.Upstream.Provider)
	set("LLM_MODEL", &cfg.Upstream.Model)
	set("LLM_RESPONSE_MODE", &cfg.Upstream.ResponseMode)

	provider := strings.ToLower(cfg.Upstream.Provider)
	if provider == "" {
		provider = ProviderGroq
	}
	if env, ok := keyEnvVars[provider]; ok {
		set(env, &cfg.Upstream.APIKey)
	}

	var origins string
	set("CORS_ALLOWED_ORIGINS", &origins)
	if origins != "" {
		cfg.CORS.AllowedOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORS.AllowedOrigins = append(cfg.CORS.AllowedOrigins, o)
			}
		}
	}
}

func applyDefaults(cfg *Root) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	}
	if cfg.Limits.Chat.Capacity <= 0 {
		cfg.Limits.Chat.Capacity = 10
	}
	if cfg.Limits.Chat.RefillIntervalSeconds <= 0 {
		cfg.Limits.Chat.RefillIntervalSeconds = 60
	}
	if cfg.Limits.Models.Capacity > 0 && cfg.Limits.Models.RefillIntervalSeconds <= 0 {
		cfg.Limits.Models.RefillIntervalSeconds = 60
	}

	u := &cfg.Upstream
	u.Provider = strings.ToLower(u.Provider)
	if u.Provider == "" {
		u.Provider = ProviderGroq
	}
	if u.BaseURL == "" {
		u.BaseURL = defaultBaseURLs[u.Provider]
	}
	u.BaseURL = strings.TrimSuffix(u.BaseURL, "/")
	if u.Model == "" {
		u.Model = defaultModels[u.Provider]
	}
	if u.ResponseMode == "" {
		u.ResponseMode = ResponseModeRaw
	}
	if u.MaxTokens <= 0 {
		u.MaxTokens = 400
	}
	if u.Temperature == nil {
		t := 0.2
		u.Temperature = &t
	}
	if u.TimeoutMS <= 0 {
		u.TimeoutMS = 60000
	}
	if u.ModelsTimeoutMS <= 0 {
		u.ModelsTimeoutMS = 20000
	}
	if u.RetryAttempts == nil || *u.RetryAttempts < 0 {
		n := 1
		if u.RetryAttempts != nil {
			n = 0
		}
		u.RetryAttempts = &n
	}
	if u.RetryBackoffMS <= 0 {
		u.RetryBackoffMS = 250
	}

	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"http://localhost:5173"}
	}
}

func (cfg *Root) validate() error {
	if _, ok := defaultBaseURLs[cfg.Upstream.Provider]; !ok {
		return fmt.Errorf("unknown upstream provider %q", cfg.Upstream.Provider)
	}
	switch cfg.Upstream.ResponseMode {
	case ResponseModeRaw, ResponseModeExtracted:
	default:
		return fmt.Errorf("unknown response mode %q", cfg.Upstream.ResponseMode)
	}
	for name, l := range map[string]Limit{"chat": cfg.Limits.Chat, "models": cfg.Limits.Models} {
		if _, err := ratelimit.ParseAlgorithm(l.Algorithm); err != nil {
			return fmt.Errorf("limits.%s: %w", name, err)
		}
	}
	return nil
}
