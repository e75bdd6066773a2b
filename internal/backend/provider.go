package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// DefaultModels maps each provider to the model used when no override is given
var DefaultModels = map[string]string{
	ProviderGemini:    "gemini-2.0-flash",
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-sonnet-4-20250514",
	ProviderOllama:    "llama3.2",
}

// Temperature is the sampling temperature sent to every provider
const Temperature = 0.7

// DefaultOllamaURL is the local Ollama endpoint
const DefaultOllamaURL = "http://localhost:11434"

// kickoffPrompt is sent as the first user turn to providers that reject a system-only context
const kickoffPrompt = "Begin the interview."

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the normalized chat context
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Fragment is one piece of a streamed reply. A fragment with Err set is the last one sent.
type Fragment struct {
	Content string
	Err     error
}

// Config selects and parameterizes a provider for one request
type Config struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key,omitempty"`
	Model    string `json:"model,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`
}

// Provider is the normalized chat-completion capability
type Provider interface {
	Name() string
	Model() string
	// Invoke performs one blocking completion call
	Invoke(ctx context.Context, messages []Message) (string, error)
	// Stream returns a channel of fragments closed when the upstream stream ends
	Stream(ctx context.Context, messages []Message) (<-chan Fragment, error)
}

// Providers returns the fixed enumeration of provider names
func Providers() []string {
	return []string{ProviderGemini, ProviderOpenAI, ProviderAnthropic, ProviderOllama}
}

// Normalize matches name case-insensitively against the enumeration
func Normalize(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if _, ok := DefaultModels[n]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedProvider, name)
	}
	return n, nil
}

// ResolveModel returns the override or the provider default
func ResolveModel(provider, override string) string {
	if override != "" {
		return override
	}
	return DefaultModels[strings.ToLower(provider)]
}

// Factory builds providers from per-request configs
type Factory struct {
	httpClient *http.Client
	tracer     trace.Tracer
	meter      metric.Meter
	logger     *slog.Logger
	baseURLs   map[string]string
}

// Option configures a Factory
type Option func(*Factory)

// WithHTTPClient sets the HTTP client used by every provider
func WithHTTPClient(c *http.Client) Option {
	return func(f *Factory) { f.httpClient = c }
}

// WithTracer sets the tracer for provider spans
func WithTracer(t trace.Tracer) Option {
	return func(f *Factory) { f.tracer = t }
}

// WithMeter sets the meter for provider metrics
func WithMeter(m metric.Meter) Option {
	return func(f *Factory) { f.meter = m }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// WithBaseURL overrides the API endpoint of one provider
func WithBaseURL(provider, url string) Option {
	return func(f *Factory) { f.baseURLs[strings.ToLower(provider)] = url }
}

// NewFactory creates a provider factory
func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		// No client-level timeout: deadlines come from the request context so streams are not cut short
		httpClient: &http.Client{},
		tracer:     tracenoop.NewTracerProvider().Tracer("backend"),
		meter:      metricnoop.NewMeterProvider().Meter("backend"),
		logger:     slog.Default(),
		baseURLs:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// New resolves cfg into a provider. Unknown names fail before any network activity.
func (f *Factory) New(_ context.Context, cfg Config) (Provider, error) {
	name, err := Normalize(cfg.Provider)
	if err != nil {
		return nil, err
	}

	base := httpBase{
		name:   name,
		model:  ResolveModel(name, cfg.Model),
		apiKey: cfg.APIKey,
		client: f.httpClient,
		inst:   newInstruments(f.tracer, f.meter, f.logger),
	}

	switch name {
	case ProviderOpenAI:
		base.baseURL = f.endpoint(name, "", "https://api.openai.com/v1")
		return &OpenAIProvider{httpBase: base}, nil
	case ProviderAnthropic:
		base.baseURL = f.endpoint(name, "", "https://api.anthropic.com/v1")
		return &AnthropicProvider{httpBase: base}, nil
	case ProviderOllama:
		base.baseURL = f.endpoint(name, cfg.BaseURL, DefaultOllamaURL)
		return &OllamaProvider{httpBase: base}, nil
	case ProviderGemini:
		base.baseURL = f.endpoint(name, "", "")
		return &GeminiProvider{httpBase: base}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
}

// endpoint picks the per-request URL, then the factory override, then the default
func (f *Factory) endpoint(name, requested, def string) string {
	if requested != "" {
		return strings.TrimRight(requested, "/")
	}
	if u, ok := f.baseURLs[name]; ok && u != "" {
		return strings.TrimRight(u, "/")
	}
	return def
}
