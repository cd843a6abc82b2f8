package llm

import (
	"errors"
	"strings"
	"time"
)

type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderOllama    Provider = "ollama"
	ProviderCustom    Provider = "custom"
)

// ParseProvider maps a case-insensitive name to a Provider.
func ParseProvider(name string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(name))); p {
	case ProviderOpenAI, ProviderAnthropic, ProviderOllama, ProviderCustom:
		return p, nil
	case "":
		return "", configError("", "provider is empty")
	default:
		return "", configError("", "unknown provider %q", name)
	}
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 60 * time.Second
	DefaultRequestTimeout = 2 * time.Minute
	DefaultContextLines   = 50
)

var defaultBaseURLs = map[Provider]string{
	ProviderOpenAI:    "https://api.openai.com/v1",
	ProviderAnthropic: "https://api.anthropic.com/v1",
	ProviderOllama:    "http://localhost:11434",
}

// ProviderConfig selects a backend and its request parameters. It is a
// value type: each request works on its own Clone.
type ProviderConfig struct {
	Provider     Provider
	APIKey       string
	Endpoint     string
	Model        string
	MaxTokens    int
	Temperature  *float64
	ContextAware bool
	ContextLines int
	SystemPrompt string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	RequestTimeout time.Duration
}

// Clone returns a copy that shares no mutable state with c.
func (c ProviderConfig) Clone() ProviderConfig {
	out := c
	if c.Temperature != nil {
		t := *c.Temperature
		out.Temperature = &t
	}
	return out
}

// WithDefaults fills zero timeouts and context size.
func (c ProviderConfig) WithDefaults() ProviderConfig {
	out := c.Clone()
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = DefaultConnectTimeout
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = DefaultReadTimeout
	}
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = DefaultRequestTimeout
	}
	if out.ContextLines <= 0 {
		out.ContextLines = DefaultContextLines
	}
	return out
}

// Validate reports the first configuration problem as a ConfigError.
func (c ProviderConfig) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderAnthropic:
		if strings.TrimSpace(c.APIKey) == "" {
			return configError(c.Provider, "api key is empty")
		}
	case ProviderOllama:
	case ProviderCustom:
		if strings.TrimSpace(c.Endpoint) == "" {
			return configError(c.Provider, "custom provider requires an endpoint")
		}
	case "":
		return configError("", "provider is empty")
	default:
		return configError(c.Provider, "unknown provider %q", string(c.Provider))
	}
	if c.Endpoint != "" && !strings.HasPrefix(c.Endpoint, "http://") && !strings.HasPrefix(c.Endpoint, "https://") {
		return configError(c.Provider, "endpoint %q must be an http(s) URL", c.Endpoint)
	}
	if c.MaxTokens < 0 {
		return configError(c.Provider, "max_tokens must not be negative")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return configError(c.Provider, "temperature %.2f out of range [0,2]", *c.Temperature)
	}
	if c.ContextLines < 0 {
		return configError(c.Provider, "context_lines must not be negative")
	}
	return nil
}

// BaseURL is the endpoint override, or the provider default, without a
// trailing slash.
func (c ProviderConfig) BaseURL() string {
	if c.Endpoint != "" {
		return strings.TrimRight(c.Endpoint, "/")
	}
	return defaultBaseURLs[c.Provider]
}

// StreamChunk is one decoded piece of a streamed response. A chunk with
// Done set is terminal; Err is non-nil when the stream failed.
type StreamChunk struct {
	Content string
	Done    bool
	Err     error
}

// Cancelled reports whether c is the terminal chunk of a cancelled stream.
func (c StreamChunk) Cancelled() bool {
	return c.Done && errors.Is(c.Err, ErrCancelled)
}

// Float returns a pointer to v, for optional numeric parameters.
func Float(v float64) *float64 { return &v }
