package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/ccastromar/termai/internal/llm"
)

// Profile is one named provider setup in a config file. Durations are
// Go duration strings ("10s"). APIKeyEnv names a variable holding the
// key, so files can stay free of secrets.
type Profile struct {
	Provider       string   `yaml:"provider" json:"provider"`
	APIKey         string   `yaml:"api_key" json:"api_key"`
	APIKeyEnv      string   `yaml:"api_key_env" json:"api_key_env"`
	Endpoint       string   `yaml:"endpoint" json:"endpoint"`
	Model          string   `yaml:"model" json:"model"`
	MaxTokens      int      `yaml:"max_tokens" json:"max_tokens"`
	Temperature    *float64 `yaml:"temperature" json:"temperature"`
	ContextAware   *bool    `yaml:"context_aware" json:"context_aware"`
	ContextLines   int      `yaml:"context_lines" json:"context_lines"`
	SystemPrompt   string   `yaml:"system_prompt" json:"system_prompt"`
	ConnectTimeout string   `yaml:"connect_timeout" json:"connect_timeout"`
	ReadTimeout    string   `yaml:"read_timeout" json:"read_timeout"`
	RequestTimeout string   `yaml:"request_timeout" json:"request_timeout"`
}

type File struct {
	Default  string             `yaml:"default" json:"default"`
	Profiles map[string]Profile `yaml:"profiles" json:"profiles"`
}

// LoadFile reads provider profiles from YAML, or from JSON with comments
// when the extension is .json or .jsonc.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var f File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		dec := json.NewDecoder(strings.NewReader(string(jsonc.ToJSON(data))))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if f.Default != "" {
		if _, ok := f.Profiles[f.Default]; !ok {
			return nil, fmt.Errorf("parsing %s: default profile %q not defined", path, f.Default)
		}
	}
	return &f, nil
}

// Profile returns the named profile, or the default one when name is
// empty. A file with a single profile needs no default.
func (f *File) Profile(name string) (Profile, error) {
	if name == "" {
		name = f.Default
	}
	if name == "" && len(f.Profiles) == 1 {
		for only := range f.Profiles {
			name = only
		}
	}
	p, ok := f.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("profile %q not found (have: %s)", name, strings.Join(f.Names(), ", "))
	}
	return p, nil
}

// Names lists the profile names, sorted.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Profiles))
	for n := range f.Profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// providerKeyEnv holds the conventional key variable of each provider.
var providerKeyEnv = map[llm.Provider]string{
	llm.ProviderOpenAI:    "OPENAI_API_KEY",
	llm.ProviderAnthropic: "ANTHROPIC_API_KEY",
}

// Resolve merges the selected file profile with the environment, which
// wins field by field, and validates the result. file may be nil.
// Without any provider setting it falls back to a local Ollama.
func Resolve(env *EnvVars, file *File) (llm.ProviderConfig, error) {
	if env == nil {
		env = &EnvVars{}
	}
	var prof Profile
	if file != nil {
		p, err := file.Profile(env.Profile)
		if err != nil {
			return llm.ProviderConfig{}, err
		}
		prof = p
	}

	name := firstNonEmpty(env.Provider, prof.Provider, string(llm.ProviderOllama))
	provider, err := llm.ParseProvider(name)
	if err != nil {
		return llm.ProviderConfig{}, err
	}

	cfg := llm.ProviderConfig{
		Provider:     provider,
		Endpoint:     firstNonEmpty(env.Endpoint, prof.Endpoint),
		Model:        firstNonEmpty(env.Model, prof.Model),
		MaxTokens:    firstPositive(env.MaxTokens, prof.MaxTokens),
		Temperature:  prof.Temperature,
		ContextAware: true,
		ContextLines: firstPositive(env.ContextLines, prof.ContextLines),
		SystemPrompt: firstNonEmpty(env.SystemPrompt, prof.SystemPrompt),
	}
	if env.Temperature != nil {
		cfg.Temperature = env.Temperature
	}
	switch {
	case env.ContextAware != nil:
		cfg.ContextAware = *env.ContextAware
	case prof.ContextAware != nil:
		cfg.ContextAware = *prof.ContextAware
	}

	cfg.APIKey = env.LLMAPIKey
	if cfg.APIKey == "" {
		cfg.APIKey = prof.APIKey
	}
	if cfg.APIKey == "" && prof.APIKeyEnv != "" {
		cfg.APIKey = os.Getenv(prof.APIKeyEnv)
	}
	if cfg.APIKey == "" {
		if v, ok := providerKeyEnv[provider]; ok {
			cfg.APIKey = os.Getenv(v)
		}
	}

	if cfg.ConnectTimeout, err = pickDuration(env.ConnectTimeout, prof.ConnectTimeout); err != nil {
		return llm.ProviderConfig{}, fmt.Errorf("connect_timeout: %w", err)
	}
	if cfg.ReadTimeout, err = pickDuration(env.LLMReadTimeout, prof.ReadTimeout); err != nil {
		return llm.ProviderConfig{}, fmt.Errorf("read_timeout: %w", err)
	}
	if cfg.RequestTimeout, err = pickDuration(env.RequestTimeout, prof.RequestTimeout); err != nil {
		return llm.ProviderConfig{}, fmt.Errorf("request_timeout: %w", err)
	}

	cfg = cfg.WithDefaults()
	if cfg.Model == "" {
		cfg.Model = defaultModels[provider]
	}
	if err := cfg.Validate(); err != nil {
		return llm.ProviderConfig{}, err
	}
	return cfg, nil
}

var defaultModels = map[llm.Provider]string{
	llm.ProviderOpenAI:    "gpt-4o-mini",
	llm.ProviderAnthropic: "claude-3-5-haiku-latest",
	llm.ProviderOllama:    "llama3.2",
}

func pickDuration(env time.Duration, file string) (time.Duration, error) {
	if env > 0 {
		return env, nil
	}
	if file == "" {
		return 0, nil
	}
	return time.ParseDuration(file)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
