package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every variable, e.g. TERMAI_PROVIDER.
const EnvPrefix = "TERMAI"

type EnvVars struct {
	AppEnv       string        `envconfig:"APP_ENV" default:"dev"`
	Addr         string        `envconfig:"ADDR" default:"127.0.0.1:8765"`
	ReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"0s"`
	APIKey       string        `envconfig:"API_KEY"`
	RateLimit    float64       `envconfig:"RATE_LIMIT" default:"5"`
	RateBurst    int           `envconfig:"RATE_BURST" default:"10"`

	ConfigFile string `envconfig:"CONFIG"`
	Profile    string `envconfig:"PROFILE"`

	Provider     string   `envconfig:"PROVIDER"`
	LLMAPIKey    string   `envconfig:"LLM_API_KEY"`
	Endpoint     string   `envconfig:"ENDPOINT"`
	Model        string   `envconfig:"MODEL"`
	MaxTokens    int      `envconfig:"MAX_TOKENS"`
	Temperature  *float64 `envconfig:"TEMPERATURE"`
	ContextAware *bool    `envconfig:"CONTEXT_AWARE"`
	ContextLines int      `envconfig:"CONTEXT_LINES"`
	SystemPrompt string   `envconfig:"SYSTEM_PROMPT"`

	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT"`
	LLMReadTimeout time.Duration `envconfig:"LLM_READ_TIMEOUT"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadEnv reads the optional .env files, then the TERMAI_* variables.
// Variables already set in the environment win over .env entries.
func LoadEnv(dotenv ...string) (*EnvVars, error) {
	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	for _, path := range dotenv {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	var v EnvVars
	if err := envconfig.Process(EnvPrefix, &v); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	return &v, nil
}
