package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

const defaultAnthropicMaxTokens = 1024

type openAIRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []ChatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

// BuildRequest encodes the chat body for cfg.Provider. Every string is
// escaped to pure ASCII JSON. Invalid UTF-8 or an empty model fails with
// an encode Error before anything touches the network.
func BuildRequest(cfg ProviderConfig, messages []ChatMessage, stream bool) ([]byte, error) {
	p := cfg.Provider
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, encodeError(p, "model is empty", nil)
	}
	if !utf8.ValidString(cfg.Model) {
		return nil, encodeError(p, "model is not valid UTF-8", nil)
	}
	if len(messages) == 0 {
		return nil, encodeError(p, "no messages", nil)
	}
	for i, m := range messages {
		if !utf8.ValidString(m.Content) || !utf8.ValidString(m.Role) {
			return nil, encodeError(p, fmt.Sprintf("message %d is not valid UTF-8", i), nil)
		}
	}

	var payload any
	switch p {
	case ProviderOpenAI, ProviderCustom:
		payload = openAIRequest{
			Model:       cfg.Model,
			Messages:    messages,
			Stream:      stream,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}
	case ProviderAnthropic:
		system, rest := splitSystem(messages)
		if len(rest) == 0 {
			return nil, encodeError(p, "no user messages", nil)
		}
		maxTokens := cfg.MaxTokens
		if maxTokens <= 0 {
			maxTokens = defaultAnthropicMaxTokens
		}
		payload = anthropicRequest{
			Model:       cfg.Model,
			MaxTokens:   maxTokens,
			System:      system,
			Messages:    rest,
			Stream:      stream,
			Temperature: cfg.Temperature,
		}
	case ProviderOllama:
		req := ollamaRequest{Model: cfg.Model, Messages: messages, Stream: stream}
		if cfg.Temperature != nil || cfg.MaxTokens > 0 {
			req.Options = &ollamaOptions{Temperature: cfg.Temperature, NumPredict: cfg.MaxTokens}
		}
		payload = req
	default:
		return nil, configError(p, "unknown provider %q", string(p))
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, encodeError(p, "marshal payload", err)
	}
	return asciiJSON(raw), nil
}

// splitSystem lifts system messages out of the conversation, joined by a
// blank line.
func splitSystem(messages []ChatMessage) (string, []ChatMessage) {
	var system []string
	rest := make([]ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// asciiJSON rewrites every non-ASCII rune of marshalled JSON as \uXXXX.
// Non-ASCII bytes only ever occur inside string literals there.
func asciiJSON(raw []byte) []byte {
	ascii := true
	for _, c := range raw {
		if c >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return raw
	}

	var b bytes.Buffer
	b.Grow(len(raw) + len(raw)/2)
	for len(raw) > 0 {
		c := raw[0]
		if c < utf8.RuneSelf {
			b.WriteByte(c)
			raw = raw[1:]
			continue
		}
		r, size := utf8.DecodeRune(raw)
		raw = raw[size:]
		if r >= 0x10000 {
			hi, lo := utf16.EncodeRune(r)
			fmt.Fprintf(&b, `\u%04x\u%04x`, hi, lo)
			continue
		}
		fmt.Fprintf(&b, `\u%04x`, r)
	}
	return b.Bytes()
}

// BuildMessages assembles the conversation for a prompt: the system
// prompt, then the user prompt with the tail of the terminal context when
// cfg.ContextAware is set. termContext must already be redacted.
func BuildMessages(cfg ProviderConfig, prompt, termContext string) []ChatMessage {
	var msgs []ChatMessage
	if s := strings.TrimSpace(cfg.SystemPrompt); s != "" {
		msgs = append(msgs, ChatMessage{Role: RoleSystem, Content: s})
	}

	content := prompt
	if cfg.ContextAware {
		n := cfg.ContextLines
		if n <= 0 {
			n = DefaultContextLines
		}
		if tail := lastLines(termContext, n); tail != "" {
			content = prompt + "\n\nTerminal context:\n" + tail
		}
	}
	return append(msgs, ChatMessage{Role: RoleUser, Content: content})
}

func lastLines(s string, n int) string {
	s = strings.TrimRight(s, "\r\n")
	if s == "" {
		return ""
	}
	idx := len(s)
	for i := 0; i < n; i++ {
		j := strings.LastIndexByte(s[:idx], '\n')
		if j < 0 {
			return s
		}
		idx = j
	}
	return s[idx+1:]
}
