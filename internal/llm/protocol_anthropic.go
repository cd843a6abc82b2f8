package llm

import (
	"encoding/json"
	"net/http"
	"strings"
)

const anthropicVersion = "2023-06-01"

type anthropicProtocol struct{}

var _ protocol = anthropicProtocol{}

func (anthropicProtocol) chatPath() string { return "/messages" }

func (anthropicProtocol) pingPath() string { return "/models" }

func (anthropicProtocol) setAuth(h http.Header, apiKey string) {
	h.Set("x-api-key", apiKey)
	h.Set("anthropic-version", anthropicVersion)
}

// parseChat joins the text blocks of a Messages API reply.
func (anthropicProtocol) parseChat(body []byte) (string, error) {
	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", parseError(ProviderAnthropic, "decode messages response", err)
	}
	if result.Content == nil {
		return "", parseError(ProviderAnthropic, "response has no content", nil)
	}
	var b strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

func (anthropicProtocol) newDecoder() StreamDecoder { return NewAnthropicDecoder() }
