package llm

import (
	"encoding/json"
	"net/http"
)

// ollamaProtocol talks to a local Ollama daemon, which needs no API key.
type ollamaProtocol struct{}

var _ protocol = ollamaProtocol{}

func (ollamaProtocol) chatPath() string { return "/api/chat" }

func (ollamaProtocol) pingPath() string { return "/api/tags" }

func (ollamaProtocol) setAuth(http.Header, string) {}

func (ollamaProtocol) parseChat(body []byte) (string, error) {
	var result struct {
		Message *struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		Done bool `json:"done"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", parseError(ProviderOllama, "decode chat response", err)
	}
	if result.Message == nil {
		return "", parseError(ProviderOllama, "response has no message", nil)
	}
	return result.Message.Content, nil
}

func (ollamaProtocol) newDecoder() StreamDecoder { return NewOllamaDecoder() }
