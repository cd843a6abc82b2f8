package llm

import (
	"encoding/json"
	"net/http"
)

// openAIProtocol speaks the chat-completions API. The custom provider
// uses it against its own endpoint.
type openAIProtocol struct {
	provider Provider
}

var _ protocol = openAIProtocol{}

func (openAIProtocol) chatPath() string { return "/chat/completions" }

func (openAIProtocol) pingPath() string { return "/models" }

func (openAIProtocol) setAuth(h http.Header, apiKey string) {
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
}

func (p openAIProtocol) parseChat(body []byte) (string, error) {
	var result struct {
		Choices []struct {
			Message struct {
				Content *string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", parseError(p.provider, "decode chat response", err)
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == nil {
		return "", parseError(p.provider, "response has no choices[0].message.content", nil)
	}
	return *result.Choices[0].Message.Content, nil
}

func (p openAIProtocol) newDecoder() StreamDecoder {
	return newOpenAIDecoder(p.provider)
}
