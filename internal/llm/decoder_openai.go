package llm

import (
	"encoding/json"
	"strings"
)

type openAIStreamRecord struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error json.RawMessage `json:"error"`
}

// openAIHandler decodes `data: {...}` SSE records terminated by
// `data: [DONE]`.
type openAIHandler struct {
	provider Provider
	sse      sseAccumulator
}

// NewOpenAIDecoder decodes the OpenAI chat-completions stream.
func NewOpenAIDecoder() StreamDecoder {
	return newOpenAIDecoder(ProviderOpenAI)
}

func newOpenAIDecoder(p Provider) StreamDecoder {
	return newLineDecoder("openai", p, &openAIHandler{provider: p})
}

func (h *openAIHandler) line(line []byte) []StreamChunk {
	ev, ok := h.sse.line(line)
	if !ok {
		return nil
	}
	return h.event(ev)
}

func (h *openAIHandler) flush() []StreamChunk {
	ev, ok := h.sse.dispatch()
	if !ok {
		return nil
	}
	return h.event(ev)
}

func (h *openAIHandler) event(ev sseEvent) []StreamChunk {
	data := strings.TrimSpace(ev.Data)
	if data == "[DONE]" {
		return []StreamChunk{doneChunk()}
	}
	if data == "" {
		return nil
	}

	var rec openAIStreamRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return []StreamChunk{errorChunk(parseError(h.provider, "malformed stream record", err))}
	}
	if msg := errorText(rec.Error); msg != "" {
		return []StreamChunk{errorChunk(statusError(h.provider, 0, msg))}
	}
	if len(rec.Choices) == 0 {
		return nil
	}
	if c := rec.Choices[0].Delta.Content; c != nil && *c != "" {
		return []StreamChunk{contentChunk(*c)}
	}
	return nil
}
