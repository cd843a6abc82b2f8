package llm

import (
	"bytes"
	"encoding/json"
)

type ollamaStreamRecord struct {
	Message *struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool            `json:"done"`
	Error json.RawMessage `json:"error"`
}

// ollamaHandler decodes newline-delimited JSON objects; the object with
// "done": true is terminal and may still carry content.
type ollamaHandler struct{}

// NewOllamaDecoder decodes the Ollama /api/chat stream.
func NewOllamaDecoder() StreamDecoder {
	return newLineDecoder("ollama", ProviderOllama, ollamaHandler{})
}

func (ollamaHandler) line(line []byte) []StreamChunk {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}

	var rec ollamaStreamRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return []StreamChunk{errorChunk(parseError(ProviderOllama, "malformed stream record", err))}
	}
	if msg := errorText(rec.Error); msg != "" {
		return []StreamChunk{errorChunk(statusError(ProviderOllama, 0, msg))}
	}

	var out []StreamChunk
	if rec.Message != nil && rec.Message.Content != "" {
		out = append(out, contentChunk(rec.Message.Content))
	}
	if rec.Done {
		out = append(out, doneChunk())
	}
	return out
}

func (ollamaHandler) flush() []StreamChunk { return nil }
