package llm

import (
	"encoding/json"
	"strings"
)

type anthropicStreamRecord struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error json.RawMessage `json:"error"`
}

// anthropicHandler decodes the event-tagged SSE stream of the Messages
// API. Only content_block_delta carries text; message_stop is terminal.
type anthropicHandler struct {
	sse sseAccumulator
}

// NewAnthropicDecoder decodes the Anthropic messages stream.
func NewAnthropicDecoder() StreamDecoder {
	return newLineDecoder("anthropic", ProviderAnthropic, &anthropicHandler{})
}

func (h *anthropicHandler) line(line []byte) []StreamChunk {
	ev, ok := h.sse.line(line)
	if !ok {
		return nil
	}
	return h.event(ev)
}

func (h *anthropicHandler) flush() []StreamChunk {
	ev, ok := h.sse.dispatch()
	if !ok {
		return nil
	}
	return h.event(ev)
}

func (h *anthropicHandler) event(ev sseEvent) []StreamChunk {
	data := strings.TrimSpace(ev.Data)
	if data == "" {
		return nil
	}

	var rec anthropicStreamRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return []StreamChunk{errorChunk(parseError(ProviderAnthropic, "malformed stream record", err))}
	}

	typ := ev.Type
	if typ == "" {
		typ = rec.Type
	}
	switch typ {
	case "content_block_delta":
		if rec.Delta.Text != "" {
			return []StreamChunk{contentChunk(rec.Delta.Text)}
		}
	case "message_stop":
		return []StreamChunk{doneChunk()}
	case "error":
		msg := errorText(rec.Error)
		if msg == "" {
			msg = "stream error"
		}
		return []StreamChunk{errorChunk(statusError(ProviderAnthropic, 0, msg))}
	case "message_start", "content_block_start", "content_block_stop", "message_delta", "ping":
	}
	return nil
}
