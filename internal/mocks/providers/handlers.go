// Package providers fakes the chat endpoints of OpenAI, Anthropic and
// Ollama for local development and end-to-end tests.
//
// The reply echoes the first line of the last user message. Markers in
// the prompt change behavior:
//
//	[fail]    the request fails with HTTP 500
//	[busy]    the request fails with HTTP 429 and Retry-After: 0
//	[midfail] the stream sends one fragment, then an error record
//	[slow]    fragments are a second apart
package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ccastromar/termai/internal/logx"
)

type Options struct {
	// ChunkDelay is the pause between streamed fragments.
	ChunkDelay time.Duration
}

// RegisterHandlers mounts the fakes under /openai, /anthropic and
// /ollama. Point a provider endpoint at the matching prefix.
func RegisterHandlers(mux *http.ServeMux, opts Options) {
	m := &mock{opts: opts}
	mux.HandleFunc("POST /openai/chat/completions", m.openAIChat)
	mux.HandleFunc("GET /openai/models", listModels)
	mux.HandleFunc("POST /anthropic/messages", m.anthropicChat)
	mux.HandleFunc("GET /anthropic/models", listModels)
	mux.HandleFunc("POST /ollama/api/chat", m.ollamaChat)
	mux.HandleFunc("GET /ollama/api/tags", listModels)
}

type mock struct {
	opts Options
}

type chatBody struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// scenario is what one request asked the mock to do.
type scenario struct {
	model     string
	stream    bool
	fragments []string
	fail      bool
	busy      bool
	midfail   bool
	delay     time.Duration
}

func (m *mock) parse(w http.ResponseWriter, r *http.Request) (scenario, bool) {
	var body chatBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return scenario{}, false
	}
	var prompt string
	for i := len(body.Messages) - 1; i >= 0; i-- {
		if body.Messages[i].Role == "user" {
			prompt = body.Messages[i].Content
			break
		}
	}
	logx.Debug("MockLLM", "%s model=%s stream=%t", r.URL.Path, body.Model, body.Stream)

	sc := scenario{
		model:     body.Model,
		stream:    body.Stream,
		fragments: Fragments(Reply(prompt)),
		fail:      strings.Contains(prompt, "[fail]"),
		busy:      strings.Contains(prompt, "[busy]"),
		midfail:   strings.Contains(prompt, "[midfail]"),
		delay:     m.opts.ChunkDelay,
	}
	if strings.Contains(prompt, "[slow]") {
		sc.delay = time.Second
	}
	return sc, true
}

// Reply joins the fragments the mock streams for prompt.
func Reply(prompt string) string {
	return "You asked: " + firstLine(prompt)
}

// Fragments splits s into words, each keeping its trailing space.
func Fragments(s string) []string {
	var out []string
	for len(s) > 0 {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// rejected writes the failure responses shared by every provider.
func rejected(w http.ResponseWriter, sc scenario, errBody string) bool {
	switch {
	case sc.busy:
		w.Header().Set("Retry-After", "0")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, errBody)
		return true
	case sc.fail:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, errBody)
		return true
	}
	return false
}

// pace waits between fragments. It reports false once the client left.
func pace(r *http.Request, d time.Duration) bool {
	if d <= 0 {
		return r.Context().Err() == nil
	}
	select {
	case <-time.After(d):
		return true
	case <-r.Context().Done():
		return false
	}
}

func streamHeaders(w http.ResponseWriter, contentType string) http.Flusher {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	f, _ := w.(http.Flusher)
	return f
}

func flush(f http.Flusher) {
	if f != nil {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func listModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"data":   []map[string]string{{"id": "mock-model"}},
		"models": []map[string]string{{"name": "mock-model"}},
	})
}

func (m *mock) openAIChat(w http.ResponseWriter, r *http.Request) {
	sc, ok := m.parse(w, r)
	if !ok {
		return
	}
	if rejected(w, sc, `{"error":{"message":"mock failure","type":"server_error"}}`) {
		return
	}
	id := "chatcmpl-" + uuid.NewString()

	if !sc.stream {
		writeJSON(w, map[string]any{
			"id":     id,
			"object": "chat.completion",
			"model":  sc.model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": strings.Join(sc.fragments, "")},
				"finish_reason": "stop",
			}},
		})
		return
	}

	f := streamHeaders(w, "text/event-stream")
	for i, frag := range sc.fragments {
		if i > 0 && !pace(r, sc.delay) {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", mustJSON(map[string]any{
			"id":      id,
			"object":  "chat.completion.chunk",
			"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": frag}}},
		}))
		flush(f)
		if sc.midfail {
			fmt.Fprint(w, "data: {\"error\":{\"message\":\"mock stream failure\",\"type\":\"server_error\"}}\n\n")
			flush(f)
			return
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flush(f)
}

func (m *mock) anthropicChat(w http.ResponseWriter, r *http.Request) {
	sc, ok := m.parse(w, r)
	if !ok {
		return
	}
	if rejected(w, sc, `{"type":"error","error":{"type":"api_error","message":"mock failure"}}`) {
		return
	}
	id := "msg_" + uuid.NewString()

	if !sc.stream {
		writeJSON(w, map[string]any{
			"id":          id,
			"type":        "message",
			"role":        "assistant",
			"model":       sc.model,
			"content":     []map[string]string{{"type": "text", "text": strings.Join(sc.fragments, "")}},
			"stop_reason": "end_turn",
		})
		return
	}

	f := streamHeaders(w, "text/event-stream")
	event := func(name string, v any) {
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, mustJSON(v))
		flush(f)
	}
	event("message_start", map[string]any{"type": "message_start", "message": map[string]string{"id": id, "model": sc.model}})
	event("content_block_start", map[string]any{"type": "content_block_start", "index": 0, "content_block": map[string]string{"type": "text", "text": ""}})
	for i, frag := range sc.fragments {
		if i > 0 && !pace(r, sc.delay) {
			return
		}
		event("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]string{"type": "text_delta", "text": frag},
		})
		if sc.midfail {
			event("error", map[string]any{"type": "error", "error": map[string]string{"type": "overloaded_error", "message": "mock stream failure"}})
			return
		}
		if i == 0 {
			event("ping", map[string]string{"type": "ping"})
		}
	}
	event("content_block_stop", map[string]any{"type": "content_block_stop", "index": 0})
	event("message_delta", map[string]any{"type": "message_delta", "delta": map[string]string{"stop_reason": "end_turn"}})
	event("message_stop", map[string]string{"type": "message_stop"})
}

func (m *mock) ollamaChat(w http.ResponseWriter, r *http.Request) {
	sc, ok := m.parse(w, r)
	if !ok {
		return
	}
	if rejected(w, sc, `{"error":"mock failure"}`) {
		return
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if !sc.stream {
		writeJSON(w, map[string]any{
			"model":      sc.model,
			"created_at": now,
			"message":    map[string]string{"role": "assistant", "content": strings.Join(sc.fragments, "")},
			"done":       true,
		})
		return
	}

	f := streamHeaders(w, "application/x-ndjson")
	for i, frag := range sc.fragments {
		if i > 0 && !pace(r, sc.delay) {
			return
		}
		fmt.Fprintln(w, mustJSON(map[string]any{
			"model":      sc.model,
			"created_at": now,
			"message":    map[string]string{"role": "assistant", "content": frag},
			"done":       false,
		}))
		flush(f)
		if sc.midfail {
			fmt.Fprintln(w, `{"error":"mock stream failure"}`)
			flush(f)
			return
		}
	}
	fmt.Fprintln(w, mustJSON(map[string]any{
		"model":       sc.model,
		"created_at":  now,
		"message":     map[string]string{"role": "assistant", "content": ""},
		"done":        true,
		"done_reason": "stop",
	}))
	flush(f)
}
