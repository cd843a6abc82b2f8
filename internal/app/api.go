package app

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ccastromar/termai/internal/assistant"
	"github.com/ccastromar/termai/internal/config"
	"github.com/ccastromar/termai/internal/llm"
	"github.com/ccastromar/termai/internal/logx"
)

// Max request size for the chat endpoints (1MB).
const maxChatBodyBytes int64 = 1 << 20

// API serves the assistant to a local UI.
type API struct {
	assistant *assistant.Assistant
	apiKey    string
	limiter   *clientLimiter
}

func newAPI(a *assistant.Assistant, env *config.EnvVars) *API {
	return &API{
		assistant: a,
		apiKey:    strings.TrimSpace(env.APIKey),
		limiter:   newClientLimiter(rate.Limit(env.RateLimit), env.RateBurst),
	}
}

func (api *API) RegisterHTTP(mux *http.ServeMux) {
	mux.Handle("POST /v1/chat", api.guard(http.HandlerFunc(api.handleChat)))
	mux.Handle("POST /v1/chat/stream", api.guard(http.HandlerFunc(api.handleChatStream)))
	mux.Handle("POST /v1/cancel", api.guard(http.HandlerFunc(api.handleCancel)))
}

// guard enforces the API key, when one is configured, then the per-client
// rate limit.
func (api *API) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !api.checkAuth(r) {
			w.Header().Set("WWW-Authenticate", "Bearer, X-API-Key")
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		if !api.limiter.allow(clientKey(r)) {
			w.Header().Set("Retry-After", "1")
			writeJSONError(w, http.StatusTooManyRequests, "too many requests", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (api *API) checkAuth(r *http.Request) bool {
	if api.apiKey == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(presentedKey(r)), []byte(api.apiKey)) == 1
}

// presentedKey returns the X-API-Key header or the bearer token.
func presentedKey(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// clientKey identifies a client for rate limiting: its key if it sent
// one, else its IP.
func clientKey(r *http.Request) string {
	if k := presentedKey(r); k != "" {
		return "key:" + k
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

type chatRequest struct {
	Prompt  string `json:"prompt"`
	Context string `json:"context,omitempty"`
}

type chatResponse struct {
	Content string `json:"content"`
}

func decodeChat(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var req chatRequest
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "unsupported media type", "")
		return req, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		code := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			code = http.StatusRequestEntityTooLarge
		}
		writeJSONError(w, code, "invalid request body", "")
		return req, false
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt required", "")
		return req, false
	}
	return req, true
}

func (api *API) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}
	out, err := api.assistant.Chat(r.Context(), req.Prompt, req.Context)
	if err != nil {
		logx.Warn("API", "chat failed: %v", err)
		writeJSONError(w, statusFor(err), err.Error(), string(llm.KindOf(err)))
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Content: out})
}

// handleChatStream relays the reply as server-sent events: one data
// event per fragment, then a single "done" or "error" event.
func (api *API) handleChatStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported", "")
		return
	}
	body, ok := decodeChat(w, r)
	if !ok {
		return
	}

	req, err := api.assistant.ChatStream(r.Context(), body.Prompt, body.Context)
	if err != nil {
		writeJSONError(w, statusFor(err), err.Error(), string(llm.KindOf(err)))
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Request-Id", req.Token())
	w.WriteHeader(http.StatusOK)

	writeEvent(w, "start", map[string]string{"id": req.Token()})
	flusher.Flush()

	err = req.Consume(r.Context(), func(c *assistant.Chunk) {
		defer c.Release()
		switch {
		case !c.Done:
			writeEvent(w, "", map[string]string{"content": c.Content})
		case c.Err != nil:
			writeEvent(w, "error", map[string]string{
				"id":    req.Token(),
				"error": c.Err.Error(),
				"kind":  string(llm.KindOf(c.Err)),
			})
		default:
			writeEvent(w, "done", map[string]string{"id": req.Token()})
		}
		flusher.Flush()
	})
	if err != nil {
		logx.LError(req.Token(), "API", "stream ended: %v", err)
	}
}

type cancelRequest struct {
	ID string `json:"id"`
}

// handleCancel cancels the in-flight request. An empty body or id
// cancels whatever is running.
func (api *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body", "")
			return
		}
	}
	if !api.assistant.Cancel(req.ID) {
		writeJSON(w, http.StatusNotFound, map[string]any{"cancelled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true, "id": req.ID})
}

// statusFor maps assistant and transport errors to HTTP codes.
func statusFor(err error) int {
	if errors.Is(err, assistant.ErrBusy) {
		return http.StatusConflict
	}
	switch llm.KindOf(err) {
	case llm.KindConfig:
		return http.StatusInternalServerError
	case llm.KindEncode:
		return http.StatusBadRequest
	case llm.KindNetwork:
		return http.StatusGatewayTimeout
	case llm.KindHTTPStatus, llm.KindParse:
		return http.StatusBadGateway
	case llm.KindCancelled:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, msg, kind string) {
	body := map[string]string{"error": msg}
	if kind != "" {
		body["kind"] = kind
	}
	writeJSON(w, code, body)
}

func writeEvent(w http.ResponseWriter, event string, v any) {
	data, _ := json.Marshal(v)
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// maxVisitors bounds the limiter table before idle clients are swept.
const maxVisitors = 1024

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// clientLimiter is a token bucket per client key. A non-positive limit
// disables it.
type clientLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{limit: limit, burst: burst, visitors: make(map[string]*visitor)}
}

func (l *clientLimiter) allow(key string) bool {
	if l.limit <= 0 {
		return true
	}
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.visitors[key]
	if !ok {
		if len(l.visitors) >= maxVisitors {
			l.sweep(now)
		}
		v = &visitor{lim: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.seen = now
	return v.lim.AllowN(now, 1)
}

// sweep drops clients idle for over ten minutes.
func (l *clientLimiter) sweep(now time.Time) {
	for k, v := range l.visitors {
		if now.Sub(v.seen) > 10*time.Minute {
			delete(l.visitors, k)
		}
	}
}
