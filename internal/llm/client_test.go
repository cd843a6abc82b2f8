package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, p Provider, url string, mutate ...func(*ProviderConfig)) *Client {
	t.Helper()
	cfg := ProviderConfig{Provider: p, APIKey: "test-key", Endpoint: url, Model: "test-model"}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := NewClient(cfg, WithRetry(3, time.Millisecond))
	require.NoError(t, err)
	return c
}

type recorder struct {
	chunks []StreamChunk
}

func (r *recorder) onChunk(c StreamChunk) error {
	r.chunks = append(r.chunks, c)
	return nil
}

func (r *recorder) terminals() int {
	n := 0
	for _, c := range r.chunks {
		if c.Done {
			n++
		}
	}
	return n
}

func TestNewClient_ConfigErrors(t *testing.T) {
	cases := map[string]ProviderConfig{
		"missing key":      {Provider: ProviderOpenAI, Model: "m"},
		"anthropic no key": {Provider: ProviderAnthropic, Model: "m"},
		"custom no url":    {Provider: ProviderCustom, Model: "m"},
		"unknown":          {Provider: "bogus", Model: "m"},
		"empty provider":   {Model: "m"},
		"bad endpoint":     {Provider: ProviderOllama, Endpoint: "localhost:11434"},
		"temperature":      {Provider: ProviderOllama, Temperature: Float(3)},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewClient(cfg)
			require.ErrorIs(t, err, ErrConfig)
		})
	}

	c, err := NewClient(ProviderConfig{Provider: ProviderOllama, Model: "llama3"})
	require.NoError(t, err)
	require.Equal(t, "http://localhost:11434", c.Config().BaseURL())

	c, err = NewClient(ProviderConfig{Provider: ProviderCustom, Endpoint: "http://gw.local/v1/", Model: "m"})
	require.NoError(t, err)
	require.Equal(t, "http://gw.local/v1", c.Config().BaseURL())
}

func TestClient_ChatOpenAI(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, false, body["stream"])

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello world"}}]}`))
	}))
	defer ts.Close()

	c := newTestClient(t, ProviderOpenAI, ts.URL)
	out, err := c.Chat(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)
	require.Equal(t, "hello world", out)
}

func TestClient_ChatAnthropic(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("x-api-key"))
		require.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"a"},{"type":"tool_use","id":"x"},{"type":"text","text":"b"}]}`))
	}))
	defer ts.Close()

	c := newTestClient(t, ProviderAnthropic, ts.URL)
	out, err := c.Chat(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)
	require.Equal(t, "ab", out)
}

func TestClient_ChatOllama(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"pong"},"done":true}`))
	}))
	defer ts.Close()

	c := newTestClient(t, ProviderOllama, ts.URL, func(cfg *ProviderConfig) { cfg.APIKey = "" })
	out, err := c.Chat(context.Background(), []ChatMessage{{Role: RoleUser, Content: "ping"}})
	require.NoError(t, err)
	require.Equal(t, "pong", out)
}

func TestClient_ChatMissingFieldIsParseError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer ts.Close()

	_, err := newTestClient(t, ProviderOpenAI, ts.URL).Chat(context.Background(), []ChatMessage{{Role: RoleUser, Content: "x"}})
	require.ErrorIs(t, err, ErrParse)
}

func TestClient_HTTPErrorTranslated(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer ts.Close()

	_, err := newTestClient(t, ProviderOpenAI, ts.URL).Chat(context.Background(), []ChatMessage{{Role: RoleUser, Content: "x"}})
	require.ErrorIs(t, err, ErrHTTPStatus)

	var le *Error
	require.True(t, errors.As(err, &le))
	require.Equal(t, http.StatusUnauthorized, le.StatusCode)
	require.Equal(t, "Incorrect API key provided", le.Message)
	require.NotContains(t, err.Error(), "{")
}

func TestClient_HTTPErrorWithoutBodyUsesStatusText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>oops</html>"))
	}))
	defer ts.Close()

	_, err := newTestClient(t, ProviderOpenAI, ts.URL).Chat(context.Background(), []ChatMessage{{Role: RoleUser, Content: "x"}})
	var le *Error
	require.True(t, errors.As(err, &le))
	require.Equal(t, "Bad Gateway", le.Message)
}

func TestClient_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer ts.Close()

	out, err := newTestClient(t, ProviderOpenAI, ts.URL).Chat(context.Background(), []ChatMessage{{Role: RoleUser, Content: "x"}})
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.EqualValues(t, 3, calls.Load())
}

func TestClient_ServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	_, err := newTestClient(t, ProviderOpenAI, ts.URL).Chat(context.Background(), []ChatMessage{{Role: RoleUser, Content: "x"}})
	require.ErrorIs(t, err, ErrHTTPStatus)
	require.EqualValues(t, 1, calls.Load())
}

func TestClient_NetworkError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	_, err := newTestClient(t, ProviderOpenAI, url).Chat(context.Background(), []ChatMessage{{Role: RoleUser, Content: "x"}})
	require.ErrorIs(t, err, ErrNetwork)
}

func TestClient_EncodeErrorBeforeNetwork(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls.Add(1) }))
	defer ts.Close()

	c := newTestClient(t, ProviderOpenAI, ts.URL, func(cfg *ProviderConfig) { cfg.Model = "" })
	var rec recorder
	err := c.ChatStream(context.Background(), []ChatMessage{{Role: RoleUser, Content: "x"}}, rec.onChunk)
	require.ErrorIs(t, err, ErrEncode)
	require.Equal(t, 1, rec.terminals())
	require.Zero(t, calls.Load())
}

func streamServer(t *testing.T, records ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, rec := range records {
			_, _ = io.WriteString(w, rec)
			flusher.Flush()
		}
	}))
}

func TestClient_ChatStreamProviders(t *testing.T) {
	cases := []struct {
		provider Provider
		wire     string
		want     []string
	}{
		{ProviderOpenAI, openAIStream, []string{"c:Hel", "c:lo", "done"}},
		{ProviderCustom, openAIStream, []string{"c:Hel", "c:lo", "done"}},
		{ProviderAnthropic, anthropicStream, []string{"c:Hi", "c: there", "done"}},
		{ProviderOllama, ollamaStream, []string{"c:Hi", "c:!", "done"}},
	}
	for _, tc := range cases {
		t.Run(string(tc.provider), func(t *testing.T) {
			ts := streamServer(t, tc.wire[:len(tc.wire)/2], tc.wire[len(tc.wire)/2:])
			defer ts.Close()

			var rec recorder
			err := newTestClient(t, tc.provider, ts.URL).ChatStream(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, rec.onChunk)
			require.NoError(t, err)
			require.Equal(t, tc.want, render(rec.chunks))
		})
	}
}

func TestClient_ChatStreamSynthesizesTerminalAtEOF(t *testing.T) {
	ts := streamServer(t, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
	defer ts.Close()

	var rec recorder
	err := newTestClient(t, ProviderOpenAI, ts.URL).ChatStream(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, rec.onChunk)
	require.NoError(t, err)
	require.Equal(t, []string{"c:partial", "done"}, render(rec.chunks))
}

func TestClient_ChatStreamHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"nope\" not found, try pulling it first"}`))
	}))
	defer ts.Close()

	var rec recorder
	err := newTestClient(t, ProviderOllama, ts.URL).ChatStream(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, rec.onChunk)
	require.ErrorIs(t, err, ErrHTTPStatus)
	require.Len(t, rec.chunks, 1)
	require.True(t, rec.chunks[0].Done)
	require.Equal(t, err, rec.chunks[0].Err)
}

func TestClient_ChatStreamCancelled(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer ts.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rec recorder
	err := newTestClient(t, ProviderOpenAI, ts.URL).ChatStream(ctx, []ChatMessage{{Role: RoleUser, Content: "hi"}}, func(c StreamChunk) error {
		if !c.Done {
			cancel()
		}
		return rec.onChunk(c)
	})
	require.ErrorIs(t, err, ErrCancelled)
	require.Equal(t, 1, rec.terminals())
	last := rec.chunks[len(rec.chunks)-1]
	require.True(t, last.Cancelled())
	require.Equal(t, "c:first", render(rec.chunks)[0])
}

func TestClient_ChatStreamReadTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer ts.Close()
	defer close(release)

	c := newTestClient(t, ProviderOllama, ts.URL, func(cfg *ProviderConfig) { cfg.ReadTimeout = 100 * time.Millisecond })

	start := time.Now()
	var rec recorder
	err := c.ChatStream(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, rec.onChunk)
	require.ErrorIs(t, err, ErrNetwork)
	require.Less(t, time.Since(start), 5*time.Second)
	require.Equal(t, 1, rec.terminals())
	require.False(t, rec.chunks[0].Cancelled())
}

func TestClient_ChatStreamCallbackErrorStops(t *testing.T) {
	ts := streamServer(t, openAIStream)
	defer ts.Close()

	stop := errors.New("consumer gone")
	var rec recorder
	err := newTestClient(t, ProviderOpenAI, ts.URL).ChatStream(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, func(c StreamChunk) error {
		_ = rec.onChunk(c)
		if !c.Done {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
	require.Len(t, rec.chunks, 2)
	require.Equal(t, stop, rec.chunks[1].Err)
}

func TestClient_Ping(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"llama3"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	require.NoError(t, newTestClient(t, ProviderOllama, ts.URL).Ping(context.Background()))

	err := newTestClient(t, ProviderOpenAI, ts.URL).Ping(context.Background())
	require.ErrorIs(t, err, ErrHTTPStatus)
	require.Contains(t, err.Error(), fmt.Sprint(http.StatusNotFound))
}
