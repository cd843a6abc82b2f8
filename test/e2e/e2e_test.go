package e2e

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ccastromar/termai/internal/app"
	"github.com/ccastromar/termai/internal/config"
	"github.com/ccastromar/termai/internal/llm"
	"github.com/ccastromar/termai/internal/mocks/providers"
)

// startStack serves the provider mocks and a termai API bound to
// provider p on top of them.
func startStack(t *testing.T, p llm.Provider) (*app.App, *httptest.Server) {
	t.Helper()

	mux := http.NewServeMux()
	providers.RegisterHandlers(mux, providers.Options{ChunkDelay: time.Millisecond})
	mock := httptest.NewServer(mux)
	t.Cleanup(mock.Close)

	cfg := llm.ProviderConfig{
		Provider:     p,
		APIKey:       "sk-e2e-test-key-0001",
		Endpoint:     mock.URL + "/" + string(p),
		Model:        "mock-model",
		ContextAware: true,
	}.WithDefaults()

	a, err := app.New(&config.EnvVars{}, cfg)
	require.NoError(t, err)
	api := httptest.NewServer(a.Handler())
	t.Cleanup(api.Close)
	return a, api
}

type sseEvent struct {
	name string
	data map[string]string
}

func readEvents(t *testing.T, r io.Reader) []sseEvent {
	t.Helper()
	var out []sseEvent
	cur := sseEvent{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &cur.data))
		case line == "":
			out = append(out, cur)
			cur = sseEvent{}
		}
	}
	require.NoError(t, sc.Err())
	return out
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// TestE2E_StreamEveryProvider streams a reply through the local API for
// each wire format and checks fragments arrive in order with one
// terminal event.
func TestE2E_StreamEveryProvider(t *testing.T) {
	for _, p := range []llm.Provider{llm.ProviderOpenAI, llm.ProviderAnthropic, llm.ProviderOllama} {
		t.Run(string(p), func(t *testing.T) {
			a, api := startStack(t, p)

			resp := post(t, api.URL+"/v1/chat/stream", `{"prompt":"how do I free disk space","context":"$ df -h\n/dev/sda1 100%"}`)
			require.Equal(t, http.StatusOK, resp.StatusCode)

			events := readEvents(t, resp.Body)
			require.Equal(t, "start", events[0].name)

			var content strings.Builder
			terminals := 0
			for _, ev := range events[1:] {
				switch ev.name {
				case "":
					require.Zero(t, terminals, "content after terminal")
					content.WriteString(ev.data["content"])
				case "done":
					terminals++
				default:
					t.Fatalf("unexpected event %q: %v", ev.name, ev.data)
				}
			}
			require.Equal(t, 1, terminals)
			require.Equal(t, providers.Reply("how do I free disk space"), content.String())

			require.Eventually(t, func() bool { return a.Assistant().Active() == nil }, time.Second, 5*time.Millisecond)
			require.Zero(t, a.Assistant().Pool().Stats().Outstanding())
		})
	}
}

// TestE2E_SecretsNeverLeave checks the provider only ever sees the
// redacted prompt: the mock echoes what it received.
func TestE2E_SecretsNeverLeave(t *testing.T) {
	_, api := startStack(t, llm.ProviderOllama)

	resp := post(t, api.URL+"/v1/chat", `{"prompt":"deploy with sk-live0123456789abcdef please"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Content string `json:"content"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotContains(t, out.Content, "sk-live0123456789abcdef")
	require.Contains(t, out.Content, "[REDACTED]")
}

func TestE2E_ProviderErrors(t *testing.T) {
	_, api := startStack(t, llm.ProviderOpenAI)

	resp := post(t, api.URL+"/v1/chat", `{"prompt":"[fail] now"}`)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "http_status", body["kind"])

	resp = post(t, api.URL+"/v1/chat/stream", `{"prompt":"[midfail] now"}`)
	events := readEvents(t, resp.Body)
	last := events[len(events)-1]
	require.Equal(t, "error", last.name)
	require.Contains(t, last.data["error"], "mock stream failure")
}

// TestE2E_CancelSlowStream cancels a slow stream through the API and
// expects a single cancelled terminal.
func TestE2E_CancelSlowStream(t *testing.T) {
	a, api := startStack(t, llm.ProviderAnthropic)

	done := make(chan []sseEvent, 1)
	go func() {
		resp, err := http.Post(api.URL+"/v1/chat/stream", "application/json", strings.NewReader(`{"prompt":"[slow] tell me everything"}`))
		if err != nil {
			done <- nil
			return
		}
		defer resp.Body.Close()
		done <- readEvents(t, resp.Body)
	}()

	require.Eventually(t, func() bool { return a.Assistant().Active() != nil }, 2*time.Second, 5*time.Millisecond)
	resp := post(t, api.URL+"/v1/cancel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case events := <-done:
		require.NotEmpty(t, events)
		var terminals []sseEvent
		for _, ev := range events {
			if ev.name == "done" || ev.name == "error" {
				terminals = append(terminals, ev)
			}
		}
		require.Len(t, terminals, 1)
		require.Equal(t, "error", terminals[0].name)
		require.Equal(t, "cancelled", terminals[0].data["kind"])
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end after cancel")
	}
}
