package runtime

import (
	"context"
	"testing"

	"github.com/ccastromar/termai/internal/assistant"
	"github.com/ccastromar/termai/internal/llm"
)

type fakeLLM struct{}

func (f *fakeLLM) Ping(ctx context.Context) error { return nil }
func (f *fakeLLM) Chat(ctx context.Context, msgs []llm.ChatMessage) (string, error) {
	return "", nil
}
func (f *fakeLLM) ChatStream(ctx context.Context, msgs []llm.ChatMessage, onChunk func(llm.StreamChunk) error) error {
	return onChunk(llm.StreamChunk{Done: true})
}

func TestNew_UsesAssistantClient(t *testing.T) {
	cfg := llm.ProviderConfig{Provider: llm.ProviderOllama, Model: "m"}
	a, err := assistant.New(cfg, assistant.WithClient(&fakeLLM{}))
	if err != nil {
		t.Fatalf("assistant.New: %v", err)
	}

	rt := New(cfg, a)
	if rt.LLMClient == nil {
		t.Fatalf("LLMClient should not be nil")
	}
	if rt.Provider != llm.ProviderOllama {
		t.Fatalf("provider = %q", rt.Provider)
	}
	if err := rt.LLMClient.Ping(context.Background()); err != nil {
		t.Fatalf("Ping should succeed: %v", err)
	}
}

func TestConfigLoadedFlag(t *testing.T) {
	rt := New(llm.ProviderConfig{}, nil)
	if rt.ConfigLoaded() {
		t.Fatalf("ConfigLoaded should start false")
	}
	rt.SetConfigLoaded(true)
	if !rt.ConfigLoaded() {
		t.Fatalf("ConfigLoaded should be true")
	}
}
