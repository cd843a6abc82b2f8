// Package runtime holds the state shared by the HTTP handlers.
package runtime

import (
	"sync/atomic"

	"github.com/ccastromar/termai/internal/assistant"
	"github.com/ccastromar/termai/internal/llm"
)

type Runtime struct {
	Provider  llm.Provider
	LLMClient llm.LLMClient
	Assistant *assistant.Assistant

	configLoaded atomic.Bool
}

// New wires a runtime around a, whose client becomes the one probed by
// readiness checks.
func New(cfg llm.ProviderConfig, a *assistant.Assistant) *Runtime {
	rt := &Runtime{Provider: cfg.Provider, Assistant: a}
	if a != nil {
		rt.LLMClient = a.Client()
	}
	return rt
}

func (rt *Runtime) SetConfigLoaded(v bool) { rt.configLoaded.Store(v) }

func (rt *Runtime) ConfigLoaded() bool { return rt.configLoaded.Load() }
