// Package app wires the assistant, the request timeline and the local
// HTTP API into one runnable service.
package app

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/ccastromar/termai/internal/assistant"
	"github.com/ccastromar/termai/internal/config"
	"github.com/ccastromar/termai/internal/llm"
	"github.com/ccastromar/termai/internal/logx"
	"github.com/ccastromar/termai/internal/runtime"
	"github.com/ccastromar/termai/internal/ui"
)

// Version is reported in the startup log.
var Version = "0.1.0"

type App struct {
	env       *config.EnvVars
	cfg       llm.ProviderConfig
	ui        *ui.UIStore
	assistant *assistant.Assistant
	rt        *runtime.Runtime
	http      *HTTPServer
}

// New builds the service for cfg. opts are passed to the assistant, after
// the recorder that feeds the request timeline.
func New(env *config.EnvVars, cfg llm.ProviderConfig, opts ...assistant.Option) (*App, error) {
	if env == nil {
		env = &config.EnvVars{}
	}
	uiStore := ui.NewUIStore()

	aopts := append([]assistant.Option{assistant.WithRecorder(uiStore)}, opts...)
	asst, err := assistant.New(cfg, aopts...)
	if err != nil {
		return nil, err
	}

	rt := runtime.New(cfg, asst)
	rt.SetConfigLoaded(true)

	api := newAPI(asst, env)
	return &App{
		env:       env,
		cfg:       cfg,
		ui:        uiStore,
		assistant: asst,
		rt:        rt,
		http:      NewHTTPServer(env, api, uiStore, rt),
	}, nil
}

func (a *App) Assistant() *assistant.Assistant { return a.assistant }

// Run serves until ctx is done, then cancels the in-flight request and
// shuts the server down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.http.Start(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		if a.assistant.Cancel("") {
			logx.Info("App", "cancelled in-flight request on shutdown")
		}
		return nil
	})

	logx.Info("App", "termai %s started (provider=%s model=%s)", Version, a.cfg.Provider, a.cfg.Model)

	return g.Wait()
}

// Handler exposes the HTTP routes, for tests that serve them through
// httptest.
func (a *App) Handler() http.Handler { return a.http.Handler() }
