package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ccastromar/termai/internal/logx"
	"github.com/ccastromar/termai/internal/runtime"
)

// PingTimeout bounds the provider probe of one readiness check.
var PingTimeout = 5 * time.Second

func ReadyHandler(rt *runtime.Runtime) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rt.ConfigLoaded() {
			http.Error(w, "config not loaded", http.StatusServiceUnavailable)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), PingTimeout)
		defer cancel()
		if err := rt.LLMClient.Ping(ctx); err != nil {
			logx.Warn("Health", "provider %s unreachable: %v", rt.Provider, err)
			http.Error(w, "llm unreachable", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ready","provider":%q}`, rt.Provider)
	}
}
