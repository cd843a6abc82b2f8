package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ccastromar/termai/internal/config"
	"github.com/ccastromar/termai/internal/health"
	"github.com/ccastromar/termai/internal/logx"
	"github.com/ccastromar/termai/internal/metrics"
	"github.com/ccastromar/termai/internal/runtime"
	"github.com/ccastromar/termai/internal/ui"
)

type HTTPServer struct {
	srv *http.Server
	// ready receives the bound address once listening.
	ready chan net.Addr
}

func NewHTTPServer(env *config.EnvVars, api *API, uiStore *ui.UIStore, rt *runtime.Runtime) *HTTPServer {
	mux := http.NewServeMux()

	api.RegisterHTTP(mux)
	mux.HandleFunc("GET /ui", uiStore.HandleIndex)
	mux.HandleFunc("GET /ui/request", uiStore.HandleRequest)
	mux.HandleFunc("GET /ui/requests", uiStore.HandleRequestsJSON)
	mux.HandleFunc("GET /health/live", health.LiveHandler)
	mux.HandleFunc("GET /health/ready", health.ReadyHandler(rt))
	mux.HandleFunc("GET /metrics", metrics.ServeHTTP)

	hardened := secureMiddleware(metricsMiddleware(mux))

	addr := env.Addr
	if addr == "" {
		addr = "127.0.0.1:8765"
	}
	readTimeout := env.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}

	return &HTTPServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           hardened,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       readTimeout,
			// Zero by default: streamed replies outlive any fixed write deadline.
			WriteTimeout:   env.WriteTimeout,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20, // 1MB
		},
		ready: make(chan net.Addr, 1),
	}
}

func (h *HTTPServer) Handler() http.Handler { return h.srv.Handler }

func (h *HTTPServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.srv.Addr)
	if err != nil {
		return err
	}
	h.ready <- ln.Addr()

	errCh := make(chan error, 1)
	go func() {
		logx.Info("HTTP", "listening on %s", ln.Addr())
		errCh <- h.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logx.Info("HTTP", "shutting down server...")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return h.srv.Shutdown(shutCtx)
	}
}

// secureMiddleware adds basic hardening to HTTP server:
// - Common security headers
// - Body size limit
// - Block TRACE method
func secureMiddleware(next http.Handler) http.Handler {
	const maxBody = 1 << 20 // 1MB
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodTrace {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		// Modern browsers ignore X-XSS-Protection; set to 0 to disable legacy filter quirks
		w.Header().Set("X-XSS-Protection", "0")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; img-src 'self' data:; style-src 'self' 'unsafe-inline'; script-src 'self' 'unsafe-inline'")
		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains; preload")
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder keeps the response code and still lets SSE handlers flush.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// metricsMiddleware counts requests by route pattern, so unknown paths
// do not grow label cardinality.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		lbls := map[string]string{
			"method": r.Method,
			"path":   path,
			"status": strconv.Itoa(rec.status),
		}
		metrics.HTTPRequests.Inc(lbls)
		metrics.HTTPDuration.Observe(lbls, time.Since(start).Seconds())
	})
}
