package llm

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/ccastromar/termai/internal/logx"
)

// PoolConfig holds the transport settings of a pooled HTTP client.
type PoolConfig struct {
	ConnectTimeout        time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	IdleConnTimeout       time.Duration
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
}

// DefaultPoolConfig returns settings suited to long-lived streaming
// connections to a handful of hosts.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		ConnectTimeout:        DefaultConnectTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: DefaultReadTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   8,
	}
}

// poolConfigFor derives the transport settings from a provider config.
func poolConfigFor(cfg ProviderConfig) PoolConfig {
	pc := DefaultPoolConfig()
	if cfg.ConnectTimeout > 0 {
		pc.ConnectTimeout = cfg.ConnectTimeout
		pc.TLSHandshakeTimeout = cfg.ConnectTimeout
	}
	if cfg.ReadTimeout > 0 {
		pc.ResponseHeaderTimeout = cfg.ReadTimeout
	}
	return pc
}

var (
	poolMu  sync.Mutex
	clients = map[PoolConfig]*http.Client{}
)

// PooledClient returns the shared client for cfg, creating it on first
// use. The client has no overall timeout; callers bound each request
// with a context.
func PooledClient(cfg PoolConfig) *http.Client {
	poolMu.Lock()
	defer poolMu.Unlock()
	if c, ok := clients[cfg]; ok {
		return c
	}
	c := &http.Client{Transport: newTransport(cfg)}
	clients[cfg] = c
	return c
}

func newTransport(cfg PoolConfig) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		logx.Warn("Pool", "http2 not enabled: %v", err)
	}
	return transport
}
