package llm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/ccastromar/termai/internal/logx"
	"github.com/ccastromar/termai/internal/metrics"
)

const (
	// readBufferSize bounds each body read of a stream.
	readBufferSize  = 4096
	maxResponseBody = 8 << 20
)

var errIdleRead = errors.New("no data received within read timeout")

// Client sends chat requests to one provider. It is safe for concurrent
// use; the configuration is fixed at construction.
type Client struct {
	cfg      ProviderConfig
	proto    protocol
	http     *http.Client
	attempts int
	backoff  time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the pooled HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRetry sets how often transient failures are retried before the
// response body is read.
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.backoff = baseDelay
	}
}

// NewClient validates cfg and selects the provider protocol. A bad
// configuration fails here with a config Error, before any network call.
func NewClient(cfg ProviderConfig, opts ...Option) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	proto, err := protocolFor(cfg.Provider)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		proto:    proto,
		attempts: 3,
		backoff:  100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = PooledClient(poolConfigFor(cfg))
	}
	return c, nil
}

func (c *Client) Provider() Provider { return c.cfg.Provider }

// Config returns a copy of the effective configuration.
func (c *Client) Config() ProviderConfig { return c.cfg.Clone() }

// Ping checks that the provider answers its model listing endpoint.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	url := c.cfg.BaseURL() + c.proto.pingPath()
	resp, err := retryHTTP(ctx, c.attempts, c.backoff, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		c.proto.setAuth(req.Header, c.cfg.APIKey)
		return c.http.Do(req)
	})
	if err != nil {
		c.countPing("error")
		return c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.countPing("error")
		return readProviderError(c.cfg.Provider, resp)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	c.countPing("ok")
	return nil
}

// Chat sends messages and returns the complete reply. It never returns
// partial text: any failure yields an empty string and an *Error.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	body, err := BuildRequest(c.cfg, messages, false)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.post(ctx, body, false)
	if err != nil {
		c.countChat("error", start)
		return "", c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.countChat("error", start)
		return "", readProviderError(c.cfg.Provider, resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		c.countChat("error", start)
		return "", c.transportError(ctx, err)
	}
	text, err := c.proto.parseChat(data)
	if err != nil {
		c.countChat("error", start)
		return "", err
	}

	c.countChat("ok", start)
	logx.Debug("LLM", "%s chat done in %v (%d bytes)", c.cfg.Provider, time.Since(start), len(text))
	return text, nil
}

// ChatStream sends messages as a streaming request and calls onChunk for
// every content fragment, in wire order, followed by exactly one terminal
// chunk (Done set). The terminal chunk carries the failure, if any, and
// ChatStream returns that same error.
//
// An error returned by onChunk for a fragment stops the stream and
// becomes the terminal error. The connection is aborted when no byte
// arrives within the configured read timeout.
func (c *Client) ChatStream(ctx context.Context, messages []ChatMessage, onChunk func(StreamChunk) error) error {
	if onChunk == nil {
		onChunk = func(StreamChunk) error { return nil }
	}

	body, err := BuildRequest(c.cfg, messages, true)
	if err != nil {
		return c.terminal(onChunk, err)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	watchdog := time.AfterFunc(c.cfg.ReadTimeout, func() { cancel(errIdleRead) })
	defer watchdog.Stop()

	resp, err := c.post(ctx, body, true)
	if err != nil {
		return c.terminal(onChunk, c.transportError(ctx, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.terminal(onChunk, readProviderError(c.cfg.Provider, resp))
	}

	dec := c.proto.newDecoder()
	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return c.terminal(onChunk, c.transportError(ctx, ctx.Err()))
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			watchdog.Reset(c.cfg.ReadTimeout)
			for chunk := range dec.Feed(buf[:n]) {
				if chunk.Done {
					return c.terminal(onChunk, chunk.Err)
				}
				if err := c.deliver(onChunk, chunk); err != nil {
					return c.terminal(onChunk, err)
				}
			}
		}

		if errors.Is(rerr, io.EOF) {
			for chunk := range dec.Flush() {
				if chunk.Done {
					return c.terminal(onChunk, chunk.Err)
				}
				if err := c.deliver(onChunk, chunk); err != nil {
					return c.terminal(onChunk, err)
				}
			}
			logx.Debug("LLM", "%s stream ended without terminal record", c.cfg.Provider)
			return c.terminal(onChunk, nil)
		}
		if rerr != nil {
			return c.terminal(onChunk, c.transportError(ctx, rerr))
		}
	}
}

func (c *Client) deliver(onChunk func(StreamChunk) error, chunk StreamChunk) error {
	metrics.StreamChunks.Inc(map[string]string{"provider": string(c.cfg.Provider)})
	return onChunk(chunk)
}

// terminal delivers the single terminal chunk and returns its error.
func (c *Client) terminal(onChunk func(StreamChunk) error, err error) error {
	outcome := "done"
	switch {
	case errors.Is(err, ErrCancelled):
		outcome = "cancelled"
	case err != nil:
		outcome = "error"
	}
	metrics.LLMStreams.Inc(map[string]string{"provider": string(c.cfg.Provider), "outcome": outcome})

	if cbErr := onChunk(StreamChunk{Done: true, Err: err}); cbErr != nil {
		logx.Debug("LLM", "terminal chunk callback: %v", cbErr)
	}
	return err
}

func (c *Client) post(ctx context.Context, body []byte, stream bool) (*http.Response, error) {
	url := c.cfg.BaseURL() + c.proto.chatPath()
	return retryHTTP(ctx, c.attempts, c.backoff, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if stream {
			req.Header.Set("Accept", "text/event-stream")
		}
		c.proto.setAuth(req.Header, c.cfg.APIKey)
		return c.http.Do(req)
	})
}

// transportError classifies a failed round trip or body read.
func (c *Client) transportError(ctx context.Context, err error) error {
	p := c.cfg.Provider
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errIdleRead):
		return networkError(p, "read timeout", errIdleRead)
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		if cause == nil {
			cause = err
		}
		return NewCancelledError(p, cause)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return networkError(p, "request timed out", err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return networkError(p, "timeout", err)
	}
	return networkError(p, "request failed", err)
}

func (c *Client) countPing(outcome string) {
	metrics.LLMPings.Inc(map[string]string{"provider": string(c.cfg.Provider), "outcome": outcome})
}

func (c *Client) countChat(outcome string, start time.Time) {
	lbls := map[string]string{"provider": string(c.cfg.Provider), "outcome": outcome}
	metrics.LLMChats.Inc(lbls)
	metrics.LLMChatDur.Observe(lbls, time.Since(start).Seconds())
}
