// Package assistant runs chat requests for terminal users: it redacts
// the outgoing text, streams the reply on a worker goroutine and hands
// owned chunks to the caller's goroutine through a per-request mailbox.
package assistant

import (
	"context"
	"sync"
	"time"

	"github.com/ccastromar/termai/internal/bus"
	"github.com/ccastromar/termai/internal/guard"
	"github.com/ccastromar/termai/internal/llm"
	"github.com/ccastromar/termai/internal/logx"
)

// BusyPolicy decides what happens when a request starts while another
// is still in flight.
type BusyPolicy int

const (
	// CancelPrevious cancels the active request and waits for its worker.
	CancelPrevious BusyPolicy = iota
	// RejectWhenBusy fails the new request with ErrBusy.
	RejectWhenBusy
)

const (
	DefaultMailboxSize = 16
	DefaultSendTimeout = 5 * time.Second
)

// Recorder receives request timeline events.
type Recorder interface {
	AddEvent(id, component, kind, msg, duration string)
}

type Assistant struct {
	cfg      llm.ProviderConfig
	client   llm.LLMClient
	redactor *guard.Redactor
	pool     *ChunkPool
	recorder Recorder

	policy      BusyPolicy
	mailboxSize int
	sendTimeout time.Duration
	allocFault  func(int) bool

	mu     sync.Mutex
	active *Request
}

type Option func(*Assistant)

// WithClient replaces the transport built from the config.
func WithClient(c llm.LLMClient) Option {
	return func(a *Assistant) { a.client = c }
}

func WithBusyPolicy(p BusyPolicy) Option {
	return func(a *Assistant) { a.policy = p }
}

func WithRedactor(r *guard.Redactor) Option {
	return func(a *Assistant) { a.redactor = r }
}

// WithMailbox sets the handoff queue size and how long the worker waits
// for space before dropping a chunk.
func WithMailbox(size int, sendTimeout time.Duration) Option {
	return func(a *Assistant) {
		a.mailboxSize = size
		a.sendTimeout = sendTimeout
	}
}

// WithAllocFault makes chunk allocation fail whenever fail returns true
// for the 1-based allocation attempt.
func WithAllocFault(fail func(attempt int) bool) Option {
	return func(a *Assistant) { a.allocFault = fail }
}

// WithRecorder records request lifecycle events, e.g. into the UI store.
func WithRecorder(r Recorder) Option {
	return func(a *Assistant) { a.recorder = r }
}

// New builds an Assistant for cfg. Unless WithClient is given, the
// configuration is validated here and fails with a config error.
func New(cfg llm.ProviderConfig, opts ...Option) (*Assistant, error) {
	a := &Assistant{
		cfg:         cfg.WithDefaults(),
		policy:      CancelPrevious,
		mailboxSize: DefaultMailboxSize,
		sendTimeout: DefaultSendTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.redactor == nil {
		a.redactor = guard.NewRedactor()
	}
	if a.client == nil {
		c, err := llm.NewClient(a.cfg)
		if err != nil {
			return nil, err
		}
		a.client = c
	}
	a.pool = NewChunkPool(a.allocFault)
	return a, nil
}

// Pool exposes the chunk pool, mainly for leak accounting.
func (a *Assistant) Pool() *ChunkPool { return a.pool }

func (a *Assistant) Client() llm.LLMClient { return a.client }

// Active returns the in-flight request, if any.
func (a *Assistant) Active() *Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Cancel cancels the in-flight request when its token matches. It
// reports whether a request was cancelled.
func (a *Assistant) Cancel(token string) bool {
	req := a.Active()
	if req == nil || (token != "" && req.token != token) {
		return false
	}
	req.Cancel()
	return true
}

// Chat sends prompt and the terminal context and returns the complete
// reply. Both texts are redacted first.
func (a *Assistant) Chat(ctx context.Context, prompt, termContext string) (string, error) {
	req, cfg, msgs := a.prepare(prompt, termContext, nil)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	req.cancel = cancel
	if err := a.acquire(ctx, req); err != nil {
		return "", err
	}
	defer a.release(req)

	t := logx.Start(req.token, "Assistant", "chat")
	out, err := a.client.Chat(ctx, msgs)
	if err != nil && req.Cancelled() {
		err = cancelledError(cfg.Provider)
	}
	req.err = err
	a.record(req, "chat", err, t.End())
	return out, err
}

// ChatStream starts a streaming request on a worker goroutine and returns
// its handle. Read the reply with Consume.
func (a *Assistant) ChatStream(ctx context.Context, prompt, termContext string) (*Request, error) {
	box := bus.NewMailbox(a.mailboxSize, a.sendTimeout, func(c *Chunk) {
		c.Release()
	})
	req, cfg, msgs := a.prepare(prompt, termContext, box)

	wctx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	req.cancel = cancel
	if err := a.acquire(ctx, req); err != nil {
		cancel(err)
		box.Close()
		return nil, err
	}

	// The caller's ctx cancels the stream, but the worker outlives it long
	// enough to deliver the cancelled terminal chunk.
	stop := context.AfterFunc(ctx, req.Cancel)
	go func() {
		defer stop()
		defer cancel(nil)
		a.run(wctx, req, cfg, msgs)
	}()
	return req, nil
}

// ChatStreamFunc streams a reply and runs onChunk on the calling
// goroutine for every chunk. onChunk owns each chunk and must Release it.
func (a *Assistant) ChatStreamFunc(ctx context.Context, prompt, termContext string, onChunk func(*Chunk)) error {
	req, err := a.ChatStream(ctx, prompt, termContext)
	if err != nil {
		return err
	}
	cerr := req.Consume(ctx, onChunk)
	if werr := req.Wait(); werr != nil {
		return werr
	}
	return cerr
}

// prepare redacts the inputs and snapshots the config for one request.
func (a *Assistant) prepare(prompt, termContext string, box *bus.Mailbox[*Chunk]) (*Request, llm.ProviderConfig, []llm.ChatMessage) {
	cfg := a.cfg.Clone()
	req := newRequest(a.redactor.Redact(prompt), a.redactor.Redact(termContext), box)
	return req, cfg, llm.BuildMessages(cfg, req.prompt, req.context)
}

func (a *Assistant) acquire(ctx context.Context, req *Request) error {
	for {
		a.mu.Lock()
		prev := a.active
		if prev == nil {
			a.active = req
			a.mu.Unlock()
			a.record(req, "start", nil, 0)
			return nil
		}
		a.mu.Unlock()

		if a.policy == RejectWhenBusy {
			return ErrBusy
		}
		logx.L(req.token, "Assistant", "cancelling previous request %s", prev.token)
		prev.Cancel()
		select {
		case <-prev.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *Assistant) release(req *Request) {
	a.mu.Lock()
	if a.active == req {
		a.active = nil
	}
	a.mu.Unlock()
	close(req.done)
}

func (a *Assistant) record(req *Request, kind string, err error, d time.Duration) {
	if a.recorder == nil {
		return
	}
	msg := req.prompt
	if err != nil {
		kind = "error"
		msg = err.Error()
	}
	dur := ""
	if d > 0 {
		dur = d.String()
	}
	a.recorder.AddEvent(req.token, "Assistant", kind, msg, dur)
}
