package assistant

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ccastromar/termai/internal/bus"
	"github.com/ccastromar/termai/internal/llm"
)

var (
	ErrBusy             = errors.New("assistant: a request is already in flight")
	ErrAlreadyConsuming = errors.New("assistant: request already consumed")

	errCancelRequested = errors.New("cancel requested")
)

// Request is one in-flight chat. Its prompt and context are redacted
// copies taken when it was created.
type Request struct {
	token   string
	prompt  string
	context string
	started time.Time

	cancel    context.CancelCauseFunc
	cancelled atomic.Bool
	consuming atomic.Bool

	box  *bus.Mailbox[*Chunk]
	done chan struct{}
	err  error
}

func newRequest(prompt, termContext string, box *bus.Mailbox[*Chunk]) *Request {
	return &Request{
		token:   uuid.NewString(),
		prompt:  prompt,
		context: termContext,
		started: time.Now(),
		box:     box,
		done:    make(chan struct{}),
	}
}

// Token identifies the request in logs, metrics and the local API.
func (r *Request) Token() string { return r.token }

// Prompt returns the redacted prompt that was sent.
func (r *Request) Prompt() string { return r.prompt }

// Cancel asks the worker to stop. The stream then ends with exactly one
// cancelled terminal chunk. Cancel is safe to call at any time.
func (r *Request) Cancel() {
	r.cancelled.Store(true)
	if r.cancel != nil {
		r.cancel(errCancelRequested)
	}
}

// Cancelled reports whether Cancel was called.
func (r *Request) Cancelled() bool { return r.cancelled.Load() }

// Done is closed when the worker has finished.
func (r *Request) Done() <-chan struct{} { return r.done }

// Wait blocks until the worker has finished and returns the stream's
// final error.
func (r *Request) Wait() error {
	<-r.done
	return r.err
}

// Consume runs fn on the calling goroutine for every chunk, in order,
// up to and including the terminal chunk. fn owns each chunk and must
// Release it. Consume returns the terminal chunk's error.
//
// If ctx ends first the request is cancelled and undelivered chunks are
// released. A request can be consumed once; one that is never consumed
// must be closed with Close.
func (r *Request) Consume(ctx context.Context, fn func(*Chunk)) error {
	if !r.consuming.CompareAndSwap(false, true) {
		return ErrAlreadyConsuming
	}
	defer r.box.Close()

	for {
		c, err := r.box.Receive(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrClosed) {
				return r.Wait()
			}
			r.Cancel()
			return err
		}
		terminal, cerr := c.Done, c.Err
		fn(c)
		if terminal {
			return cerr
		}
	}
}

// Close cancels the request if it is still running and releases chunks
// that were never consumed.
func (r *Request) Close() {
	r.Cancel()
	r.box.Close()
}

// Collect is a Consume callback that appends content to dst and releases
// every chunk.
func Collect(dst *[]string) func(*Chunk) {
	return func(c *Chunk) {
		if c.Content != "" {
			*dst = append(*dst, c.Content)
		}
		c.Release()
	}
}

func cancelledError(p llm.Provider) error {
	return llm.NewCancelledError(p, errCancelRequested)
}
