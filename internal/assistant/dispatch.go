package assistant

import (
	"context"
	"errors"
	"fmt"

	"github.com/ccastromar/termai/internal/bus"
	"github.com/ccastromar/termai/internal/llm"
	"github.com/ccastromar/termai/internal/logx"
	"github.com/ccastromar/termai/internal/metrics"
)

// dispatcher moves decoded chunks of one request into its mailbox. It
// runs on the worker goroutine only.
type dispatcher struct {
	a        *Assistant
	req      *Request
	provider llm.Provider

	seq       int
	delivered bool  // terminal chunk reached the mailbox
	failure   error // overrides the stream error
}

// run is the worker body: stream, dispatch, then publish the result.
func (a *Assistant) run(ctx context.Context, req *Request, cfg llm.ProviderConfig, msgs []llm.ChatMessage) {
	d := &dispatcher{a: a, req: req, provider: cfg.Provider}
	t := logx.Start(req.token, "Worker", "stream")

	err := a.client.ChatStream(ctx, msgs, d.onChunk)
	if d.failure != nil {
		err = d.failure
	}
	if !d.delivered {
		if err == nil {
			err = errors.New("assistant: terminal chunk not delivered")
		}
		// Nothing more will arrive. The consumer still drains what was
		// queued, then sees the mailbox closed and reads req.err.
		req.box.Seal()
	}
	req.err = err

	elapsed := t.End()
	if err != nil {
		logx.LError(req.token, "Worker", "stream ended: %v", err)
	} else {
		logx.L(req.token, "Worker", "stream done (%d chunks)", d.seq)
	}
	a.record(req, "done", err, elapsed)
	a.release(req)
}

// onChunk is the transport callback. A returned error stops the stream
// and comes back as the terminal chunk.
func (d *dispatcher) onChunk(sc llm.StreamChunk) error {
	if sc.Done {
		d.terminal(sc)
		return nil
	}
	if d.req.Cancelled() {
		return cancelledError(d.provider)
	}

	c, err := d.allocate(sc, "fragment")
	if err != nil {
		return err
	}
	if err := d.handoff(c); err != nil {
		return fmt.Errorf("assistant: handoff: %w", err)
	}
	return nil
}

func (d *dispatcher) terminal(sc llm.StreamChunk) {
	if sc.Err == nil && d.req.Cancelled() {
		sc.Err = cancelledError(d.provider)
	}

	c, err := d.allocate(sc, "terminal")
	if err != nil {
		// Retry once with the allocation failure itself as the terminal error.
		d.failure = err
		c, err = d.allocate(llm.StreamChunk{Done: true, Err: err}, "terminal")
		if err != nil {
			logx.LError(d.req.token, "Worker", "cannot allocate terminal chunk, aborting without delivery")
			return
		}
	}
	if d.handoff(c) == nil {
		d.delivered = true
	}
}

func (d *dispatcher) allocate(sc llm.StreamChunk, stage string) (*Chunk, error) {
	c, err := d.a.pool.Allocate(d.req.token, d.seq, sc)
	if err != nil {
		metrics.AllocFailures.Inc(map[string]string{"stage": stage})
		logx.LError(d.req.token, "Worker", "allocate %s chunk %d: %v", stage, d.seq, err)
		return nil, err
	}
	d.seq++
	return c, nil
}

// handoff queues c for the consumer. On failure the chunk is released
// here, since the consumer will never see it.
func (d *dispatcher) handoff(c *Chunk) error {
	err := d.req.box.Send(c)
	if err == nil {
		metrics.HandoffSent.Inc(map[string]string{"result": "sent"})
		return nil
	}

	reason := "closed"
	if errors.Is(err, bus.ErrFull) {
		reason = "full"
	}
	metrics.HandoffSent.Inc(map[string]string{"result": "dropped"})
	metrics.DispatchFailed.Inc(map[string]string{"reason": reason})
	logx.LError(d.req.token, "Dispatcher", "chunk %d not delivered: %v", c.Seq, err)
	c.Release()
	return err
}
