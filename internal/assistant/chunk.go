package assistant

import (
	"fmt"
	"sync/atomic"

	"github.com/ccastromar/termai/internal/llm"
	"github.com/ccastromar/termai/internal/logx"
)

// Chunk is an owned StreamChunk handed from the worker goroutine to the
// consumer. Whoever holds it must call Release exactly once; a Chunk must
// not be used after Release.
type Chunk struct {
	Token string
	Seq   int
	llm.StreamChunk

	pool     *ChunkPool
	released atomic.Bool
}

// Release returns c to its pool. A second Release is logged and ignored.
func (c *Chunk) Release() {
	if c == nil {
		return
	}
	if !c.released.CompareAndSwap(false, true) {
		c.pool.doubles.Add(1)
		logx.LError(c.Token, "ChunkPool", "double release of chunk %d ignored", c.Seq)
		return
	}
	c.pool.free(c)
}

// PoolStats counts chunk ownership transitions.
type PoolStats struct {
	Allocs      int64
	Frees       int64
	Failures    int64
	DoubleFrees int64
}

// Outstanding is the number of chunks allocated and not yet released.
func (s PoolStats) Outstanding() int64 { return s.Allocs - s.Frees }

// ChunkPool allocates Chunks and tracks their release. Chunks are never
// recycled: a stale handle must keep failing its release check rather
// than free a chunk that now belongs to someone else.
type ChunkPool struct {
	fault    func(attempt int) bool
	attempts atomic.Int64

	allocs   atomic.Int64
	frees    atomic.Int64
	failures atomic.Int64
	doubles  atomic.Int64
}

// NewChunkPool returns a pool. fault, when non-nil, is asked before every
// allocation (attempts are numbered from 1) and makes it fail when it
// returns true.
func NewChunkPool(fault func(attempt int) bool) *ChunkPool {
	return &ChunkPool{fault: fault}
}

// Allocate wraps sc in an owned Chunk. It fails with an allocation
// Error, leaving nothing to release.
func (p *ChunkPool) Allocate(token string, seq int, sc llm.StreamChunk) (*Chunk, error) {
	n := int(p.attempts.Add(1))
	if p.fault != nil && p.fault(n) {
		p.failures.Add(1)
		return nil, llm.NewAllocationError(fmt.Sprintf("chunk %d of %s", seq, token))
	}

	c := &Chunk{Token: token, Seq: seq, StreamChunk: sc, pool: p}
	p.allocs.Add(1)
	return c, nil
}

func (p *ChunkPool) free(c *Chunk) {
	p.frees.Add(1)
	c.StreamChunk = llm.StreamChunk{}
}

func (p *ChunkPool) Stats() PoolStats {
	return PoolStats{
		Allocs:      p.allocs.Load(),
		Frees:       p.frees.Load(),
		Failures:    p.failures.Load(),
		DoubleFrees: p.doubles.Load(),
	}
}
