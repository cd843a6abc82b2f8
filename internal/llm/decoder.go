package llm

import (
	"bytes"
	"iter"

	"github.com/ccastromar/termai/internal/logx"
	"github.com/ccastromar/termai/internal/metrics"
)

// StreamDecoder turns raw response bytes, fragmented arbitrarily by the
// network, into an ordered sequence of StreamChunks with at most one
// terminal chunk.
//
// The sequences returned by Feed and Flush are lazy: records are decoded
// while the caller ranges over them. A sequence that is abandoned early
// keeps its undelivered chunks for the next Feed or Flush.
type StreamDecoder interface {
	Feed(data []byte) iter.Seq[StreamChunk]
	// Flush treats buffered bytes as complete at end of body.
	Flush() iter.Seq[StreamChunk]
	Done() bool
	// Err reports decoder misuse, such as bytes fed after the terminal chunk.
	Err() error
}

// maxCarry bounds the incomplete line kept between reads.
const maxCarry = 1 << 20

// recordHandler decodes complete lines for one wire format.
type recordHandler interface {
	line(line []byte) []StreamChunk
	flush() []StreamChunk
}

// lineDecoder owns the carry-over buffer and the terminal state shared by
// every wire format; the handler only sees complete lines.
type lineDecoder struct {
	name     string
	provider Provider
	handler  recordHandler

	carry   []byte
	pending []StreamChunk
	flushed bool
	done    bool
	err     error
}

func newLineDecoder(name string, p Provider, h recordHandler) *lineDecoder {
	return &lineDecoder{name: name, provider: p, handler: h}
}

func (d *lineDecoder) Done() bool { return d.done }

func (d *lineDecoder) Err() error { return d.err }

func (d *lineDecoder) Feed(data []byte) iter.Seq[StreamChunk] {
	if d.done {
		if n := significant(data); n > 0 {
			d.misuse(n)
		}
		return noChunks
	}
	d.carry = append(d.carry, data...)
	return d.drain(false)
}

func (d *lineDecoder) Flush() iter.Seq[StreamChunk] {
	if d.done {
		return noChunks
	}
	return d.drain(true)
}

func (d *lineDecoder) drain(final bool) iter.Seq[StreamChunk] {
	return func(yield func(StreamChunk) bool) {
		for {
			for len(d.pending) > 0 {
				c := d.pending[0]
				d.pending = d.pending[1:]
				if c.Done {
					d.terminate()
				}
				if !yield(c) || d.done {
					return
				}
			}

			line, ok := d.nextLine(final)
			if !ok {
				if len(d.carry) > maxCarry {
					d.carry = nil
					d.pending = append(d.pending, StreamChunk{
						Done: true,
						Err:  parseError(d.provider, "stream line exceeds 1 MiB", nil),
					})
					continue
				}
				if final && !d.flushed {
					d.flushed = true
					d.pending = append(d.pending, d.handler.flush()...)
					if len(d.pending) > 0 {
						continue
					}
				}
				return
			}
			d.pending = append(d.pending, d.handler.line(line)...)
		}
	}
}

// nextLine pops one complete line from the carry, without its line
// terminator. At end of body the unterminated remainder counts as a line.
func (d *lineDecoder) nextLine(final bool) ([]byte, bool) {
	i := bytes.IndexByte(d.carry, '\n')
	if i < 0 {
		if !final || len(d.carry) == 0 || len(d.carry) > maxCarry {
			return nil, false
		}
		line := d.carry
		d.carry = nil
		return bytes.TrimSuffix(line, []byte{'\r'}), true
	}
	line := d.carry[:i]
	d.carry = d.carry[i+1:]
	if len(d.carry) == 0 {
		d.carry = nil
	}
	return bytes.TrimSuffix(line, []byte{'\r'}), true
}

// terminate enters the terminal state. Records already buffered behind
// the terminal are dropped and reported like a later Feed would be.
func (d *lineDecoder) terminate() {
	d.done = true
	n := significant(d.carry)
	for _, c := range d.pending {
		if c.Content != "" || c.Done {
			n++
		}
	}
	if n > 0 {
		d.misuse(n)
	}
	d.carry = nil
	d.pending = nil
}

// significant counts the bytes of data that are not whitespace, so blank
// lines trailing the terminal record are not misuse.
func significant(data []byte) int {
	n := 0
	for _, c := range data {
		switch c {
		case ' ', '\t', '\r', '\n':
		default:
			n++
		}
	}
	return n
}

// misuse records bytes after the terminal chunk. Only the first
// occurrence is counted, so the report does not depend on read sizes.
func (d *lineDecoder) misuse(n int) {
	if d.err != nil {
		logx.Debug("Decoder", "%s: %d more bytes after terminal chunk", d.name, n)
		return
	}
	d.err = parseError(d.provider, "bytes fed after terminal chunk", nil)
	metrics.DecoderMisuse.Inc(map[string]string{"decoder": d.name})
	logx.Warn("Decoder", "%s: %d bytes fed after terminal chunk", d.name, n)
}

func noChunks(func(StreamChunk) bool) {}

func contentChunk(s string) StreamChunk { return StreamChunk{Content: s} }

func doneChunk() StreamChunk { return StreamChunk{Done: true} }

func errorChunk(err error) StreamChunk { return StreamChunk{Done: true, Err: err} }

// NewDecoder returns the stream decoder for a provider's wire format.
func NewDecoder(p Provider) (StreamDecoder, error) {
	proto, err := protocolFor(p)
	if err != nil {
		return nil, err
	}
	return proto.newDecoder(), nil
}
