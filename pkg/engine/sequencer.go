package engine

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/Sumatoshi-tech/varorder/pkg/experiment"
)

// flushSlack lets the buffer overshoot one chunk by 10% before flushing, so
// late low ids still land in the chunk they belong to.
const flushSlack = 1.1

// ChunkWriter persists a chunk of results.
type ChunkWriter interface {
	Write(ctx context.Context, results []experiment.Result) error
}

// Sequencer buffers results sorted by id and writes them in chunks. Output is
// approximately ordered: a result arriving after its neighbours were flushed
// lands in a later chunk. It is owned by a single goroutine.
type Sequencer struct {
	sink      ChunkWriter
	chunk     int
	threshold int
	buf       []experiment.Result
	onFlush   func(rows int)
}

// NewSequencer creates a sequencer writing chunks of chunk results.
func NewSequencer(sink ChunkWriter, chunk int, onFlush func(rows int)) *Sequencer {
	chunk = max(1, chunk)
	threshold := max(chunk, int(float64(chunk)*flushSlack))

	if onFlush == nil {
		onFlush = func(int) {}
	}

	return &Sequencer{
		sink:      sink,
		chunk:     chunk,
		threshold: threshold,
		buf:       make([]experiment.Result, 0, threshold),
		onFlush:   onFlush,
	}
}

// Len returns the number of buffered results.
func (s *Sequencer) Len() int {
	return len(s.buf)
}

// Add inserts r at its sorted position and writes the lowest chunk once the
// buffer reaches the flush threshold.
func (s *Sequencer) Add(ctx context.Context, r experiment.Result) error {
	i, _ := slices.BinarySearchFunc(s.buf, r.ID, func(e experiment.Result, id int64) int {
		return cmp.Compare(e.ID, id)
	})
	s.buf = slices.Insert(s.buf, i, r)

	if len(s.buf) < s.threshold {
		return nil
	}

	return s.write(ctx, s.chunk)
}

// Flush writes everything buffered.
func (s *Sequencer) Flush(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}

	return s.write(ctx, len(s.buf))
}

func (s *Sequencer) write(ctx context.Context, n int) error {
	err := s.sink.Write(ctx, s.buf[:n])
	if err != nil {
		return fmt.Errorf("flush %d results: %w", n, err)
	}

	rest := make([]experiment.Result, len(s.buf)-n, max(s.threshold, len(s.buf)-n))
	copy(rest, s.buf[n:])
	s.buf = rest

	s.onFlush(n)

	return nil
}
