package permute

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/big"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
)

// Sampler errors.
var (
	// ErrEmptyVariableSet is returned when a problem exposes no search variables.
	ErrEmptyVariableSet = errors.New("empty variable set")
	// ErrInvalidBudget is returned for a non-positive sample budget.
	ErrInvalidBudget = errors.New("sample budget must be positive")
)

// Permutation is one sampled ordering together with its index.
type Permutation[T any] struct {
	Index *big.Int
	Order []T
}

// SampleOptions tunes a Sample call.
type SampleOptions struct {
	// Workers is the number of CPU workers. Zero uses runtime.NumCPU.
	Workers int
	// CutoffExcess caps the output at exactly min(budget, N!) permutations.
	CutoffExcess bool
	// Indexer is reused when set; otherwise one is built for the call.
	Indexer *Indexer
}

// Plan describes the evenly spaced walk over the index space [0, Total).
type Plan struct {
	Total *big.Int
	Step  *big.Int
	Limit *big.Int
	Count int
	Size  int
}

// Span is a half-open index range owned by one worker. Start is aligned to the step.
type Span struct {
	Start *big.Int
	Stop  *big.Int
}

// NewPlan computes step, limit and output size for a space of total permutations.
func NewPlan(total *big.Int, budget int, cutoffExcess bool) Plan {
	count := big.NewInt(int64(budget))
	if total.Cmp(count) < 0 {
		count.Set(total)
	}

	step := new(big.Int).Quo(total, count)
	limit := new(big.Int).Set(total)

	var size int

	if cutoffExcess {
		limit.Mul(step, count)
		size = int(count.Int64())
	} else {
		// ceil(total / step)
		n := new(big.Int).Add(total, step)
		n.Sub(n, big.NewInt(1))
		n.Quo(n, step)
		size = int(n.Int64())
	}

	return Plan{
		Total: total,
		Step:  step,
		Limit: limit,
		Count: int(count.Int64()),
		Size:  size,
	}
}

// Spans splits the index space across workers. The last worker's range ends at
// Limit, every stop is clamped to it, and empty ranges are dropped.
func (p Plan) Spans(workers int) []Span {
	w := big.NewInt(int64(workers))
	chunk := new(big.Int).Quo(p.Total, w)
	spans := make([]Span, 0, workers)

	for i := range workers {
		start := new(big.Int).Mul(chunk, big.NewInt(int64(i)))
		stop := new(big.Int).Mul(chunk, big.NewInt(int64(i+1)))

		if i == workers-1 || stop.Cmp(p.Limit) > 0 {
			stop.Set(p.Limit)
		}

		// Round start up to the next multiple of step.
		rem := new(big.Int).Rem(start, p.Step)
		if rem.Sign() != 0 {
			start.Add(start, rem.Sub(p.Step, rem))
		}

		if start.Cmp(stop) >= 0 {
			continue
		}

		spans = append(spans, Span{Start: start, Stop: stop})
	}

	return spans
}

// Offset returns the output position of the span's first index.
func (p Plan) Offset(s Span) int {
	return int(new(big.Int).Quo(s.Start, p.Step).Int64())
}

// Sample draws evenly spaced permutations of variables. The variables are
// sorted first so the index space is canonical. The result is in ascending
// index order regardless of the number of workers.
func Sample[T cmp.Ordered](
	ctx context.Context, variables []T, budget int, opts SampleOptions,
) ([]Permutation[T], error) {
	if len(variables) == 0 {
		return nil, ErrEmptyVariableSet
	}

	if budget <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBudget, budget)
	}

	sorted := slices.Clone(variables)
	slices.Sort(sorted)

	ix := opts.Indexer
	if ix == nil {
		ix = NewIndexer(len(sorted))
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	plan := NewPlan(ix.Factorial(len(sorted)), budget, opts.CutoffExcess)
	out := make([]Permutation[T], plan.Size)

	g, gctx := errgroup.WithContext(ctx)

	for _, span := range plan.Spans(workers) {
		g.Go(func() error {
			return decodeSpan(gctx, ix, sorted, plan, span, out)
		})
	}

	waitErr := g.Wait()
	if waitErr != nil {
		return nil, fmt.Errorf("sample permutations: %w", waitErr)
	}

	return out, nil
}

// decodeSpan fills the output slots owned by one span. Spans never overlap, so
// workers write disjoint regions of out.
func decodeSpan[T any](
	ctx context.Context, ix *Indexer, elements []T, plan Plan, span Span, out []Permutation[T],
) error {
	pos := plan.Offset(span)

	for idx := new(big.Int).Set(span.Start); idx.Cmp(span.Stop) < 0; idx.Add(idx, plan.Step) {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return ctxErr
		}

		order, err := Decode(ix, elements, idx)
		if err != nil {
			return err
		}

		out[pos] = Permutation[T]{Index: new(big.Int).Set(idx), Order: order}
		pos++
	}

	return nil
}
