// Package permute maps arbitrary-precision indices onto permutations and samples
// evenly spaced permutations from a variable set.
package permute

import (
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"
)

// ErrIndexOutOfRange is returned when a permutation index lies outside [0, N!).
var ErrIndexOutOfRange = errors.New("permutation index out of range")

// Indexer decodes permutation indices in the factorial number system.
// Factorials are precomputed once and extended on demand; an Indexer is safe
// for concurrent use.
type Indexer struct {
	mu         sync.RWMutex
	factorials []*big.Int
}

// NewIndexer creates an indexer with factorials 0!..maxN! precomputed.
func NewIndexer(maxN int) *Indexer {
	ix := &Indexer{factorials: []*big.Int{big.NewInt(1)}}
	ix.grow(maxN)

	return ix
}

// Factorial returns a copy of n!.
func (ix *Indexer) Factorial(n int) *big.Int {
	return new(big.Int).Set(ix.factorial(n))
}

// factorial returns the cached n! without copying. Callers must not mutate it.
func (ix *Indexer) factorial(n int) *big.Int {
	ix.mu.RLock()

	if n < len(ix.factorials) {
		f := ix.factorials[n]
		ix.mu.RUnlock()

		return f
	}

	ix.mu.RUnlock()
	ix.grow(n)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return ix.factorials[n]
}

func (ix *Indexer) grow(n int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for k := len(ix.factorials); k <= n; k++ {
		next := new(big.Int).Mul(ix.factorials[k-1], big.NewInt(int64(k)))
		ix.factorials = append(ix.factorials, next)
	}
}

// Decode returns the permutation of elements identified by index.
// Index 0 yields elements unchanged; every index in [0, N!) yields a distinct
// permutation. The input slice is not modified.
func Decode[T any](ix *Indexer, elements []T, index *big.Int) ([]T, error) {
	n := len(elements)

	if index.Sign() < 0 || index.Cmp(ix.factorial(n)) >= 0 {
		return nil, fmt.Errorf("%w: %s for %d elements", ErrIndexOutOfRange, index.String(), n)
	}

	remaining := slices.Clone(elements)
	out := make([]T, 0, n)
	rest := new(big.Int).Set(index)
	slot := new(big.Int)
	mod := new(big.Int)

	for k := n - 1; k >= 0; k-- {
		slot.QuoRem(rest, ix.factorial(k), mod)
		rest, mod = mod, rest

		pos := int(slot.Int64())
		out = append(out, remaining[pos])
		remaining = slices.Delete(remaining, pos, pos+1)
	}

	return out, nil
}
