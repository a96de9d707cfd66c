package permute

import (
	"context"
	"math/big"
	"slices"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nextPermutation advances s to its lexicographic successor in place.
func nextPermutation(s []int) bool {
	i := len(s) - 2
	for i >= 0 && s[i] >= s[i+1] {
		i--
	}

	if i < 0 {
		return false
	}

	j := len(s) - 1
	for s[j] <= s[i] {
		j--
	}

	s[i], s[j] = s[j], s[i]
	slices.Reverse(s[i+1:])

	return true
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}

	return out
}

func TestDecode_MatchesLexicographicEnumeration(t *testing.T) {
	t.Parallel()

	ix := NewIndexer(7)

	for n := 1; n <= 7; n++ {
		elements := identity(n)
		ref := identity(n)
		index := big.NewInt(0)

		for {
			got, err := Decode(ix, elements, index)
			require.NoError(t, err)
			require.Equal(t, ref, got, "n=%d index=%s", n, index)

			index.Add(index, big.NewInt(1))

			if !nextPermutation(ref) {
				break
			}
		}

		assert.Equal(t, 0, index.Cmp(ix.Factorial(n)), "enumerated %s permutations for n=%d", index, n)
	}
}

func TestDecode_IndexZeroIsIdentity(t *testing.T) {
	t.Parallel()

	elements := []string{"q", "X_INTRODUCED_3_", "a", "mark[2]"}

	got, err := Decode(NewIndexer(4), elements, big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, elements, got)
}

func TestDecode_LastIndexReverses(t *testing.T) {
	t.Parallel()

	for _, n := range []int{10, 30} {
		ix := NewIndexer(0)
		last := new(big.Int).Sub(ix.Factorial(n), big.NewInt(1))

		got, err := Decode(ix, identity(n), last)
		require.NoError(t, err)

		want := identity(n)
		slices.Reverse(want)
		assert.Equal(t, want, got)
	}
}

func TestDecode_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	elements := []string{"a", "b", "c", "d"}

	_, err := Decode(NewIndexer(4), elements, big.NewInt(17))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, elements)
}

func TestDecode_OutOfRange(t *testing.T) {
	t.Parallel()

	ix := NewIndexer(3)

	_, err := Decode(ix, []int{1, 2, 3}, big.NewInt(6))
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	_, err = Decode(ix, []int{1, 2, 3}, big.NewInt(-1))
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestDecode_EmptyElements(t *testing.T) {
	t.Parallel()

	got, err := Decode(NewIndexer(0), []int{}, big.NewInt(0))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIndexer_FactorialReturnsCopy(t *testing.T) {
	t.Parallel()

	ix := NewIndexer(5)
	f := ix.Factorial(5)
	f.SetInt64(1)

	assert.Equal(t, int64(120), ix.Factorial(5).Int64())
	assert.Equal(t, "2432902008176640000", ix.Factorial(20).String())
}

func variables(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "x" + strconv.Itoa(i)
	}

	return out
}

func indices[T any](perms []Permutation[T]) []int64 {
	out := make([]int64, len(perms))
	for i, p := range perms {
		out[i] = p.Index.Int64()
	}

	return out
}

func TestSample_BudgetCoversSpace(t *testing.T) {
	t.Parallel()

	perms, err := Sample(context.Background(), variables(4), 100, SampleOptions{Workers: 3})
	require.NoError(t, err)
	require.Len(t, perms, 24)

	seen := make(map[string]bool)

	for i, p := range perms {
		assert.Equal(t, int64(i), p.Index.Int64())

		key := ""
		for _, v := range p.Order {
			key += v + ","
		}

		seen[key] = true
	}

	assert.Len(t, seen, 24)
}

func TestSample_BudgetBelowSpace(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		vars     int
		budget   int
		cutoff   bool
		wantLen  int
		wantStep int64
	}{
		{name: "four vars excess kept", vars: 4, budget: 10, cutoff: false, wantLen: 12, wantStep: 2},
		{name: "four vars excess cut", vars: 4, budget: 10, cutoff: true, wantLen: 10, wantStep: 2},
		{name: "seven vars excess kept", vars: 7, budget: 100, cutoff: false, wantLen: 101, wantStep: 50},
		{name: "seven vars excess cut", vars: 7, budget: 100, cutoff: true, wantLen: 100, wantStep: 50},
		{name: "five vars exact division", vars: 5, budget: 40, cutoff: false, wantLen: 40, wantStep: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			perms, err := Sample(context.Background(), variables(tt.vars), tt.budget, SampleOptions{
				Workers:      4,
				CutoffExcess: tt.cutoff,
			})
			require.NoError(t, err)
			require.Len(t, perms, tt.wantLen)

			for i, idx := range indices(perms) {
				assert.Equal(t, int64(i)*tt.wantStep, idx)
			}
		})
	}
}

func TestSample_ParallelMatchesSequential(t *testing.T) {
	t.Parallel()

	for _, cutoff := range []bool{false, true} {
		seq, err := Sample(context.Background(), variables(7), 100, SampleOptions{Workers: 1, CutoffExcess: cutoff})
		require.NoError(t, err)

		par, err := Sample(context.Background(), variables(7), 100, SampleOptions{Workers: 7, CutoffExcess: cutoff})
		require.NoError(t, err)

		require.Len(t, par, len(seq))

		for i := range seq {
			assert.Equal(t, 0, seq[i].Index.Cmp(par[i].Index))
			assert.Equal(t, seq[i].Order, par[i].Order)
		}
	}
}

func TestSample_MoreWorkersThanIndices(t *testing.T) {
	t.Parallel()

	perms, err := Sample(context.Background(), variables(3), 4, SampleOptions{Workers: 12, CutoffExcess: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2, 3}, indices(perms))

	perms, err = Sample(context.Background(), variables(3), 4, SampleOptions{Workers: 12})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5}, indices(perms))
}

func TestSample_SortsInput(t *testing.T) {
	t.Parallel()

	perms, err := Sample(context.Background(), []string{"c", "a", "b"}, 1, SampleOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, perms)
	assert.Equal(t, []string{"a", "b", "c"}, perms[0].Order)
}

func TestSample_Errors(t *testing.T) {
	t.Parallel()

	_, err := Sample(context.Background(), []string{}, 10, SampleOptions{})
	require.ErrorIs(t, err, ErrEmptyVariableSet)

	_, err = Sample(context.Background(), variables(3), 0, SampleOptions{})
	require.ErrorIs(t, err, ErrInvalidBudget)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Sample(ctx, variables(6), 100, SampleOptions{Workers: 2})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPlan_SpansAreAlignedAndDisjoint(t *testing.T) {
	t.Parallel()

	plan := NewPlan(big.NewInt(5040), 100, false)
	spans := plan.Spans(7)

	prevStop := big.NewInt(0)

	for _, s := range spans {
		assert.Zero(t, new(big.Int).Rem(s.Start, plan.Step).Sign())
		assert.GreaterOrEqual(t, s.Start.Cmp(prevStop), 0)
		prevStop = s.Stop
	}

	assert.Equal(t, 0, prevStop.Cmp(big.NewInt(5040)))
}
