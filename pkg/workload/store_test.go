package workload

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/varorder/pkg/experiment"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(Options{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "db", "workload.sqlite"), BatchSize: 7})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func makeJobs(problem string, from int64, n int) []experiment.Job {
	jobs := make([]experiment.Job, n)
	for i := range jobs {
		id := from + int64(i)
		jobs[i] = experiment.Job{
			ProblemID:   problem,
			ID:          id,
			PermIndex:   strconv.FormatInt(id*2, 10),
			Permutation: []string{"a", "b", strconv.FormatInt(id, 10)},
		}
	}

	return jobs
}

func TestStore_JobsRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)

	_, ok, err := s.MaxID(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutJobs(ctx, makeJobs("p1", 0, 30)))
	require.NoError(t, s.PutJobs(ctx, makeJobs("p2", 30, 20)))

	maxID, ok, err := s.MaxID(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(49), maxID)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)

	byProblem, err := s.CountByProblem(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"p1": 30, "p2": 20}, byProblem)

	window, err := s.PendingWindow(ctx, 28, 4)
	require.NoError(t, err)
	require.Len(t, window, 4)
	assert.Equal(t, int64(28), window[0].ID)
	assert.Equal(t, "p2", window[2].ProblemID)
	assert.Equal(t, "60", window[2].PermIndex)
	assert.Equal(t, []string{"a", "b", "30"}, window[2].Permutation)
}

func TestStore_ResumePoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.PutJobs(ctx, makeJobs("p", 0, 100)))

	first, ok, err := s.ResumePoint(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(0), first)

	done := make([]int64, 50)
	for i := range done {
		done[i] = int64(i)
	}

	require.NoError(t, s.SyncCompleted(ctx, done))

	rp, ok, err := s.ResumePoint(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(50), rp)

	pending, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(50), pending)
}

func TestStore_PendingSkipsScatteredCompletions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.PutJobs(ctx, makeJobs("p", 0, 10)))
	require.NoError(t, s.SyncCompleted(ctx, []int64{0, 1, 3, 4, 7}))

	rp, ok, err := s.ResumePoint(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), rp)

	window, err := s.PendingWindow(ctx, rp, 10)
	require.NoError(t, err)

	ids := make([]int64, len(window))
	for i, j := range window {
		ids[i] = j.ID
	}

	assert.Equal(t, []int64{2, 5, 6, 8, 9}, ids)

	// A later sync replaces the previous completed set.
	require.NoError(t, s.SyncCompleted(ctx, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}))

	_, ok, err = s.ResumePoint(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SyncCompleted(ctx, nil))

	pending, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), pending)
}

func TestStore_ProbeSample(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.PutJobs(ctx, makeJobs("b", 0, 5)))
	require.NoError(t, s.PutJobs(ctx, makeJobs("a", 5, 5)))
	require.NoError(t, s.PutJobs(ctx, makeJobs("c", 10, 1)))

	probe, err := s.ProbeSample(ctx)
	require.NoError(t, err)
	require.Len(t, probe, 3)
	assert.Equal(t, []int64{0, 5, 10}, []int64{probe[0].ID, probe[1].ID, probe[2].ID})
	assert.Equal(t, []string{"b", "a", "c"}, []string{probe[0].ProblemID, probe[1].ProblemID, probe[2].ProblemID})
}

func TestStore_FeatureVectorsUpsert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.PutFeatureVectors(ctx, []experiment.FeatureVector{
		{ProblemID: "q2", FlatZinc: "solve satisfy;"},
		{ProblemID: "q1", FlatZinc: "old", Method: "satisfy", Features: json.RawMessage(`{"flatIntVars":3}`)},
	}))
	require.NoError(t, s.PutFeatureVectors(ctx, []experiment.FeatureVector{
		{ProblemID: "q1", FlatZinc: "new", Method: "minimize"},
	}))

	fvs, err := s.FeatureVectors(ctx)
	require.NoError(t, err)
	require.Len(t, fvs, 2)
	assert.Equal(t, "q1", fvs[0].ProblemID)
	assert.Equal(t, "new", fvs[0].FlatZinc)
	assert.Equal(t, "minimize", fvs[0].Method)
	assert.Nil(t, fvs[1].Features)
}

func TestOpen_Errors(t *testing.T) {
	t.Parallel()

	_, err := Open(Options{Driver: DriverSQLite})
	require.ErrorIs(t, err, ErrEmptyDSN)

	_, err = Open(Options{Driver: "postgres", DSN: "x"})
	require.ErrorIs(t, err, ErrUnknownDriver)
}
