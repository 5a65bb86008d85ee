package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/traind/internal/artifact"
	"github.com/fyrsmithlabs/traind/internal/train"
	"github.com/fyrsmithlabs/traind/internal/transform"
)

func testEstimator(bias float64) *train.Estimator {
	return &train.Estimator{
		Kind:    "linear",
		Weights: []float64{1},
		Bias:    bias,
		Transform: transform.Params{
			Target:   "y",
			Features: []transform.Feature{{Column: "x", Kind: transform.KindNumeric, Std: 1}},
			Names:    []string{"x"},
		},
	}
}

func newTestRegistry(t *testing.T) (*Registry, *artifact.Store) {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)
	return New(store), store
}

func TestRegistry_PutAssignsMonotonicVersions(t *testing.T) {
	r, _ := newTestRegistry(t)

	v1, err := r.Put(testEstimator(0.1), 0.80)
	require.NoError(t, err)
	v2, err := r.Put(testEstimator(0.2), 0.83)
	require.NoError(t, err)

	assert.Equal(t, int64(1), v1)
	assert.Equal(t, int64(2), v2)

	entries, err := r.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 0.80, entries[0].MetricValue)
	assert.Equal(t, 0.83, entries[1].MetricValue)
}

func TestRegistry_CurrentEmpty(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Current()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestRegistry_PromoteAndRollback(t *testing.T) {
	r, _ := newTestRegistry(t)

	v1, err := r.Put(testEstimator(0.1), 0.80)
	require.NoError(t, err)
	v2, err := r.Put(testEstimator(0.2), 0.83)
	require.NoError(t, err)

	require.NoError(t, r.Promote(v1))
	cur, err := r.Current()
	require.NoError(t, err)
	assert.Equal(t, v1, cur.Version)

	require.NoError(t, r.Promote(v2))
	cur, err = r.Current()
	require.NoError(t, err)
	assert.Equal(t, v2, cur.Version)

	// Rollback is just promoting the older version again.
	require.NoError(t, r.Promote(v1))
	cur, err = r.Current()
	require.NoError(t, err)
	assert.Equal(t, v1, cur.Version)
}

func TestRegistry_PromoteMissingVersion(t *testing.T) {
	r, _ := newTestRegistry(t)

	err := r.Promote(42)
	assert.ErrorIs(t, err, ErrVersionNotFound)

	_, err = r.Current()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestRegistry_PromoteFromConflict(t *testing.T) {
	r, _ := newTestRegistry(t)

	v1, err := r.Put(testEstimator(0.1), 0.80)
	require.NoError(t, err)
	v2, err := r.Put(testEstimator(0.2), 0.83)
	require.NoError(t, err)
	v3, err := r.Put(testEstimator(0.3), 0.85)
	require.NoError(t, err)

	// First promotion against an empty pointer.
	require.NoError(t, r.PromoteFrom(0, v1))

	// A decision computed while v1 was current still applies.
	require.NoError(t, r.PromoteFrom(v1, v2))

	// A decision computed against the superseded v1 does not.
	err = r.PromoteFrom(v1, v3)
	assert.ErrorIs(t, err, ErrConflict)

	cur, err := r.Current()
	require.NoError(t, err)
	assert.Equal(t, v2, cur.Version)
}

func TestRegistry_ConcurrentPromotesLinearize(t *testing.T) {
	r, _ := newTestRegistry(t)

	const n = 8
	versions := make([]int64, n)
	for i := range versions {
		v, err := r.Put(testEstimator(float64(i)), float64(i))
		require.NoError(t, err)
		versions[i] = v
	}

	// All goroutines computed their decision against an empty registry.
	// Exactly one compare-and-set may win.
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.PromoteFrom(0, versions[i])
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrConflict)
		}
	}
	assert.Equal(t, 1, winners)

	cur, err := r.Current()
	require.NoError(t, err)
	assert.Contains(t, versions, cur.Version)
}

func TestRegistry_GetEstimatorRoundTrip(t *testing.T) {
	r, _ := newTestRegistry(t)

	v, err := r.Put(testEstimator(0.25), 0.9)
	require.NoError(t, err)

	got, err := r.GetEstimator(v)
	require.NoError(t, err)
	assert.Equal(t, 0.25, got.Bias)
	assert.Equal(t, "linear", got.Kind)
	assert.Equal(t, []string{"x"}, got.Transform.Names)
}

func TestRegistry_GetMissing(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Get(7)
	assert.ErrorIs(t, err, ErrVersionNotFound)
	_, err = r.GetEstimator(7)
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestRegistry_SurvivesReopen(t *testing.T) {
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)

	r := New(store)
	v1, err := r.Put(testEstimator(0.1), 0.80)
	require.NoError(t, err)
	v2, err := r.Put(testEstimator(0.2), 0.83)
	require.NoError(t, err)
	require.NoError(t, r.Promote(v2))

	// A fresh registry over the same store sees everything.
	reopened := New(store)
	cur, err := reopened.Current()
	require.NoError(t, err)
	assert.Equal(t, v2, cur.Version)

	entries, err := reopened.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, v1, entries[0].Version)

	v3, err := reopened.Put(testEstimator(0.3), 0.85)
	require.NoError(t, err)
	assert.Equal(t, v2+1, v3)
}
