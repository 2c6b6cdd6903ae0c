package npdm

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestSQLite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := openSQLite(filepath.Join(t.TempDir(), "fourpdm.db"))
	require.NoError(t, err)
	defer st.Close()

	s := NewSparse(4)
	require.NoError(t, s.Add([]int{0, 1, 1, 0}, 0.5))
	require.NoError(t, s.Add([]int{3, 2, 2, 3}, -1.25))
	require.NoError(t, st.save(ctx, Spin, 1, 2, 0, s))
	require.NoError(t, st.save(ctx, Spin, 1, 2, 3, s))
	require.NoError(t, st.save(ctx, Spatial, 1, 2, 0, NewSparse(4)))

	loaded, err := st.load(ctx, Spin, 1, 2, 0, 4)
	require.NoError(t, err)
	if diff := cmp.Diff(s.Elements(), loaded.Elements()); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	// Saving again replaces the rows of the position.
	o := NewSparse(4)
	require.NoError(t, o.Add([]int{0, 0, 0, 0}, 2))
	require.NoError(t, st.save(ctx, Spin, 1, 2, 0, o))
	loaded, err = st.load(ctx, Spin, 1, 2, 0, 4)
	require.NoError(t, err)
	if diff := cmp.Diff(o.Elements(), loaded.Elements()); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	positions, err := st.positions(ctx, Spin)
	require.NoError(t, err)
	if diff := cmp.Diff([][3]int{{1, 2, 0}, {1, 2, 3}}, positions); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	// An empty position is saved, a position never saved is not.
	empty, err := st.load(ctx, Spatial, 1, 2, 0, 4)
	require.NoError(t, err)
	require.Equal(t, 0, empty.Len())
	positions, err = st.positions(ctx, Spatial)
	require.NoError(t, err)
	if diff := cmp.Diff([][3]int{{1, 2, 0}}, positions); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	_, err = st.load(ctx, Spin, 5, 7, 0, 4)
	require.Error(t, err)
	_, err = st.load(ctx, Spatial, 1, 2, 3, 4)
	require.Error(t, err)

	require.NoError(t, st.accumulate(ctx, Spin, s))
	require.NoError(t, st.accumulate(ctx, Spin, s))
	require.NoError(t, st.accumulate(ctx, Spin, o))
	acc, err := st.accumulated(ctx, Spin, 4)
	require.NoError(t, err)
	expected := NewSparse(4)
	for _, x := range []*Sparse{s, s, o} {
		require.NoError(t, expected.Merge(x))
	}
	if diff := cmp.Diff(expected.Elements(), acc.Elements()); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	require.NoError(t, st.resetAccumulator(ctx, Spin))
	acc, err = st.accumulated(ctx, Spin, 4)
	require.NoError(t, err)
	require.Equal(t, 0, acc.Len())
}
