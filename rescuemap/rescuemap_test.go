package rescuemap_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/strata-tsdb/strata/nbtree"
	"github.com/strata-tsdb/strata/rescuemap"
	"github.com/strata-tsdb/strata/sample"
	"github.com/stretchr/testify/require"
)

func newSQLRescuemap(t *testing.T) rescuemap.Rescuemap {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "rescue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	rm, err := rescuemap.NewSQLRescuemap(db)
	require.NoError(t, err)
	return rm
}

func testRescuemap(t *testing.T, rm rescuemap.Rescuemap) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing series", func(t *testing.T) {
		_, err := rm.Get(ctx, 1)
		require.ErrorIs(t, err, rescuemap.ErrSeriesNotFound)
	})

	t.Run("put preserves order", func(t *testing.T) {
		rescue := []nbtree.LogicAddr{0, 1, 2}
		require.NoError(t, rm.Put(ctx, 1, rescue))
		got, err := rm.Get(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, rescue, got)
	})

	t.Run("put replaces prior points", func(t *testing.T) {
		require.NoError(t, rm.Put(ctx, 1, []nbtree.LogicAddr{0, 1, 2, 3}))
		got, err := rm.Get(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, []nbtree.LogicAddr{0, 1, 2, 3}, got)
	})

	t.Run("whole map round trip", func(t *testing.T) {
		mapping := map[sample.SeriesID][]nbtree.LogicAddr{
			7: {0},
			8: {0, 1},
		}
		require.NoError(t, rm.PutAll(ctx, mapping))
		got, err := rm.GetAll(ctx)
		require.NoError(t, err)
		for id, rescue := range mapping {
			require.Equal(t, rescue, got[id])
		}
	})
}

func TestMemRescuemap(t *testing.T) {
	testRescuemap(t, rescuemap.NewMemRescuemap())
}

func TestSQLRescuemap(t *testing.T) {
	testRescuemap(t, newSQLRescuemap(t))
}
