package colstore_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/strata-tsdb/strata/colstore"
	"github.com/strata-tsdb/strata/nbtree"
	"github.com/strata-tsdb/strata/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain(t *testing.T) {
	cases := []struct {
		assertion string
		ids       []sample.SeriesID
		scans     [][]point
		expected  []sample.Sample
	}{
		{
			"two series in series-major order",
			[]sample.SeriesID{1, 2},
			[][]point{
				{{1, 10}, {3, 30}},
				{{2, 20}, {4, 40}},
			},
			[]sample.Sample{
				sample.NewFloat(1, 1, 10),
				sample.NewFloat(1, 3, 30),
				sample.NewFloat(2, 2, 20),
				sample.NewFloat(2, 4, 40),
			},
		},
		{
			"empty series between nonempty ones",
			[]sample.SeriesID{1, 2, 3},
			[][]point{
				{{1, 10}},
				{},
				{{2, 20}},
			},
			[]sample.Sample{
				sample.NewFloat(1, 1, 10),
				sample.NewFloat(3, 2, 20),
			},
		},
		{
			"all series empty",
			[]sample.SeriesID{1, 2},
			[][]point{{}, {}},
			nil,
		},
		{
			"no series",
			nil,
			nil,
			nil,
		},
	}
	for _, c := range cases {
		t.Run(c.assertion, func(t *testing.T) {
			iters := make([]nbtree.ScanOperator, len(c.scans))
			for i, points := range c.scans {
				iters[i] = newMockScan(nbtree.Forward, points...)
			}
			m := colstore.NewChain(c.ids, iters)
			require.Equal(t, c.expected, drainAll(t, m, 4096))
		})
	}
}

func TestChainSmallBuffer(t *testing.T) {
	ctx := context.Background()
	m := colstore.NewChain(
		[]sample.SeriesID{1},
		[]nbtree.ScanOperator{newMockScan(nbtree.Forward, point{1, 10}, point{2, 20}, point{3, 30})},
	)
	dest := make([]byte, 2*sample.FloatSize)
	n, err := m.Read(ctx, dest)
	require.NoError(t, err)
	require.Equal(t, 2*sample.FloatSize, n)
	n, err = m.Read(ctx, dest)
	require.True(t, errors.Is(err, io.EOF))
	require.Equal(t, sample.FloatSize, n)
	s, _, err := sample.Decode(dest[:n])
	require.NoError(t, err)
	assert.Equal(t, sample.NewFloat(1, 3, 30), s)
}

func TestChainPropagatesErrors(t *testing.T) {
	ctx := context.Background()
	scan := newMockScan(nbtree.Forward, point{1, 10})
	scan.err = nbtree.ErrUnavailable
	m := colstore.NewChain([]sample.SeriesID{1}, []nbtree.ScanOperator{scan})
	dest := make([]byte, 4096)
	n, err := m.Read(ctx, dest)
	require.True(t, errors.Is(err, nbtree.ErrUnavailable))
	require.Equal(t, sample.FloatSize, n)
}
