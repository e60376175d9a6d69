package colstore_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/strata-tsdb/strata/colstore"
	"github.com/strata-tsdb/strata/nbtree"
	"github.com/strata-tsdb/strata/sample"
	"github.com/stretchr/testify/require"
)

func TestEventChain(t *testing.T) {
	m := colstore.NewEventChain(
		[]sample.SeriesID{1, 2},
		[]nbtree.BinaryDataOperator{
			&mockBinary{
				ts:   []sample.Timestamp{1, 2},
				data: [][]byte{[]byte("first"), []byte("second")},
			},
			&mockBinary{
				ts:   []sample.Timestamp{1},
				data: [][]byte{[]byte("other series")},
			},
		},
	)
	require.Equal(t, []sample.Sample{
		sample.NewEvent(1, 1, []byte("first")),
		sample.NewEvent(1, 2, []byte("second")),
		sample.NewEvent(2, 1, []byte("other series")),
	}, drainAll(t, m, 4096))
}

func TestEventChainResumesPendingEvent(t *testing.T) {
	// an event that does not fit ends the batch and is emitted first on the
	// next call
	ctx := context.Background()
	blob := []byte("a blob that needs some room")
	m := colstore.NewEventChain(
		[]sample.SeriesID{1},
		[]nbtree.BinaryDataOperator{
			&mockBinary{
				ts:   []sample.Timestamp{1, 2},
				data: [][]byte{[]byte("x"), blob},
			},
		},
	)
	first := sample.NewEvent(1, 1, []byte("x"))
	dest := make([]byte, first.EncodedSize()+4)
	n, err := m.Read(ctx, dest)
	require.NoError(t, err)
	require.Equal(t, first.EncodedSize(), n)
	got, _, err := sample.Decode(dest[:n])
	require.NoError(t, err)
	require.Equal(t, first, got)

	dest = make([]byte, 4096)
	n, err = m.Read(ctx, dest)
	require.True(t, errors.Is(err, io.EOF))
	got, _, err = sample.Decode(dest[:n])
	require.NoError(t, err)
	require.Equal(t, sample.NewEvent(1, 2, blob), got)
}
