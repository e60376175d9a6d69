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

/*
Mock operators used to exercise materializers without a storage dependency.
*/

////////////////////////////////////////////////////////////////////////////////

type point struct {
	ts sample.Timestamp
	x  float64
}

// mockScan is a scan operator over a literal point list.
type mockScan struct {
	points []point
	dir    nbtree.Direction
	err    error // returned after the points are exhausted, instead of io.EOF
}

func newMockScan(dir nbtree.Direction, points ...point) *mockScan {
	return &mockScan{points: points, dir: dir}
}

func (m *mockScan) Read(_ context.Context, ts []sample.Timestamp, xs []float64) (int, error) {
	if len(m.points) == 0 {
		if m.err != nil {
			return 0, m.err
		}
		return 0, io.EOF
	}
	n := len(ts)
	if len(xs) < n {
		n = len(xs)
	}
	if len(m.points) < n {
		n = len(m.points)
	}
	for i := 0; i < n; i++ {
		ts[i] = m.points[i].ts
		xs[i] = m.points[i].x
	}
	m.points = m.points[n:]
	return n, nil
}

func (m *mockScan) Direction() nbtree.Direction {
	return m.dir
}

// mockAggregate yields a fixed list of aggregation results, one per read.
type mockAggregate struct {
	results []nbtree.AggregationResult
	dir     nbtree.Direction
}

func (m *mockAggregate) Read(
	_ context.Context, ts []sample.Timestamp, xs []nbtree.AggregationResult,
) (int, error) {
	if len(m.results) == 0 || len(ts) == 0 || len(xs) == 0 {
		return 0, io.EOF
	}
	ts[0] = m.results[0].EndTS
	xs[0] = m.results[0]
	m.results = m.results[1:]
	return 1, io.EOF
}

func (m *mockAggregate) Direction() nbtree.Direction {
	return m.dir
}

// mockBinary is an event scan over literal (timestamp, blob) pairs.
type mockBinary struct {
	ts   []sample.Timestamp
	data [][]byte
	dir  nbtree.Direction
}

func (m *mockBinary) Read(_ context.Context, ts []sample.Timestamp, data [][]byte) (int, error) {
	if len(m.ts) == 0 {
		return 0, io.EOF
	}
	n := len(ts)
	if len(data) < n {
		n = len(data)
	}
	if len(m.ts) < n {
		n = len(m.ts)
	}
	for i := 0; i < n; i++ {
		ts[i] = m.ts[i]
		data[i] = m.data[i]
	}
	m.ts = m.ts[n:]
	m.data = m.data[n:]
	return n, nil
}

func (m *mockBinary) Direction() nbtree.Direction {
	return m.dir
}

// collectProcessor is a stream processor recording everything it receives.
// With a nonzero limit it refuses samples past the limit.
type collectProcessor struct {
	samples  []sample.Sample
	limit    int
	err      error
	complete bool
}

func (p *collectProcessor) Put(s sample.Sample) bool {
	if p.limit > 0 && len(p.samples) >= p.limit {
		return false
	}
	p.samples = append(p.samples, s)
	return true
}

func (p *collectProcessor) SetError(err error) {
	p.err = err
}

func (p *collectProcessor) Complete() {
	p.complete = true
}

// drainAll reads a materializer to exhaustion, decoding every batch.
func drainAll(t *testing.T, m colstore.Materializer, bufSize int) []sample.Sample {
	t.Helper()
	ctx := context.Background()
	dest := make([]byte, bufSize)
	var out []sample.Sample
	for {
		n, err := m.Read(ctx, dest)
		buf := dest[:n]
		for len(buf) > 0 {
			s, consumed, derr := sample.Decode(buf)
			require.NoError(t, derr)
			out = append(out, s)
			buf = buf[consumed:]
		}
		if err != nil {
			require.True(t, errors.Is(err, io.EOF), "unexpected error: %v", err)
			return out
		}
	}
}
