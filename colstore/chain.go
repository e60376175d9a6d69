package colstore

import (
	"context"
	"errors"
	"io"

	"github.com/strata-tsdb/strata/nbtree"
	"github.com/strata-tsdb/strata/sample"
)

/*
The chain materializer concatenates per-series scans end to end, in the order
the ids appear in the request, producing the series-major output shape. Points
are drawn from the current scan until it reports end of data, then the chain
moves on to the next one.
*/

////////////////////////////////////////////////////////////////////////////////

type chainMaterializer struct {
	iters []nbtree.ScanOperator
	ids   []sample.SeriesID
	pos   int
}

// NewChain returns a materializer concatenating one scan per id, in id order.
func NewChain(ids []sample.SeriesID, iters []nbtree.ScanOperator) Materializer {
	if len(ids) != len(iters) {
		panic("chain: ids/iterators length mismatch")
	}
	return &chainMaterializer{iters: iters, ids: ids}
}

// Read fills dest with fixed-size float samples tagged with the current
// series id. A full buffer returns nil; exhaustion of all scans returns
// io.EOF; any other scan failure stops the read immediately with the data
// accumulated so far.
func (c *chainMaterializer) Read(ctx context.Context, dest []byte) (int, error) {
	capacity := len(dest) / sample.FloatSize
	ts := make([]sample.Timestamp, capacity)
	xs := make([]float64, capacity)
	written := 0
	for c.pos < len(c.iters) {
		id := c.ids[c.pos]
		n, err := c.iters[c.pos].Read(ctx, ts[:capacity], xs[:capacity])
		for i := 0; i < n; i++ {
			m, eerr := sample.NewFloat(id, ts[i], xs[i]).Encode(dest[written:])
			if eerr != nil {
				return written, eerr
			}
			written += m
		}
		capacity -= n
		if capacity == 0 {
			return written, nil
		}
		if err == nil {
			// short read without end-of-data: stay on this scan
			continue
		}
		if errors.Is(err, io.EOF) {
			c.pos++
			continue
		}
		return written, err
	}
	return written, io.EOF
}
