package colstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/strata-tsdb/strata/nbtree"
	"github.com/strata-tsdb/strata/sample"
)

/*
The join materializer time-aligns N per-series scans into tuple samples.
Column 0 is the driver: each of its timestamps produces exactly one output
tuple, and timestamps absent from it produce nothing. Non-driver columns are
advanced to the driver key; an exact match contributes its value and sets the
column's bit in the tuple's presence bitmap.

Each column owns a fixed-size buffer with an independent read cursor. When the
driver's buffer is exhausted, every column is refilled in one pass - a refill
never interleaves columns, which preserves per-column monotonicity between
rounds.
*/

////////////////////////////////////////////////////////////////////////////////

const (
	// joinBufferSize is the per-column buffer capacity.
	joinBufferSize = 4096
	// maxJoinColumns is bounded by the width of the presence bitmap.
	maxJoinColumns = 64
)

type joinColumn struct {
	ts   []sample.Timestamp
	xs   []float64
	pos  int
	size int
}

type joinMaterializer struct {
	iters []nbtree.ScanOperator
	ids   []sample.SeriesID
	cols  []joinColumn

	started bool
	done    bool
}

// NewJoin returns a materializer joining one scan per id. The first id is the
// driver column; output tuples are tagged with its series id.
func NewJoin(ids []sample.SeriesID, iters []nbtree.ScanOperator) Materializer {
	if len(ids) != len(iters) || len(ids) > maxJoinColumns {
		panic("invalid join")
	}
	cols := make([]joinColumn, len(ids))
	for i := range cols {
		cols[i] = joinColumn{
			ts: make([]sample.Timestamp, joinBufferSize),
			xs: make([]float64, joinBufferSize),
		}
	}
	return &joinMaterializer{iters: iters, ids: ids, cols: cols}
}

// fillBuffers refills every column in one pass. The driver's buffer must be
// fully consumed before a refill.
func (j *joinMaterializer) fillBuffers(ctx context.Context) error {
	if j.started && j.cols[0].pos != j.cols[0].size {
		panic("join: buffer not consumed")
	}
	for i := range j.cols {
		col := &j.cols[i]
		n, err := j.iters[i].Read(ctx, col.ts, col.xs)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		col.pos = 0
		col.size = n
	}
	j.started = true
	return nil
}

// Read fills dest with variable-length tuple samples. The batch stops when
// the remaining space is smaller than the worst-case tuple or when the
// driver's buffer empties mid-round; the next call resumes. Exhaustion of the
// driver returns io.EOF.
func (j *joinMaterializer) Read(ctx context.Context, dest []byte) (int, error) {
	if j.done {
		return 0, io.EOF
	}
	driver := &j.cols[0]
	if !j.started || driver.pos == driver.size {
		if err := j.fillBuffers(ctx); err != nil {
			return 0, err
		}
		if driver.size == 0 {
			j.done = true
			return 0, io.EOF
		}
	}
	ncols := len(j.cols)
	maxSampleSize := sample.TupleSize(uint64(1)<<uint(ncols) - 1)
	written := 0
	values := make([]float64, 0, ncols)
	for len(dest)-written >= maxSampleSize && driver.pos < driver.size {
		key := driver.ts[driver.pos]
		bitmap := uint64(1)
		values = append(values[:0], driver.xs[driver.pos])
		driver.pos++
		for i := 1; i < ncols; i++ {
			col := &j.cols[i]
			for col.pos < col.size && col.ts[col.pos] < key {
				col.pos++
			}
			// an exhausted column has no value at this key
			if col.pos < col.size && col.ts[col.pos] == key {
				values = append(values, col.xs[col.pos])
				bitmap |= 1 << uint(i)
			}
		}
		n, err := sample.NewTuple(j.ids[0], key, bitmap, values).Encode(dest[written:])
		if err != nil {
			return written, fmt.Errorf("failed to encode tuple: %w", err)
		}
		written += n
	}
	return written, nil
}
