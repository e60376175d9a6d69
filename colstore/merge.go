package colstore

import (
	"container/heap"
	"context"
	"errors"
	"io"

	"github.com/strata-tsdb/strata/nbtree"
	"github.com/strata-tsdb/strata/query"
	"github.com/strata-tsdb/strata/sample"
	"github.com/strata-tsdb/strata/util"
)

/*
The merge materializer implements an n-ary ordered streaming merge using a
heap-based priority queue. Each input owns a range: a fixed-size buffer of
timestamps and values with a read cursor, refilled from its scan when it
empties. The heap holds at most one (key, value, input index) entry per
nonempty range; popping an entry emits one sample and pushes the originating
range's next point, if any.

The total order is selected by the request: TIME compares (timestamp, series
id), SERIES compares (series id, timestamp). The direction is inherited from
the first scan; backward merges invert the comparison. container/heap is a
min-heap, so forward order uses ascending keys directly.
*/

////////////////////////////////////////////////////////////////////////////////

// mergeRangeSize is the per-input buffer capacity.
const mergeRangeSize = 1024

type mergeRange struct {
	id   sample.SeriesID
	ts   []sample.Timestamp
	xs   []float64
	pos  int
	size int
}

func newMergeRange(id sample.SeriesID) *mergeRange {
	return &mergeRange{
		id: id,
		ts: make([]sample.Timestamp, mergeRangeSize),
		xs: make([]float64, mergeRangeSize),
	}
}

func (r *mergeRange) empty() bool {
	return r.pos >= r.size
}

type heapItem struct {
	ts    sample.Timestamp
	id    sample.SeriesID
	value float64
	index int
}

// mergeLess returns the heap ordering for the given dimension order and
// direction.
func mergeLess(order query.OrderBy, forward bool) func(a, b heapItem) bool {
	less := func(a, b heapItem) bool {
		if order == query.OrderBySeries {
			if a.id != b.id {
				return a.id < b.id
			}
			return a.ts < b.ts
		}
		if a.ts != b.ts {
			return a.ts < b.ts
		}
		return a.id < b.id
	}
	if forward {
		return less
	}
	return func(a, b heapItem) bool {
		return less(b, a)
	}
}

type mergeMaterializer struct {
	iters  []nbtree.ScanOperator
	ids    []sample.SeriesID
	ranges []*mergeRange
	pq     *util.PriorityQueue[heapItem]

	initialized bool
	done        bool
}

// NewMerge returns a materializer merging one scan per id into a single
// stream in the requested order. The direction is taken from the first scan
// and must be uniform across all of them.
func NewMerge(order query.OrderBy, ids []sample.SeriesID, iters []nbtree.ScanOperator) Materializer {
	if len(ids) != len(iters) {
		panic("merge: ids/iterators length mismatch")
	}
	forward := true
	if len(iters) > 0 {
		forward = iters[0].Direction() == nbtree.Forward
	}
	return &mergeMaterializer{
		iters: iters,
		ids:   ids,
		pq:    util.NewPriorityQueue(mergeLess(order, forward)),
	}
}

// refill loads the next batch from input i into its range.
func (m *mergeMaterializer) refill(ctx context.Context, i int) error {
	r := m.ranges[i]
	n, err := m.iters[i].Read(ctx, r.ts, r.xs)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	r.pos = 0
	r.size = n
	return nil
}

// initialize fills every range and seeds the heap with one entry per
// nonempty range.
func (m *mergeMaterializer) initialize(ctx context.Context) error {
	m.ranges = make([]*mergeRange, len(m.iters))
	for i := range m.iters {
		m.ranges[i] = newMergeRange(m.ids[i])
		if err := m.refill(ctx, i); err != nil {
			return err
		}
		if r := m.ranges[i]; !r.empty() {
			heap.Push(m.pq, heapItem{ts: r.ts[r.pos], id: r.id, value: r.xs[r.pos], index: i})
		}
	}
	m.initialized = true
	return nil
}

// Read fills dest with fixed-size float samples in the merge order. A full
// buffer returns nil; an empty heap means all inputs are exhausted and
// returns io.EOF after releasing them.
func (m *mergeMaterializer) Read(ctx context.Context, dest []byte) (int, error) {
	if m.done {
		return 0, io.EOF
	}
	if !m.initialized {
		if err := m.initialize(ctx); err != nil {
			return 0, err
		}
	}
	written := 0
	for m.pq.Len() > 0 {
		if len(dest)-written < sample.FloatSize {
			// output buffer is fully consumed
			return written, nil
		}
		item := heap.Pop(m.pq).(heapItem)
		n, err := sample.NewFloat(item.id, item.ts, item.value).Encode(dest[written:])
		if err != nil {
			return written, err
		}
		written += n
		r := m.ranges[item.index]
		r.pos++
		if r.empty() {
			if err := m.refill(ctx, item.index); err != nil {
				return written, err
			}
		}
		if !r.empty() {
			heap.Push(m.pq, heapItem{ts: r.ts[r.pos], id: r.id, value: r.xs[r.pos], index: item.index})
		}
	}
	m.done = true
	m.iters = nil
	m.ranges = nil
	return written, io.EOF
}
