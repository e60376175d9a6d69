package nbtree

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/strata-tsdb/strata/sample"
	"github.com/strata-tsdb/strata/storage"
)

/*
ExtentList is an append-only tree implementation: a mutable in-memory tail
buffer in front of a list of immutable, fixed-capacity extents in the block
store. When the tail fills up it is flushed as a new extent and the append
reports that a flush occurred, at which point the caller captures the extent
addresses as rescue points. Restoring a tree from rescue points is just
re-adopting the extent list; only the address of the last extent needs to be
read back to reestablish the append position.
*/

////////////////////////////////////////////////////////////////////////////////

// ExtentCapacity is the number of buffered points that triggers a flush. An
// extent written by Close holds whatever the tail held, possibly fewer.
const ExtentCapacity = 4096

// extent layout: u32 point count, then count * (u64 timestamp, u64 value bits).
const extentHeaderSize = 4

// ExtentList implements Tree over a storage.Provider.
type ExtentList struct {
	id    sample.SeriesID
	store storage.Provider

	mtx      sync.Mutex
	extents  []LogicAddr
	ts       []sample.Timestamp
	xs       []float64
	last     sample.Timestamp
	haveLast bool
	closed   bool
}

// NewExtentList returns a tree for the given series. Rescue points are the
// addresses of previously flushed extents; pass none for a new series.
func NewExtentList(id sample.SeriesID, rescue []LogicAddr, store storage.Provider) *ExtentList {
	extents := make([]LogicAddr, len(rescue))
	copy(extents, rescue)
	return &ExtentList{
		id:      id,
		store:   store,
		extents: extents,
	}
}

// NewExtentListFactory returns a Factory producing extent-list trees over the
// provided store.
func NewExtentListFactory(store storage.Provider) Factory {
	return func(_ context.Context, id sample.SeriesID, rescue []LogicAddr) (Tree, error) {
		return NewExtentList(id, rescue, store), nil
	}
}

// RepairStatus reports whether the rescue points describe a consistent extent
// list. Addresses must be strictly ascending and contiguous.
func RepairStatus(rescue []LogicAddr) RepairState {
	for i := 1; i < len(rescue); i++ {
		if rescue[i] != rescue[i-1]+1 {
			return RepairRequired
		}
	}
	return RepairNone
}

func (e *ExtentList) key(addr LogicAddr) string {
	return fmt.Sprintf("%016x/%016x", uint64(e.id), uint64(addr))
}

// ForceInit reestablishes the append position from the last extent. It is
// invoked by the registry after insertion, outside the registry lock.
func (e *ExtentList) ForceInit(ctx context.Context) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if len(e.extents) == 0 {
		return nil
	}
	addr := e.extents[len(e.extents)-1]
	ts, _, err := e.loadExtent(ctx, addr)
	if err != nil {
		return fmt.Errorf("failed to load extent %d: %w", addr, err)
	}
	if len(ts) > 0 {
		e.last = ts[len(ts)-1]
		e.haveLast = true
	}
	return nil
}

// Append adds a point to the series. Timestamps must strictly increase and
// values must be finite; violations return AppendFailBadValue without
// mutating the tree.
func (e *ExtentList) Append(ctx context.Context, ts sample.Timestamp, value float64) (AppendResult, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.closed {
		return AppendFailBadID, fmt.Errorf("append to closed tree %d", e.id)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return AppendFailBadValue, nil
	}
	if e.haveLast && ts <= e.last {
		return AppendFailBadValue, nil
	}
	e.ts = append(e.ts, ts)
	e.xs = append(e.xs, value)
	e.last = ts
	e.haveLast = true
	if len(e.ts) >= ExtentCapacity {
		if err := e.flush(ctx); err != nil {
			return AppendOK, fmt.Errorf("failed to flush extent: %w", err)
		}
		return AppendOKFlushNeeded, nil
	}
	return AppendOK, nil
}

// flush writes the tail buffer as a new extent. Caller holds the lock.
func (e *ExtentList) flush(ctx context.Context) error {
	var addr LogicAddr
	if len(e.extents) > 0 {
		addr = e.extents[len(e.extents)-1] + 1
	}
	if err := e.store.Put(ctx, e.key(addr), encodeExtent(e.ts, e.xs)); err != nil {
		return err
	}
	e.extents = append(e.extents, addr)
	e.ts = e.ts[:0]
	e.xs = e.xs[:0]
	return nil
}

// Roots returns the current rescue points.
func (e *ExtentList) Roots(_ context.Context) ([]LogicAddr, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	roots := make([]LogicAddr, len(e.extents))
	copy(roots, e.extents)
	return roots, nil
}

// Close flushes any buffered points and returns the final rescue points.
func (e *ExtentList) Close(ctx context.Context) ([]LogicAddr, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if !e.closed && len(e.ts) > 0 {
		if err := e.flush(ctx); err != nil {
			return nil, fmt.Errorf("failed to flush tail: %w", err)
		}
	}
	e.closed = true
	roots := make([]LogicAddr, len(e.extents))
	copy(roots, e.extents)
	return roots, nil
}

// snapshot captures the extent list and tail under the lock.
func (e *ExtentList) snapshot() ([]LogicAddr, []sample.Timestamp, []float64) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	extents := make([]LogicAddr, len(e.extents))
	copy(extents, e.extents)
	ts := make([]sample.Timestamp, len(e.ts))
	copy(ts, e.ts)
	xs := make([]float64, len(e.xs))
	copy(xs, e.xs)
	return extents, ts, xs
}

// Search returns a scan operator over the range. begin < end scans forward
// over [begin, end); begin > end scans backward over (end, begin].
func (e *ExtentList) Search(_ context.Context, begin, end sample.Timestamp) (ScanOperator, error) {
	extents, ts, xs := e.snapshot()
	scan := &extentScan{
		tree:  e,
		begin: begin,
		end:   end,
		addrs: extents,
		tail:  pointRange{ts: ts, xs: xs},
	}
	if begin > end {
		scan.dir = Backward
		// backward scans visit extents newest-first, tail first of all
		reverse(scan.addrs)
	}
	return scan, nil
}

// Aggregate returns an aggregate operator yielding at most one result over
// the range.
func (e *ExtentList) Aggregate(ctx context.Context, begin, end sample.Timestamp) (AggregateOperator, error) {
	extents, tailTS, tailXS := e.snapshot()
	dir := Forward
	if begin > end {
		dir = Backward
	}
	var res AggregationResult
	accumulate := func(ts []sample.Timestamp, xs []float64) {
		for i, t := range ts {
			if !inRange(t, begin, end) {
				continue
			}
			x := xs[i]
			if res.Cnt == 0 || x < res.Min {
				res.Min = x
				res.MinTS = t
			}
			if res.Cnt == 0 || x > res.Max {
				res.Max = x
				res.MaxTS = t
			}
			res.Sum += x
			res.Cnt++
			if t > res.EndTS {
				res.EndTS = t
			}
		}
	}
	for _, addr := range extents {
		ts, xs, err := e.loadExtent(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("failed to load extent %d: %w", addr, err)
		}
		accumulate(ts, xs)
	}
	accumulate(tailTS, tailXS)
	return &extentAggregate{res: res, available: res.Cnt > 0, dir: dir}, nil
}

func (e *ExtentList) loadExtent(ctx context.Context, addr LogicAddr) ([]sample.Timestamp, []float64, error) {
	data, err := e.store.Get(ctx, e.key(addr))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, nil, ErrUnavailable
		}
		return nil, nil, err
	}
	return decodeExtent(data)
}

func encodeExtent(ts []sample.Timestamp, xs []float64) []byte {
	buf := make([]byte, extentHeaderSize+16*len(ts))
	binary.LittleEndian.PutUint32(buf, uint32(len(ts)))
	for i := range ts {
		binary.LittleEndian.PutUint64(buf[extentHeaderSize+16*i:], uint64(ts[i]))
		binary.LittleEndian.PutUint64(buf[extentHeaderSize+16*i+8:], math.Float64bits(xs[i]))
	}
	return buf
}

func decodeExtent(data []byte) ([]sample.Timestamp, []float64, error) {
	if len(data) < extentHeaderSize {
		return nil, nil, fmt.Errorf("truncated extent: %d bytes", len(data))
	}
	count := int(binary.LittleEndian.Uint32(data))
	if len(data) != extentHeaderSize+16*count {
		return nil, nil, fmt.Errorf("extent length %d does not match count %d", len(data), count)
	}
	ts := make([]sample.Timestamp, count)
	xs := make([]float64, count)
	for i := 0; i < count; i++ {
		ts[i] = sample.Timestamp(binary.LittleEndian.Uint64(data[extentHeaderSize+16*i:]))
		xs[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[extentHeaderSize+16*i+8:]))
	}
	return ts, xs, nil
}

// inRange reports whether t falls in the scan range: [begin, end) forward,
// (end, begin] backward.
func inRange(t, begin, end sample.Timestamp) bool {
	if begin <= end {
		return t >= begin && t < end
	}
	return t > end && t <= begin
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

////////////////////////////////////////////////////////////////////////////////

type pointRange struct {
	ts []sample.Timestamp
	xs []float64
}

// extentScan serves a search by walking extents lazily, ending (forward) or
// starting (backward) with the snapshotted tail buffer.
type extentScan struct {
	tree  *ExtentList
	begin sample.Timestamp
	end   sample.Timestamp
	dir   Direction

	addrs    []LogicAddr
	tail     pointRange
	tailUsed bool

	cur pointRange
	pos int
}

func (s *extentScan) Direction() Direction {
	return s.dir
}

// filter keeps the in-range points of r, ordered in the scan direction.
func (s *extentScan) filter(r pointRange) pointRange {
	out := pointRange{}
	for i, t := range r.ts {
		if inRange(t, s.begin, s.end) {
			out.ts = append(out.ts, t)
			out.xs = append(out.xs, r.xs[i])
		}
	}
	if s.dir == Backward {
		reverse(out.ts)
		reverse(out.xs)
	}
	return out
}

// advance loads the next nonempty source into cur. Returns io.EOF when all
// sources are exhausted.
func (s *extentScan) advance(ctx context.Context) error {
	for {
		if s.dir == Backward && !s.tailUsed {
			// the tail holds the newest points, so a backward scan visits it
			// before any extent
			s.tailUsed = true
			s.cur = s.filter(s.tail)
			s.pos = 0
			if len(s.cur.ts) > 0 {
				return nil
			}
			continue
		}
		if len(s.addrs) > 0 {
			addr := s.addrs[0]
			s.addrs = s.addrs[1:]
			ts, xs, err := s.tree.loadExtent(ctx, addr)
			if err != nil {
				return fmt.Errorf("failed to load extent %d: %w", addr, err)
			}
			s.cur = s.filter(pointRange{ts: ts, xs: xs})
			s.pos = 0
			if len(s.cur.ts) > 0 {
				return nil
			}
			continue
		}
		if s.dir == Forward && !s.tailUsed {
			s.tailUsed = true
			s.cur = s.filter(s.tail)
			s.pos = 0
			if len(s.cur.ts) > 0 {
				return nil
			}
			continue
		}
		return io.EOF
	}
}

// Read fills ts and xs with the next points of the scan.
func (s *extentScan) Read(ctx context.Context, ts []sample.Timestamp, xs []float64) (int, error) {
	if len(xs) < len(ts) {
		ts = ts[:len(xs)]
	}
	n := 0
	for n < len(ts) {
		if s.pos >= len(s.cur.ts) {
			if err := s.advance(ctx); err != nil {
				return n, err
			}
		}
		copied := copy(ts[n:], s.cur.ts[s.pos:])
		copy(xs[n:], s.cur.xs[s.pos:s.pos+copied])
		s.pos += copied
		n += copied
	}
	return n, nil
}

////////////////////////////////////////////////////////////////////////////////

// extentAggregate yields one aggregation result, then end-of-data.
type extentAggregate struct {
	res       AggregationResult
	available bool
	dir       Direction
}

func (a *extentAggregate) Direction() Direction {
	return a.dir
}

func (a *extentAggregate) Read(_ context.Context, ts []sample.Timestamp, xs []AggregationResult) (int, error) {
	if !a.available || len(ts) == 0 || len(xs) == 0 {
		return 0, io.EOF
	}
	a.available = false
	ts[0] = a.res.EndTS
	xs[0] = a.res
	return 1, io.EOF
}
