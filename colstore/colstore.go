package colstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/strata-tsdb/strata/nbtree"
	"github.com/strata-tsdb/strata/query"
	"github.com/strata-tsdb/strata/sample"
	"github.com/strata-tsdb/strata/util/log"
	"golang.org/x/sync/errgroup"
)

/*
Package colstore implements the query-materialization core of the database:
a registry mapping series ids to per-series trees, the materializers that
combine per-series scan and aggregate operators into a single output stream
(chain, k-way merge, join, aggregate, event chain), and the dispatcher that
compiles a reshape request into the right materializer and pumps its output
into a stream processor.

Materializers are cooperative pull iterators: each Read runs to completion on
the caller's goroutine and returns one batch of encoded samples. The registry
mutex is the only synchronization; it covers map mutation and lookup, and
trees are force-initialized outside of it.
*/

////////////////////////////////////////////////////////////////////////////////

var (
	// ErrBadArg indicates a malformed request: zero columns, wrong column
	// count for the query kind, or inconsistent join columns.
	ErrBadArg = errors.New("bad argument")
	// ErrNotFound indicates an unknown series id, or a group-by map with no
	// entry for a requested id.
	ErrNotFound = errors.New("not found")
	// ErrNotPermitted indicates a request shape the engine rejects:
	// aggregation with group-by, or aggregation ordered by time.
	ErrNotPermitted = errors.New("not permitted")
)

const (
	// scalarBatchSize is the pump buffer for fixed-size float output.
	scalarBatchSize = 0x1000 * sample.FloatSize
	// joinBatchSize is the pump buffer for variable-length tuple output.
	joinBatchSize = 4096
	// restoreConcurrency bounds parallel tree restoration in OpenOrRestore.
	restoreConcurrency = 8
)

// Materializer is the shared contract of the chain, merge, join, aggregate,
// and event-chain operators: Read fills dest with encoded samples and returns
// the number of bytes written. End of data is io.EOF, possibly alongside a
// final nonzero count. A full destination buffer returns a nil error; the
// caller re-splits the batch on each sample's payload size field.
type Materializer interface {
	Read(ctx context.Context, dest []byte) (int, error)
}

// ColumnStore owns exactly one tree per series id and dispatches queries over
// them. It is safe for concurrent use.
type ColumnStore struct {
	factory nbtree.Factory

	mtx     sync.Mutex
	columns map[sample.SeriesID]nbtree.Tree
}

// New returns a column store that constructs trees with the given factory.
func New(factory nbtree.Factory) *ColumnStore {
	return &ColumnStore{
		factory: factory,
		columns: make(map[sample.SeriesID]nbtree.Tree),
	}
}

// OpenOrRestore restores one tree per map entry from its rescue points and
// registers it. Empty rescue points violate the caller contract and panic. A
// series that is already registered fails with ErrBadArg.
func (cs *ColumnStore) OpenOrRestore(
	ctx context.Context,
	mapping map[sample.SeriesID][]nbtree.LogicAddr,
) error {
	for id, rescue := range mapping {
		if len(rescue) == 0 {
			panic(fmt.Sprintf("invalid rescue points state for series %d", id))
		}
	}
	g := errgroup.Group{}
	g.SetLimit(restoreConcurrency)
	for id, rescue := range mapping {
		id, rescue := id, rescue
		g.Go(func() error {
			if nbtree.RepairStatus(rescue) == nbtree.RepairRequired {
				log.Errorf(ctx, "repair needed, id=%d", id)
			}
			tree, err := cs.factory(ctx, id, rescue)
			if err != nil {
				return fmt.Errorf("failed to restore series %d: %w", id, err)
			}
			cs.mtx.Lock()
			if _, ok := cs.columns[id]; ok {
				cs.mtx.Unlock()
				log.Errorf(ctx, "can't open/repair %d (already exists)", id)
				return fmt.Errorf("series %d: %w", id, ErrBadArg)
			}
			cs.columns[id] = tree
			cs.mtx.Unlock()
			if err := tree.ForceInit(ctx); err != nil {
				return fmt.Errorf("failed to initialize series %d: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// CreateNewColumn registers a brand-new series. Fails with ErrBadArg if the
// id is already present.
func (cs *ColumnStore) CreateNewColumn(ctx context.Context, id sample.SeriesID) error {
	tree, err := cs.factory(ctx, id, nil)
	if err != nil {
		return fmt.Errorf("failed to create series %d: %w", id, err)
	}
	cs.mtx.Lock()
	if _, ok := cs.columns[id]; ok {
		cs.mtx.Unlock()
		return fmt.Errorf("series %d: %w", id, ErrBadArg)
	}
	cs.columns[id] = tree
	cs.mtx.Unlock()
	if err := tree.ForceInit(ctx); err != nil {
		return fmt.Errorf("failed to initialize series %d: %w", id, err)
	}
	return nil
}

// Close closes every registered tree and collects the rescue points needed to
// restore them.
func (cs *ColumnStore) Close(ctx context.Context) (map[sample.SeriesID][]nbtree.LogicAddr, error) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	log.Infof(ctx, "column-store commit called")
	result := make(map[sample.SeriesID][]nbtree.LogicAddr, len(cs.columns))
	for id, tree := range cs.columns {
		addrs, err := tree.Close(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to close series %d: %w", id, err)
		}
		result[id] = addrs
	}
	log.Infof(ctx, "column-store commit completed")
	return result, nil
}

// Write appends a float sample to its series. On AppendOKFlushNeeded the
// tree's current roots are swapped into rescue. If a cache is provided, the
// tree handle is inserted there so the caller's next write can bypass the
// registry. An unknown series returns AppendFailBadID.
func (cs *ColumnStore) Write(
	ctx context.Context,
	s sample.Sample,
	rescue *[]nbtree.LogicAddr,
	cache map[sample.SeriesID]nbtree.Tree,
) (nbtree.AppendResult, error) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	tree, ok := cs.columns[s.SeriesID]
	if !ok {
		return nbtree.AppendFailBadID, nil
	}
	res, err := tree.Append(ctx, s.Timestamp, s.Payload.Float)
	if err != nil {
		return res, fmt.Errorf("failed to append to series %d: %w", s.SeriesID, err)
	}
	if res == nbtree.AppendOKFlushNeeded && rescue != nil {
		roots, err := tree.Roots(ctx)
		if err != nil {
			return res, fmt.Errorf("failed to read roots of series %d: %w", s.SeriesID, err)
		}
		*rescue = roots
	}
	if cache != nil {
		cache[s.SeriesID] = tree
	}
	return res, nil
}

// trees resolves ids to tree handles under the registry lock.
func (cs *ColumnStore) trees(ids []sample.SeriesID) ([]nbtree.Tree, error) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	out := make([]nbtree.Tree, 0, len(ids))
	for _, id := range ids {
		tree, ok := cs.columns[id]
		if !ok {
			return nil, fmt.Errorf("series %d: %w", id, ErrNotFound)
		}
		out = append(out, tree)
	}
	return out, nil
}

func (cs *ColumnStore) scanOperators(
	ctx context.Context, ids []sample.SeriesID, rng query.Range,
) ([]nbtree.ScanOperator, error) {
	trees, err := cs.trees(ids)
	if err != nil {
		return nil, err
	}
	iters := make([]nbtree.ScanOperator, 0, len(trees))
	for i, tree := range trees {
		iter, err := tree.Search(ctx, rng.Begin, rng.End)
		if err != nil {
			return nil, fmt.Errorf("failed to open scan on series %d: %w", ids[i], err)
		}
		iters = append(iters, iter)
	}
	return iters, nil
}

func (cs *ColumnStore) aggregateOperators(
	ctx context.Context, ids []sample.SeriesID, rng query.Range,
) ([]nbtree.AggregateOperator, error) {
	trees, err := cs.trees(ids)
	if err != nil {
		return nil, err
	}
	iters := make([]nbtree.AggregateOperator, 0, len(trees))
	for i, tree := range trees {
		iter, err := tree.Aggregate(ctx, rng.Begin, rng.End)
		if err != nil {
			return nil, fmt.Errorf("failed to open aggregate on series %d: %w", ids[i], err)
		}
		iters = append(iters, iter)
	}
	return iters, nil
}

// Query compiles a single-column reshape request into a materializer and
// pumps its output into proc. Failures are reported through proc.SetError;
// normal termination through proc.Complete.
func (cs *ColumnStore) Query(ctx context.Context, req query.ReshapeRequest, proc query.StreamProcessor) {
	log.Debugf(ctx, "column-store select query: %s", req)
	if len(req.Select.Columns) > 1 {
		log.Errorf(ctx, "bad select request, too many columns")
		proc.SetError(ErrBadArg)
		return
	}
	if len(req.Select.Columns) == 0 {
		log.Errorf(ctx, "bad select request, no columns")
		proc.SetError(ErrBadArg)
		return
	}
	ids := make([]sample.SeriesID, len(req.Select.Columns[0].IDs))
	copy(ids, req.Select.Columns[0].IDs)

	var m Materializer
	if req.Agg.Enabled {
		if req.GroupBy.Enabled {
			log.Errorf(ctx, "group-by in aggregate query is not supported")
			proc.SetError(ErrNotPermitted)
			return
		}
		if req.OrderBy != query.OrderBySeries {
			log.Errorf(ctx, "bad aggregate query, order-by statement not supported")
			proc.SetError(ErrNotPermitted)
			return
		}
		aggs, err := cs.aggregateOperators(ctx, ids, req.Range)
		if err != nil {
			proc.SetError(err)
			return
		}
		m = NewAggregator(req.Agg.Func, ids, aggs)
	} else {
		iters, err := cs.scanOperators(ctx, ids, req.Range)
		if err != nil {
			proc.SetError(err)
			return
		}
		if req.GroupBy.Enabled {
			for i, id := range ids {
				mapped, ok := req.GroupBy.TransientMap[id]
				if !ok {
					log.Errorf(ctx, "bad transient id mapping for series %d", id)
					proc.SetError(fmt.Errorf("series %d has no transient mapping: %w", id, ErrNotFound))
					return
				}
				ids[i] = mapped
			}
			m = NewMerge(req.OrderBy, ids, iters)
		} else {
			if req.OrderBy == query.OrderBySeries {
				m = NewChain(ids, iters)
			} else {
				m = NewMerge(query.OrderByTime, ids, iters)
			}
		}
	}

	if cs.drain(ctx, m, proc, scalarBatchSize) {
		proc.Complete()
	}
}

// JoinQuery time-aligns the request's columns row by row: for C columns of N
// ids each it builds N join materializers, each owning one scan per column,
// and drains them in turn.
func (cs *ColumnStore) JoinQuery(ctx context.Context, req query.ReshapeRequest, proc query.StreamProcessor) {
	log.Debugf(ctx, "column-store join query: %s", req)
	if len(req.Select.Columns) < 2 {
		log.Errorf(ctx, "bad join request, not enough columns")
		proc.SetError(ErrBadArg)
		return
	}
	rows := len(req.Select.Columns[0].IDs)
	for _, col := range req.Select.Columns[1:] {
		if len(col.IDs) != rows {
			log.Errorf(ctx, "bad join request, column id counts differ")
			proc.SetError(ErrBadArg)
			return
		}
	}
	joins := make([]Materializer, 0, rows)
	for ix := 0; ix < rows; ix++ {
		ids := make([]sample.SeriesID, 0, len(req.Select.Columns))
		for _, col := range req.Select.Columns {
			ids = append(ids, col.IDs[ix])
		}
		iters, err := cs.scanOperators(ctx, ids, req.Range)
		if err != nil {
			proc.SetError(err)
			return
		}
		joins = append(joins, NewJoin(ids, iters))
	}
	for _, m := range joins {
		if !cs.drain(ctx, m, proc, joinBatchSize) {
			return
		}
	}
	proc.Complete()
}

// drain pulls batches from m and forwards the decoded samples to proc. It
// returns true when the materializer is exhausted (io.EOF, or ErrUnavailable,
// which ends the batch without being fatal) and false when the processor
// refused a sample or an error was reported through SetError.
func (cs *ColumnStore) drain(
	ctx context.Context, m Materializer, proc query.StreamProcessor, bufSize int,
) bool {
	dest := make([]byte, bufSize)
	for {
		n, err := m.Read(ctx, dest)
		done := err != nil
		if done && !errors.Is(err, io.EOF) && !errors.Is(err, nbtree.ErrUnavailable) {
			log.Errorf(ctx, "iteration error: %v", err)
			proc.SetError(err)
			return false
		}
		buf := dest[:n]
		for len(buf) > 0 {
			s, consumed, err := sample.Decode(buf)
			if err != nil {
				log.Errorf(ctx, "failed to decode materialized sample: %v", err)
				proc.SetError(err)
				return false
			}
			if !proc.Put(s) {
				return false
			}
			buf = buf[consumed:]
		}
		if done {
			return true
		}
	}
}
