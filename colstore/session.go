package colstore

import (
	"context"

	"github.com/strata-tsdb/strata/nbtree"
	"github.com/strata-tsdb/strata/query"
	"github.com/strata-tsdb/strata/sample"
)

/*
Session is a per-writer cache of tree handles in front of the registry. A
cache hit appends without touching the registry lock; a miss goes through the
registry's write path, which populates the cache so the next write hits. A
session is owned by a single writer and is not synchronized; the registry must
outlive it.
*/

////////////////////////////////////////////////////////////////////////////////

// Session is a per-writer view of a column store.
type Session struct {
	store *ColumnStore
	cache map[sample.SeriesID]nbtree.Tree
}

// NewSession returns a session over the given registry.
func NewSession(store *ColumnStore) *Session {
	return &Session{
		store: store,
		cache: make(map[sample.SeriesID]nbtree.Tree),
	}
}

// Write appends a float sample. Non-float payloads are rejected with
// AppendFailBadValue without touching the registry. On AppendOKFlushNeeded
// the tree's current roots are swapped into rescue.
func (s *Session) Write(
	ctx context.Context, smp sample.Sample, rescue *[]nbtree.LogicAddr,
) (nbtree.AppendResult, error) {
	if smp.Payload.Type != sample.PayloadFloat {
		return nbtree.AppendFailBadValue, nil
	}
	if tree, ok := s.cache[smp.SeriesID]; ok {
		res, err := tree.Append(ctx, smp.Timestamp, smp.Payload.Float)
		if err != nil {
			return res, err
		}
		if res == nbtree.AppendOKFlushNeeded && rescue != nil {
			roots, err := tree.Roots(ctx)
			if err != nil {
				return res, err
			}
			*rescue = roots
		}
		return res, nil
	}
	// cache miss - go through the registry, populating the cache
	return s.store.Write(ctx, smp, rescue, s.cache)
}

// Query dispatches a query through the registry.
func (s *Session) Query(ctx context.Context, req query.ReshapeRequest, proc query.StreamProcessor) {
	s.store.Query(ctx, req, proc)
}

// JoinQuery dispatches a join query through the registry.
func (s *Session) JoinQuery(ctx context.Context, req query.ReshapeRequest, proc query.StreamProcessor) {
	s.store.JoinQuery(ctx, req, proc)
}
