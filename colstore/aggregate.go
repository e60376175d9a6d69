package colstore

import (
	"context"
	"errors"
	"io"

	"github.com/strata-tsdb/strata/nbtree"
	"github.com/strata-tsdb/strata/query"
	"github.com/strata-tsdb/strata/sample"
	"github.com/strata-tsdb/strata/util/log"
)

/*
The aggregate materializer emits one float sample per series, drawn from the
per-series aggregate operators in request order. The sample's timestamp and
value are chosen by the aggregation function: MIN and MAX carry the extremum's
own timestamp, SUM and CNT the timestamp of the last point covered by the
aggregate.
*/

////////////////////////////////////////////////////////////////////////////////

type aggregateMaterializer struct {
	iters []nbtree.AggregateOperator
	ids   []sample.SeriesID
	fn    query.AggregationFunc
	pos   int
}

// NewAggregator returns a materializer over one aggregate operator per id.
func NewAggregator(
	fn query.AggregationFunc, ids []sample.SeriesID, iters []nbtree.AggregateOperator,
) Materializer {
	if len(ids) != len(iters) {
		panic("aggregator: ids/iterators length mismatch")
	}
	return &aggregateMaterializer{iters: iters, ids: ids, fn: fn}
}

// Read fills dest with one float sample per remaining series. A series whose
// operator yields anything other than exactly one result is logged and
// skipped without output.
func (a *aggregateMaterializer) Read(ctx context.Context, dest []byte) (int, error) {
	var (
		tsBuf  [1]sample.Timestamp
		resBuf [1]nbtree.AggregationResult
	)
	written := 0
	for a.pos < len(a.iters) {
		if len(dest)-written < sample.FloatSize {
			return written, nil
		}
		n, err := a.iters[a.pos].Read(ctx, tsBuf[:], resBuf[:])
		if err != nil && !errors.Is(err, io.EOF) {
			return written, err
		}
		if n != 1 {
			log.Debugf(ctx, "unexpected aggregate size %d for series %d", n, a.ids[a.pos])
			a.pos++
			continue
		}
		res := resBuf[0]
		var ts sample.Timestamp
		var value float64
		switch a.fn {
		case query.AggMin:
			ts, value = res.MinTS, res.Min
		case query.AggMax:
			ts, value = res.MaxTS, res.Max
		case query.AggSum:
			ts, value = res.EndTS, res.Sum
		case query.AggCnt:
			ts, value = res.EndTS, res.Cnt
		}
		m, eerr := sample.NewFloat(a.ids[a.pos], ts, value).Encode(dest[written:])
		if eerr != nil {
			return written, eerr
		}
		written += m
		a.pos++
	}
	return written, io.EOF
}
