package colstore

import (
	"context"
	"errors"
	"io"

	"github.com/strata-tsdb/strata/nbtree"
	"github.com/strata-tsdb/strata/sample"
)

/*
The event chain materializer is the variable-length counterpart of the chain:
it concatenates per-series event scans in id order, emitting opaque blobs as
event samples. A batch stops when the remaining output space cannot fit the
next event; the pending event is carried across calls and emitted first on
the next one.
*/

////////////////////////////////////////////////////////////////////////////////

type eventChainMaterializer struct {
	iters []nbtree.BinaryDataOperator
	ids   []sample.SeriesID
	pos   int

	available bool
	currID    sample.SeriesID
	currTS    sample.Timestamp
	curr      []byte
}

// NewEventChain returns a materializer concatenating one event scan per id.
func NewEventChain(ids []sample.SeriesID, iters []nbtree.BinaryDataOperator) Materializer {
	if len(ids) != len(iters) {
		panic("event chain: ids/iterators length mismatch")
	}
	return &eventChainMaterializer{iters: iters, ids: ids}
}

// Read fills dest with event samples until the next event no longer fits.
func (e *eventChainMaterializer) Read(ctx context.Context, dest []byte) (int, error) {
	var tsBuf [1]sample.Timestamp
	dataBuf := make([][]byte, 1)
	written := 0
	for e.pos < len(e.iters) || e.available {
		if !e.available {
			n, err := e.iters[e.pos].Read(ctx, tsBuf[:], dataBuf)
			if n == 0 {
				if err != nil && !errors.Is(err, io.EOF) {
					return written, err
				}
				// this scan is done, continue with the next
				e.pos++
				continue
			}
			if err != nil && !errors.Is(err, io.EOF) {
				return written, err
			}
			e.available = true
			e.currID = e.ids[e.pos]
			e.currTS = tsBuf[0]
			e.curr = dataBuf[0]
		}
		s := sample.NewEvent(e.currID, e.currTS, e.curr)
		if len(dest)-written < s.EncodedSize() {
			return written, nil
		}
		n, err := s.Encode(dest[written:])
		if err != nil {
			return written, err
		}
		written += n
		e.available = false
	}
	return written, io.EOF
}
