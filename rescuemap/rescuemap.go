package rescuemap

import (
	"context"
	"errors"

	"github.com/strata-tsdb/strata/nbtree"
	"github.com/strata-tsdb/strata/sample"
)

/*
The rescuemap is the durable association between series ids and the rescue
points returned by closing their trees. The surrounding database persists the
map produced by the column store's close and feeds it back into
open_or_restore on startup. Losing the rescuemap makes the extents in the
block store opaque, so it lives in its own store rather than alongside them.
*/

////////////////////////////////////////////////////////////////////////////////

// ErrSeriesNotFound is returned when a series has no stored rescue points.
var ErrSeriesNotFound = errors.New("series not found")

// Rescuemap stores rescue points per series.
type Rescuemap interface {
	// Put replaces the rescue points of a series.
	Put(ctx context.Context, id sample.SeriesID, rescue []nbtree.LogicAddr) error
	// Get returns the rescue points of a series.
	Get(ctx context.Context, id sample.SeriesID) ([]nbtree.LogicAddr, error)
	// PutAll replaces the rescue points of every series in the mapping, as
	// produced by the column store's close. Series absent from the mapping
	// keep their stored points.
	PutAll(ctx context.Context, mapping map[sample.SeriesID][]nbtree.LogicAddr) error
	// GetAll returns the whole map, as consumed by open_or_restore.
	GetAll(ctx context.Context) (map[sample.SeriesID][]nbtree.LogicAddr, error)
}
