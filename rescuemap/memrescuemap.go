package rescuemap

import (
	"context"
	"sync"

	"github.com/strata-tsdb/strata/nbtree"
	"github.com/strata-tsdb/strata/sample"
)

/*
In-memory rescuemap for tests.
*/

////////////////////////////////////////////////////////////////////////////////

type memRescuemap struct {
	mtx  sync.RWMutex
	data map[sample.SeriesID][]nbtree.LogicAddr
}

// NewMemRescuemap returns an in-memory rescuemap.
func NewMemRescuemap() Rescuemap {
	return &memRescuemap{data: make(map[sample.SeriesID][]nbtree.LogicAddr)}
}

func (m *memRescuemap) Put(_ context.Context, id sample.SeriesID, rescue []nbtree.LogicAddr) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	stored := make([]nbtree.LogicAddr, len(rescue))
	copy(stored, rescue)
	m.data[id] = stored
	return nil
}

func (m *memRescuemap) Get(_ context.Context, id sample.SeriesID) ([]nbtree.LogicAddr, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	rescue, ok := m.data[id]
	if !ok {
		return nil, ErrSeriesNotFound
	}
	out := make([]nbtree.LogicAddr, len(rescue))
	copy(out, rescue)
	return out, nil
}

func (m *memRescuemap) PutAll(ctx context.Context, mapping map[sample.SeriesID][]nbtree.LogicAddr) error {
	for id, rescue := range mapping {
		if err := m.Put(ctx, id, rescue); err != nil {
			return err
		}
	}
	return nil
}

func (m *memRescuemap) GetAll(_ context.Context) (map[sample.SeriesID][]nbtree.LogicAddr, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	out := make(map[sample.SeriesID][]nbtree.LogicAddr, len(m.data))
	for id, rescue := range m.data {
		stored := make([]nbtree.LogicAddr, len(rescue))
		copy(stored, rescue)
		out[id] = stored
	}
	return out, nil
}
