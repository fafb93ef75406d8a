package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/tableio/tableio/pkg/models/tableerror"
	"github.com/tableio/tableio/pkg/tablelog"
)

type MemRegistry struct {
	mu sync.RWMutex

	Units map[string]*WorkUnit `json:"units"`
}

// copyUnit detaches a stored unit so callers never observe later state
// transitions through a shared pointer. Descriptors are immutable and
// stay shared.
func copyUnit(unit *WorkUnit) *WorkUnit {
	cp := *unit
	return &cp
}

var _ Registry = &MemRegistry{}

func NewMemRegistry() *MemRegistry {
	return &MemRegistry{
		Units: map[string]*WorkUnit{},
	}
}

func (r *MemRegistry) AddWorkUnit(_ context.Context, unit *WorkUnit) error {
	tablelog.Zero.Debug().
		Str("unit", unit.ID).
		Str("descriptor", unit.Descriptor.String()).
		Msg("memregistry: add work unit")
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Units[unit.ID] = copyUnit(unit)
	return nil
}

func (r *MemRegistry) GetWorkUnit(_ context.Context, id string) (*WorkUnit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	unit, ok := r.Units[id]
	if !ok {
		return nil, tableerror.Newf(tableerror.TABLEIO_REGISTRY_ERROR, "no work unit %s", id)
	}
	return copyUnit(unit), nil
}

func (r *MemRegistry) ListWorkUnits(_ context.Context) ([]*WorkUnit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ret []*WorkUnit
	for _, unit := range r.Units {
		ret = append(ret, copyUnit(unit))
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].ID < ret[j].ID
	})
	return ret, nil
}

func (r *MemRegistry) ClaimWorkUnit(_ context.Context) (*WorkUnit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, unit := range r.Units {
		if unit.State == UnitPending {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)
	unit := r.Units[ids[0]]
	unit.State = UnitRunning
	tablelog.Zero.Debug().Str("unit", unit.ID).Msg("memregistry: claim work unit")
	return copyUnit(unit), nil
}

func (r *MemRegistry) FinishWorkUnit(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	unit, ok := r.Units[id]
	if !ok {
		return tableerror.Newf(tableerror.TABLEIO_REGISTRY_ERROR, "no work unit %s", id)
	}
	unit.State = UnitDone
	tablelog.Zero.Debug().Str("unit", id).Msg("memregistry: finish work unit")
	return nil
}

func (r *MemRegistry) DropWorkUnit(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.Units, id)
	tablelog.Zero.Debug().Str("unit", id).Msg("memregistry: drop work unit")
	return nil
}
