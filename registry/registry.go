package registry

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/tableio/tableio/pkg/models/scan"
)

type UnitState string

const (
	UnitPending = UnitState("PENDING")
	UnitRunning = UnitState("RUNNING")
	UnitDone    = UnitState("DONE")
)

// WorkUnit is one independently schedulable scan sub-range. Residual
// descriptors produced by splits come back here as fresh pending units.
type WorkUnit struct {
	ID         string           `json:"id"`
	Descriptor *scan.Descriptor `json:"descriptor"`
	State      UnitState        `json:"state"`
}

func NewWorkUnit(desc *scan.Descriptor) *WorkUnit {
	return &WorkUnit{
		ID:         uuid.NewString(),
		Descriptor: desc,
		State:      UnitPending,
	}
}

// Registry hands scan work units between the planner, the workers and the
// scheduler. Claim must be atomic: no unit may run on two workers.
type Registry interface {
	AddWorkUnit(ctx context.Context, unit *WorkUnit) error
	GetWorkUnit(ctx context.Context, id string) (*WorkUnit, error)
	ListWorkUnits(ctx context.Context) ([]*WorkUnit, error)

	// ClaimWorkUnit atomically moves one pending unit to RUNNING and
	// returns it, or nil when nothing is pending.
	ClaimWorkUnit(ctx context.Context) (*WorkUnit, error)
	FinishWorkUnit(ctx context.Context, id string) error
	DropWorkUnit(ctx context.Context, id string) error
}

func NewRegistry(registryType string, addr string) (Registry, error) {
	switch registryType {
	case "etcd":
		return NewEtcdRegistry(addr)
	case "mem":
		return NewMemRegistry(), nil
	default:
		return nil, fmt.Errorf("registry implementation %s is invalid", registryType)
	}
}
