package registry

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"sort"
	"time"

	retry "github.com/sethvargo/go-retry"
	"github.com/tableio/tableio/pkg/models/tableerror"
	"github.com/tableio/tableio/pkg/tablelog"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	workUnitsNamespace = "/workunits/"

	opTimeout = 5 * time.Second
)

var errClaimRaced = tableerror.New(tableerror.TABLEIO_REGISTRY_ERROR, "work unit claimed concurrently")

func workUnitNodePath(key string) string {
	return path.Join(workUnitsNamespace, key)
}

type EtcdRegistry struct {
	cli *clientv3.Client
}

var _ Registry = &EtcdRegistry{}

func NewEtcdRegistry(addr string) (*EtcdRegistry, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints: []string{addr},
		DialOptions: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
	})
	if err != nil {
		return nil, err
	}

	tablelog.Zero.Debug().
		Str("address", addr).
		Msg("etcdregistry: NewEtcdRegistry")

	return &EtcdRegistry{cli: cli}, nil
}

func (r *EtcdRegistry) Client() *clientv3.Client {
	return r.cli
}

func (r *EtcdRegistry) Close() error {
	return r.cli.Close()
}

func (r *EtcdRegistry) AddWorkUnit(ctx context.Context, unit *WorkUnit) error {
	tablelog.Zero.Debug().
		Str("unit", unit.ID).
		Msg("etcdregistry: add work unit")

	rawUnit, err := json.Marshal(unit)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err = r.cli.Put(ctx, workUnitNodePath(unit.ID), string(rawUnit))
	return err
}

func (r *EtcdRegistry) GetWorkUnit(ctx context.Context, id string) (*WorkUnit, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	resp, err := r.cli.Get(ctx, workUnitNodePath(id))
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, tableerror.Newf(tableerror.TABLEIO_REGISTRY_ERROR, "no work unit %s", id)
	}

	var unit WorkUnit
	if err := json.Unmarshal(resp.Kvs[0].Value, &unit); err != nil {
		return nil, err
	}
	return &unit, nil
}

func (r *EtcdRegistry) ListWorkUnits(ctx context.Context) ([]*WorkUnit, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	resp, err := r.cli.Get(ctx, workUnitsNamespace, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	ret := make([]*WorkUnit, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var unit WorkUnit
		if err := json.Unmarshal(kv.Value, &unit); err != nil {
			return nil, err
		}
		ret = append(ret, &unit)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].ID < ret[j].ID
	})
	return ret, nil
}

// ClaimWorkUnit races other workers for a pending unit: the PENDING ->
// RUNNING transition is a compare-and-swap on the node value, retried a
// few times when another worker wins. Exhausting the retries means the
// other workers kept winning; that reports as nothing to claim, and the
// caller polls again.
func (r *EtcdRegistry) ClaimWorkUnit(ctx context.Context) (*WorkUnit, error) {
	var claimed *WorkUnit

	err := retry.Do(ctx, retry.WithMaxRetries(10, retry.NewConstant(50*time.Millisecond)),
		func(ctx context.Context) error {
			claimed = nil
			units, err := r.ListWorkUnits(ctx)
			if err != nil {
				return err
			}

			for _, unit := range units {
				if unit.State != UnitPending {
					continue
				}
				oldRaw, err := json.Marshal(unit)
				if err != nil {
					return err
				}
				unit.State = UnitRunning
				newRaw, err := json.Marshal(unit)
				if err != nil {
					return err
				}

				opCtx, cancel := context.WithTimeout(ctx, opTimeout)
				resp, err := r.cli.Txn(opCtx).
					If(clientv3.Compare(clientv3.Value(workUnitNodePath(unit.ID)), "=", string(oldRaw))).
					Then(clientv3.OpPut(workUnitNodePath(unit.ID), string(newRaw))).
					Commit()
				cancel()
				if err != nil {
					return err
				}
				if !resp.Succeeded {
					// lost the race for this unit, try the list again
					return retry.RetryableError(errClaimRaced)
				}
				claimed = unit
				return nil
			}
			return nil
		})
	return claimOutcome(claimed, err)
}

// claimOutcome folds an exhausted claim race into the nothing-to-claim
// result. Workers poll again instead of failing.
func claimOutcome(claimed *WorkUnit, err error) (*WorkUnit, error) {
	if errors.Is(err, errClaimRaced) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *EtcdRegistry) FinishWorkUnit(ctx context.Context, id string) error {
	unit, err := r.GetWorkUnit(ctx, id)
	if err != nil {
		return err
	}
	unit.State = UnitDone
	return r.AddWorkUnit(ctx, unit)
}

func (r *EtcdRegistry) DropWorkUnit(ctx context.Context, id string) error {
	tablelog.Zero.Debug().
		Str("unit", id).
		Msg("etcdregistry: drop work unit")

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := r.cli.Delete(ctx, workUnitNodePath(id))
	return err
}
