package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	retry "github.com/sethvargo/go-retry"
	"github.com/tableio/tableio/datastore"
	"github.com/tableio/tableio/pkg/config"
	"github.com/tableio/tableio/pkg/reader"
	"github.com/tableio/tableio/pkg/sink"
	"github.com/tableio/tableio/pkg/tablelog"
	"github.com/tableio/tableio/registry"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// Engine is the host-side glue around the two adapters: a pool of workers
// claims scan work units from the registry, streams their rows through a
// RangeScanReader into a BatchMutationSink, and a scheduler goroutine
// splits lagging readers so idle workers pick up the residuals.
type Engine struct {
	store     datastore.Store
	reg       registry.Registry
	destTable string

	workers           int
	splitFraction     float64
	checkpointRetries int
	failureSampleCap  int
	pollInterval      time.Duration

	mu      sync.Mutex
	readers map[string]*reader.RangeScanReader

	rowsCopied atomic.Int64
	unitsDone  atomic.Int64
	stats      *progressStats
}

func New(store datastore.Store, reg registry.Registry, destTable string) *Engine {
	cfg := config.TableioConfig()
	return &Engine{
		store:             store,
		reg:               reg,
		destTable:         destTable,
		workers:           cfg.Workers,
		splitFraction:     cfg.SplitFraction,
		checkpointRetries: cfg.CheckpointRetries,
		failureSampleCap:  cfg.FailureSampleCap,
		pollInterval:      20 * time.Millisecond,
		readers:           map[string]*reader.RangeScanReader{},
		stats:             newProgressStats(),
	}
}

type Stats struct {
	RowsCopied     int64
	UnitsDone      int64
	MedianFraction float64
}

func (e *Engine) Stats() Stats {
	return Stats{
		RowsCopied:     e.rowsCopied.Load(),
		UnitsDone:      e.unitsDone.Load(),
		MedianFraction: e.stats.Quantile(0.5),
	}
}

// Run processes work units until the registry holds nothing pending or
// running, or until the first fatal error cancels the group.
func (e *Engine) Run(ctx context.Context) error {
	schedCtx, stopSched := context.WithCancel(ctx)
	var schedWG sync.WaitGroup
	schedWG.Add(1)
	go func() {
		defer schedWG.Done()
		e.schedule(schedCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.workers; i++ {
		g.Go(func() error {
			return e.worker(gctx)
		})
	}
	err := g.Wait()
	stopSched()
	schedWG.Wait()

	tablelog.Zero.Info().
		Int64("rows", e.rowsCopied.Load()).
		Int64("units", e.unitsDone.Load()).
		Msg("engine finished")
	return err
}

func (e *Engine) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		unit, err := e.reg.ClaimWorkUnit(ctx)
		if err != nil {
			return err
		}
		if unit == nil {
			busy, err := e.anyRunning(ctx)
			if err != nil {
				return err
			}
			if !busy {
				return nil
			}
			time.Sleep(e.pollInterval)
			continue
		}
		if err := e.runUnit(ctx, unit); err != nil {
			return err
		}
	}
}

func (e *Engine) anyRunning(ctx context.Context) (bool, error) {
	units, err := e.reg.ListWorkUnits(ctx)
	if err != nil {
		return false, err
	}
	for _, u := range units {
		if u.State == registry.UnitRunning || u.State == registry.UnitPending {
			return true, nil
		}
	}
	return false, nil
}

// runUnit treats one work unit as one checkpoint. A failed checkpoint is
// re-run whole: mutation batches are idempotent, so a residual split off
// during a failed attempt at worst re-applies some of them.
func (e *Engine) runUnit(ctx context.Context, unit *registry.WorkUnit) error {
	backoff := retry.WithMaxRetries(uint64(e.checkpointRetries),
		retry.NewExponential(100*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := e.copyUnit(ctx, unit)
		var agg *sink.AggregatedWriteError
		if errors.As(err, &agg) {
			tablelog.Zero.Warn().
				Str("unit", unit.ID).
				Int("failed-writes", agg.Count).
				Msg("checkpoint failed, retrying whole unit")
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return err
	}
	e.unitsDone.Inc()
	return e.reg.FinishWorkUnit(ctx, unit.ID)
}

func (e *Engine) copyUnit(ctx context.Context, unit *registry.WorkUnit) error {
	rd := reader.New(ctx, e.store, unit.Descriptor)
	defer func() {
		_ = rd.Close()
	}()
	e.registerReader(unit.ID, rd)
	defer e.unregisterReader(unit.ID)

	snk := sink.New(e.store, e.destTable).WithFailureSampleCap(e.failureSampleCap)
	defer func() {
		_ = snk.Close()
	}()

	for has, err := rd.Start(ctx); ; has, err = rd.Advance(ctx) {
		if err != nil {
			return err
		}
		if !has {
			break
		}
		row := rd.Current()
		rec := &datastore.MutationRecord{
			Key: row.Key,
			Mutations: []datastore.Mutation{
				{Op: datastore.MutationSet, Value: row.Value},
			},
		}
		if err := snk.Submit(ctx, rec); err != nil {
			return err
		}
		e.rowsCopied.Inc()
	}
	return snk.Flush(ctx)
}

func (e *Engine) registerReader(id string, rd *reader.RangeScanReader) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.readers[id] = rd
}

func (e *Engine) unregisterReader(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.readers, id)
}

func (e *Engine) liveReaders() map[string]*reader.RangeScanReader {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := make(map[string]*reader.RangeScanReader, len(e.readers))
	for id, rd := range e.readers {
		snapshot[id] = rd
	}
	return snapshot
}

// schedule polls reader progress and, when no pending work is queued for
// idle workers, splits the remaining range of an in-flight reader. A
// rejected split is normal: the reader may have run past the candidate
// key, or the remainder may be too small to subdivide.
func (e *Engine) schedule(ctx context.Context) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		live := e.liveReaders()
		for _, rd := range live {
			e.stats.Record(rd.Progress().FractionConsumed)
		}
		if len(live) >= e.workers {
			continue
		}
		units, err := e.reg.ListWorkUnits(ctx)
		if err != nil {
			continue
		}
		pending := 0
		for _, u := range units {
			if u.State == registry.UnitPending {
				pending++
			}
		}
		if pending > 0 {
			continue
		}

		for id, rd := range live {
			residual := rd.SplitAtFraction(e.splitFraction)
			if residual == nil {
				continue
			}
			if err := e.reg.AddWorkUnit(ctx, registry.NewWorkUnit(residual)); err != nil {
				tablelog.Zero.Error().
					Err(err).
					Str("unit", id).
					Msg("failed to requeue residual descriptor")
			}
			break
		}
	}
}
