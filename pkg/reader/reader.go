package reader

import (
	"context"
	"sync"

	"github.com/tableio/tableio/datastore"
	"github.com/tableio/tableio/pkg/models/kr"
	"github.com/tableio/tableio/pkg/models/scan"
	"github.com/tableio/tableio/pkg/models/tableerror"
	"github.com/tableio/tableio/pkg/tablelog"
	"go.uber.org/atomic"
)

type State int

const (
	Unstarted = State(iota)
	Active
	Exhausted
	Closed
)

// Progress is a scheduler-facing snapshot of a reader.
type Progress struct {
	FractionConsumed   float64
	SplitPointsClaimed int64
}

// RangeScanReader drives one scan session over a sub-range of a table.
// Start, Advance, Current and Close belong to a single worker goroutine;
// SplitAtFraction and Progress may be called from a scheduler goroutine
// at any point of the advance path. The live descriptor is guarded by the
// reader mutex; claim/split arbitration happens inside the tracker.
type RangeScanReader struct {
	mu   sync.Mutex
	desc *scan.Descriptor

	store   datastore.Store
	session datastore.ScanSession
	tracker *kr.RangeTracker

	state           State
	recordsReturned atomic.Int64
}

// New builds a reader for desc. The table-existence pre-check is advisory:
// a failed check is logged and the reader proceeds optimistically.
func New(ctx context.Context, store datastore.Store, desc *scan.Descriptor) *RangeScanReader {
	if ok, err := store.TableExists(ctx, desc.Table); err != nil {
		tablelog.Zero.Warn().
			Err(err).
			Str("table", desc.Table).
			Msg("error checking whether table exists; proceeding")
	} else if !ok {
		tablelog.Zero.Warn().
			Str("table", desc.Table).
			Msg("table does not exist; proceeding")
	}

	return &RangeScanReader{
		desc:    desc,
		store:   store,
		tracker: kr.NewRangeTracker(desc.Range),
		state:   Unstarted,
	}
}

// Start opens the scan session and claims the first record, if any.
func (r *RangeScanReader) Start(ctx context.Context) (bool, error) {
	session, err := r.store.OpenScan(ctx, r.Descriptor())
	if err != nil {
		return false, tableerror.Wrap(tableerror.TABLEIO_SCAN_FAILURE, err)
	}
	r.session = session
	r.setState(Active)

	has, err := session.Start(ctx)
	if err != nil {
		return false, tableerror.Wrap(tableerror.TABLEIO_SCAN_FAILURE, err)
	}
	return r.observe(has), nil
}

// Advance fetches the next record and claims its key. A refused claim
// means a concurrent split moved the bound below the cursor: the reader
// is exhausted.
func (r *RangeScanReader) Advance(ctx context.Context) (bool, error) {
	has, err := r.session.Advance(ctx)
	if err != nil {
		return false, tableerror.Wrap(tableerror.TABLEIO_SCAN_FAILURE, err)
	}
	return r.observe(has), nil
}

func (r *RangeScanReader) observe(has bool) bool {
	if has && r.tracker.TryClaim(r.session.Current().Key) {
		r.recordsReturned.Inc()
		return true
	}
	r.tracker.MarkDone()
	r.setState(Exhausted)
	return false
}

// Current returns the most recently fetched record. It is undefined
// before a successful Start or Advance.
func (r *RangeScanReader) Current() *datastore.Row {
	return r.session.Current()
}

// Descriptor returns the live descriptor, narrowed by any past splits.
func (r *RangeScanReader) Descriptor() *scan.Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.desc
}

// SplitAtFraction carves the suffix of the remaining range at fraction
// off into a residual descriptor for rescheduling and shrinks this
// reader to the primary. It returns nil when the split is rejected; a
// rejected split has no side effect.
func (r *RangeScanReader) SplitAtFraction(fraction float64) *scan.Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	splitKey, err := r.tracker.Range().InterpolateKey(fraction)
	if err != nil {
		tablelog.Zero.Info().
			Err(err).
			Float64("fraction", fraction).
			Msg("failed to interpolate split key")
		return nil
	}

	primary := r.desc.WithEndKey(splitKey)
	residual := r.desc.WithStartKey(splitKey)
	if !r.tracker.TrySplitAtPosition(splitKey) {
		return nil
	}

	tablelog.Zero.Debug().
		Bytes("split-key", splitKey).
		Str("primary", primary.String()).
		Str("residual", residual.String()).
		Msg("split scan range")
	r.desc = primary
	return residual
}

func (r *RangeScanReader) Progress() Progress {
	return Progress{
		FractionConsumed:   r.tracker.FractionConsumed(),
		SplitPointsClaimed: r.tracker.SplitPointsClaimed(),
	}
}

// Close releases the scan session. It is idempotent.
func (r *RangeScanReader) Close() error {
	r.mu.Lock()
	if r.state == Closed {
		r.mu.Unlock()
		return nil
	}
	r.state = Closed
	session := r.session
	r.session = nil
	r.mu.Unlock()

	tablelog.Zero.Info().
		Int64("records", r.recordsReturned.Load()).
		Msg("closing reader")
	if session == nil {
		return nil
	}
	return session.Close()
}

func (r *RangeScanReader) setState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Closed {
		r.state = s
	}
}

func (r *RangeScanReader) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}
