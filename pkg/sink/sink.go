package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tableio/tableio/datastore"
	"github.com/tableio/tableio/pkg/models/tableerror"
	"github.com/tableio/tableio/pkg/tablelog"
	"go.uber.org/atomic"
)

const DefaultFailureSampleCap = 10

// AggregatedWriteError reports every asynchronous write failure observed
// since the previous checkpoint barrier. It fails the whole checkpoint:
// partial success is not a supported outcome.
type AggregatedWriteError struct {
	Table   string
	Count   int
	Sampled []*WriteFailure
}

func (e *AggregatedWriteError) Error() string {
	var sb strings.Builder
	for _, f := range e.Sampled {
		fmt.Fprintf(&sb, "\nrow %x: %v", f.Record.Key, f.Cause)
	}
	return fmt.Sprintf("%d errors occurred writing to table %q, first %d:%s",
		e.Count, e.Table, len(e.Sampled), sb.String())
}

// BatchMutationSink applies per-key mutation batches with overlapped I/O.
// Submit never blocks on a batch outcome; any failure is surfaced no
// later than the next Flush, the sink's checkpoint commit barrier.
//
// Open, Submit, CheckForFailures, Flush and Close all belong to one
// control goroutine. Completion callbacks run on goroutines owned by the
// write session and only ever touch the failure queue.
type BatchMutationSink struct {
	store datastore.Store
	table string

	session   datastore.WriteSession
	pending   sync.WaitGroup
	failures  *failureQueue
	sampleCap int

	recordsWritten atomic.Int64
	closed         bool
}

func New(store datastore.Store, table string) *BatchMutationSink {
	return &BatchMutationSink{
		store:     store,
		table:     table,
		failures:  newFailureQueue(),
		sampleCap: DefaultFailureSampleCap,
	}
}

// WithFailureSampleCap bounds how many causes one aggregated failure
// carries. The remainder is still counted.
func (s *BatchMutationSink) WithFailureSampleCap(n int) *BatchMutationSink {
	if n > 0 {
		s.sampleCap = n
	}
	return s
}

// Open establishes the write session. It is lazy and reused across many
// records until Close. The table pre-check is advisory only.
func (s *BatchMutationSink) Open(ctx context.Context) error {
	if s.session != nil {
		return nil
	}
	if s.closed {
		return tableerror.Newf(tableerror.TABLEIO_WRITE_FAILURE, "sink for table %q is closed", s.table)
	}

	if ok, err := s.store.TableExists(ctx, s.table); err != nil {
		tablelog.Zero.Warn().
			Err(err).
			Str("table", s.table).
			Msg("error checking whether table exists; proceeding")
	} else if !ok {
		tablelog.Zero.Warn().
			Str("table", s.table).
			Msg("table does not exist; proceeding")
	}

	session, err := s.store.OpenWrite(ctx, s.table)
	if err != nil {
		return tableerror.Wrap(tableerror.TABLEIO_WRITE_FAILURE, err)
	}
	s.session = session
	return nil
}

// Submit first drains and raises any previously queued failures, then
// hands the batch to the session without waiting for its outcome.
func (s *BatchMutationSink) Submit(ctx context.Context, rec *datastore.MutationRecord) error {
	if err := s.CheckForFailures(); err != nil {
		return err
	}
	if err := s.Open(ctx); err != nil {
		return err
	}

	s.pending.Add(1)
	s.session.ApplyAsync(ctx, rec, func(err error) {
		if err != nil {
			s.failures.push(&WriteFailure{Record: rec, Cause: err})
		}
		s.pending.Done()
	})
	s.recordsWritten.Inc()
	return nil
}

// CheckForFailures drains the failure queue and, if it was non-empty,
// raises one aggregated failure with the total count and up to sampleCap
// causes. Every drained entry is reported exactly once.
func (s *BatchMutationSink) CheckForFailures() error {
	if s.failures.empty() {
		return nil
	}

	drained := s.failures.drain()
	if len(drained) == 0 {
		return nil
	}
	sampled := drained
	if len(sampled) > s.sampleCap {
		sampled = sampled[:s.sampleCap]
	}
	agg := &AggregatedWriteError{
		Table:   s.table,
		Count:   len(drained),
		Sampled: sampled,
	}
	tablelog.Zero.Error().
		Str("table", s.table).
		Int("count", agg.Count).
		Msg("asynchronous write failures detected")
	return agg
}

// Flush blocks until every submission of the current checkpoint has a
// known outcome, then raises anything the completions queued. No
// checkpoint commits past an unknown submission outcome.
func (s *BatchMutationSink) Flush(ctx context.Context) error {
	if s.session != nil {
		if err := s.session.Flush(ctx); err != nil {
			return tableerror.Wrap(tableerror.TABLEIO_WRITE_FAILURE, err)
		}
	}
	s.pending.Wait()
	if err := s.CheckForFailures(); err != nil {
		return err
	}

	tablelog.Zero.Info().
		Str("table", s.table).
		Int64("records", s.recordsWritten.Swap(0)).
		Msg("wrote records")
	return nil
}

// Close tears down the write session exactly once. Completed work is
// kept; in-flight batches are not re-issued.
func (s *BatchMutationSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.session == nil {
		return nil
	}
	session := s.session
	s.session = nil
	return session.Close()
}
