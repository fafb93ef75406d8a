package datastore

import (
	"context"
	"fmt"

	"github.com/tableio/tableio/pkg/models/scan"
)

// Row is one record of a table. Value encoding is the storage service's
// business; the adapters only ever look at the key.
type Row struct {
	Key   []byte `json:"key"`
	Value []byte `json:"value"`
}

type MutationOp string

const (
	MutationSet    = MutationOp("SET")
	MutationDelete = MutationOp("DELETE")
)

// Mutation is a single idempotent per-row operation.
type Mutation struct {
	Op    MutationOp `json:"op"`
	Value []byte     `json:"value,omitempty"`
}

// MutationRecord is an ordered batch of mutations against one row key.
type MutationRecord struct {
	Key       []byte     `json:"key"`
	Mutations []Mutation `json:"mutations"`
}

// ScanSession is a cursor over one bounded scan. It must yield rows in
// ascending key order within the descriptor's range: claim correctness in
// the reader depends on that.
type ScanSession interface {
	Start(ctx context.Context) (bool, error)
	Advance(ctx context.Context) (bool, error)
	Current() *Row
	Close() error
}

// CompletionFunc is invoked exactly once per asynchronous apply, from
// whatever goroutine the session completes on.
type CompletionFunc func(err error)

// WriteSession accepts mutation batches without blocking on their
// outcome. Flush returns once every previously accepted batch has been
// handed to the backend; completion callbacks may still be running and
// are awaited by the caller.
type WriteSession interface {
	ApplyAsync(ctx context.Context, rec *MutationRecord, done CompletionFunc)
	Flush(ctx context.Context) error
	Close() error
}

type Store interface {
	TableExists(ctx context.Context, table string) (bool, error)
	OpenScan(ctx context.Context, desc *scan.Descriptor) (ScanSession, error)
	OpenWrite(ctx context.Context, table string) (WriteSession, error)
}

func NewStore(storeType string, dataFolder string) (Store, error) {
	switch storeType {
	case "mem":
		return NewMemStore(), nil
	case "badger":
		return NewBadgerStore(dataFolder)
	default:
		return nil, fmt.Errorf("datastore implementation %s is invalid", storeType)
	}
}
