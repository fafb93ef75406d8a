package engine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tableio/tableio/datastore"
	"github.com/tableio/tableio/pkg/engine"
	"github.com/tableio/tableio/pkg/models/kr"
	"github.com/tableio/tableio/pkg/models/scan"
	"github.com/tableio/tableio/pkg/models/tableerror"
	"github.com/tableio/tableio/registry"
)

func seedSource(t *testing.T, store *datastore.MemStore, rows int) []string {
	t.Helper()
	var keys []string
	for i := 0; i < rows; i++ {
		key := fmt.Sprintf("row-%04d", i)
		keys = append(keys, key)
		require.NoError(t, store.Put("src", []byte(key), []byte("val-"+key)))
	}
	return keys
}

func scanTable(t *testing.T, store datastore.Store, table string) map[string]string {
	t.Helper()
	session, err := store.OpenScan(context.TODO(), scan.NewDescriptor(table, kr.KeyRange{}, nil))
	require.NoError(t, err)
	defer session.Close()

	rows := map[string]string{}
	has, err := session.Start(context.TODO())
	require.NoError(t, err)
	for has {
		row := session.Current()
		rows[string(row.Key)] = string(row.Value)
		has, err = session.Advance(context.TODO())
		require.NoError(t, err)
	}
	return rows
}

func TestEngineCopiesTable(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()

	store := datastore.NewMemStore()
	keys := seedSource(t, store, 500)

	reg := registry.NewMemRegistry()
	require.NoError(t, reg.AddWorkUnit(ctx,
		registry.NewWorkUnit(scan.NewDescriptor("src", kr.KeyRange{}, nil))))

	e := engine.New(store, reg, "dst")
	require.NoError(t, e.Run(ctx))

	got := scanTable(t, store, "dst")
	assert.Len(got, len(keys))
	for _, key := range keys {
		assert.Equal("val-"+key, got[key])
	}

	stats := e.Stats()
	assert.GreaterOrEqual(stats.RowsCopied, int64(500))
	assert.GreaterOrEqual(stats.UnitsDone, int64(1))

	// every unit finished
	units, err := reg.ListWorkUnits(ctx)
	require.NoError(t, err)
	for _, u := range units {
		assert.Equal(registry.UnitDone, u.State)
	}
}

func TestEngineBoundedUnits(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()

	store := datastore.NewMemStore()
	seedSource(t, store, 100)

	reg := registry.NewMemRegistry()
	require.NoError(t, reg.AddWorkUnit(ctx,
		registry.NewWorkUnit(scan.NewDescriptor("src", kr.KeyRange{
			LowerBound: []byte("row-0010"),
			UpperBound: []byte("row-0020"),
		}, nil))))
	require.NoError(t, reg.AddWorkUnit(ctx,
		registry.NewWorkUnit(scan.NewDescriptor("src", kr.KeyRange{
			LowerBound: []byte("row-0050"),
			UpperBound: []byte("row-0060"),
		}, nil))))

	e := engine.New(store, reg, "dst")
	require.NoError(t, e.Run(ctx))

	got := scanTable(t, store, "dst")
	assert.Len(got, 20)
	for key := range got {
		inFirst := key >= "row-0010" && key < "row-0020"
		inSecond := key >= "row-0050" && key < "row-0060"
		assert.True(inFirst || inSecond, "unexpected row %q", key)
	}
}

func TestEngineNoWork(t *testing.T) {
	assert := assert.New(t)

	e := engine.New(datastore.NewMemStore(), registry.NewMemRegistry(), "dst")
	assert.NoError(e.Run(context.TODO()))
	assert.Equal(int64(0), e.Stats().RowsCopied)
}

// flakyStore fails the first write session wholesale, then recovers. The
// engine must retry the checkpoint and still copy every row.
type flakyStore struct {
	*datastore.MemStore
	mu     sync.Mutex
	failed bool
}

type failingSession struct {
	datastore.WriteSession
}

func (s *flakyStore) OpenWrite(ctx context.Context, table string) (datastore.WriteSession, error) {
	inner, err := s.MemStore.OpenWrite(ctx, table)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.failed {
		s.failed = true
		return &failingSession{WriteSession: inner}, nil
	}
	return inner, nil
}

func (s *failingSession) ApplyAsync(ctx context.Context, rec *datastore.MutationRecord, done datastore.CompletionFunc) {
	go done(tableerror.Newf(tableerror.TABLEIO_WRITE_FAILURE, "injected failure for row %s", rec.Key))
}

func TestEngineRetriesFailedCheckpoint(t *testing.T) {
	assert := assert.New(t)
	ctx, cancel := context.WithTimeout(context.TODO(), 30*time.Second)
	defer cancel()

	store := &flakyStore{MemStore: datastore.NewMemStore()}
	seedSource(t, store.MemStore, 50)

	reg := registry.NewMemRegistry()
	require.NoError(t, reg.AddWorkUnit(ctx,
		registry.NewWorkUnit(scan.NewDescriptor("src", kr.KeyRange{}, nil))))

	e := engine.New(store, reg, "dst")
	require.NoError(t, e.Run(ctx))

	assert.Len(scanTable(t, store, "dst"), 50)
	assert.True(store.failed)
}
