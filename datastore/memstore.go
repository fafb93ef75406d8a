package datastore

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/btree"
	"github.com/tableio/tableio/pkg/models/kr"
	"github.com/tableio/tableio/pkg/models/scan"
	"github.com/tableio/tableio/pkg/models/tableerror"
)

type item struct {
	key   []byte
	value []byte
}

func (i *item) Less(than btree.Item) bool {
	return bytes.Compare(i.key, than.(*item).key) < 0
}

// MemStore keeps every table as an ordered btree under one RWMutex. Scan
// sessions snapshot the matching rows up front, so a session stays
// consistent while writers keep mutating the table.
type MemStore struct {
	mu     sync.RWMutex
	tables map[string]*btree.BTree
}

var _ Store = &MemStore{}

func NewMemStore() *MemStore {
	return &MemStore{
		tables: map[string]*btree.BTree{},
	}
}

func (s *MemStore) CreateTable(table string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tables[table]; !ok {
		s.tables[table] = btree.New(32)
	}
}

// Put is a seeding helper for tests and tooling.
func (s *MemStore) Put(table string, key []byte, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[table]
	if !ok {
		t = btree.New(32)
		s.tables[table] = t
	}
	t.ReplaceOrInsert(&item{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
	return nil
}

func (s *MemStore) Get(table string, key []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[table]
	if !ok {
		return nil, false
	}
	it := t.Get(&item{key: key})
	if it == nil {
		return nil, false
	}
	return it.(*item).value, true
}

func (s *MemStore) TableExists(_ context.Context, table string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.tables[table]
	return ok, nil
}

func (s *MemStore) OpenScan(_ context.Context, desc *scan.Descriptor) (ScanSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[desc.Table]
	if !ok {
		return nil, tableerror.Newf(tableerror.TABLEIO_NO_TABLE, "table %s does not exist", desc.Table)
	}

	var rows []*Row
	t.AscendGreaterOrEqual(&item{key: desc.Range.LowerBound}, func(i btree.Item) bool {
		it := i.(*item)
		if !desc.Range.Unbounded() && !kr.CmpKeysLess(it.key, desc.Range.UpperBound) {
			return false
		}
		if desc.Filter.Matches(it.key, it.value) {
			rows = append(rows, &Row{
				Key:   append([]byte(nil), it.key...),
				Value: append([]byte(nil), it.value...),
			})
		}
		return true
	})

	return &memScanSession{rows: rows, idx: -1}, nil
}

func (s *MemStore) OpenWrite(_ context.Context, table string) (WriteSession, error) {
	s.CreateTable(table)
	return &memWriteSession{store: s, table: table}, nil
}

func (s *MemStore) apply(table string, rec *MutationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[table]
	if !ok {
		return tableerror.Newf(tableerror.TABLEIO_NO_TABLE, "table %s does not exist", table)
	}
	for _, m := range rec.Mutations {
		switch m.Op {
		case MutationSet:
			t.ReplaceOrInsert(&item{
				key:   append([]byte(nil), rec.Key...),
				value: append([]byte(nil), m.Value...),
			})
		case MutationDelete:
			t.Delete(&item{key: rec.Key})
		default:
			return tableerror.Newf(tableerror.TABLEIO_WRITE_FAILURE,
				"unknown mutation op %q for key %x", m.Op, rec.Key)
		}
	}
	return nil
}

type memScanSession struct {
	rows []*Row
	idx  int
}

func (m *memScanSession) Start(_ context.Context) (bool, error) {
	m.idx = 0
	return m.idx < len(m.rows), nil
}

func (m *memScanSession) Advance(_ context.Context) (bool, error) {
	m.idx++
	return m.idx < len(m.rows), nil
}

func (m *memScanSession) Current() *Row {
	if m.idx < 0 || m.idx >= len(m.rows) {
		return nil
	}
	return m.rows[m.idx]
}

func (m *memScanSession) Close() error {
	m.rows = nil
	return nil
}

type memWriteSession struct {
	store *MemStore
	table string
}

func (w *memWriteSession) ApplyAsync(_ context.Context, rec *MutationRecord, done CompletionFunc) {
	go func() {
		done(w.store.apply(w.table, rec))
	}()
}

func (w *memWriteSession) Flush(_ context.Context) error {
	return nil
}

func (w *memWriteSession) Close() error {
	return nil
}
