package datastore

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/tableio/tableio/pkg/models/kr"
	"github.com/tableio/tableio/pkg/models/scan"
	"github.com/tableio/tableio/pkg/models/tableerror"
	"github.com/tableio/tableio/pkg/tablelog"
)

// BadgerStore backs tables with a single badger instance. Rows live under
// a "<table>\x00" key prefix, which keeps lexicographic row order intact
// within a table.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = &BadgerStore{}

func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	tablelog.Zero.Debug().Str("path", path).Msg("badgerstore: opened")
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func tablePrefix(table string) []byte {
	return append([]byte(table), 0x00)
}

func rowKey(table string, key []byte) []byte {
	return append(tablePrefix(table), key...)
}

func (s *BadgerStore) TableExists(_ context.Context, table string) (bool, error) {
	var exists bool
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		defer it.Close()
		prefix := tablePrefix(table)
		it.Seek(prefix)
		exists = it.ValidForPrefix(prefix)
		return nil
	})
	return exists, err
}

// Put is a seeding helper for tooling.
func (s *BadgerStore) Put(table string, key []byte, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(rowKey(table, key), value)
	})
}

func (s *BadgerStore) OpenScan(_ context.Context, desc *scan.Descriptor) (ScanSession, error) {
	txn := s.db.NewTransaction(false)
	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 128})
	return &badgerScanSession{
		txn:    txn,
		it:     it,
		prefix: tablePrefix(desc.Table),
		desc:   desc,
	}, nil
}

func (s *BadgerStore) OpenWrite(_ context.Context, table string) (WriteSession, error) {
	return &badgerWriteSession{db: s.db, table: table}, nil
}

type badgerScanSession struct {
	txn    *badger.Txn
	it     *badger.Iterator
	prefix []byte
	desc   *scan.Descriptor

	current *Row
	closed  bool
}

func (b *badgerScanSession) Start(_ context.Context) (bool, error) {
	b.it.Seek(rowKey(b.desc.Table, b.desc.Range.LowerBound))
	return b.settle()
}

func (b *badgerScanSession) Advance(_ context.Context) (bool, error) {
	b.it.Next()
	return b.settle()
}

// settle positions the iterator on the next row inside the range that
// passes the filter.
func (b *badgerScanSession) settle() (bool, error) {
	for ; b.it.ValidForPrefix(b.prefix); b.it.Next() {
		bitem := b.it.Item()
		key := bitem.Key()[len(b.prefix):]
		if !b.desc.Range.Unbounded() && !kr.CmpKeysLess(key, b.desc.Range.UpperBound) {
			break
		}
		value, err := bitem.ValueCopy(nil)
		if err != nil {
			return false, err
		}
		if !b.desc.Filter.Matches(key, value) {
			continue
		}
		b.current = &Row{Key: append([]byte(nil), key...), Value: value}
		return true, nil
	}
	b.current = nil
	return false, nil
}

func (b *badgerScanSession) Current() *Row {
	return b.current
}

func (b *badgerScanSession) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.it.Close()
	b.txn.Discard()
	return nil
}

type badgerWriteSession struct {
	db    *badger.DB
	table string
}

func (w *badgerWriteSession) ApplyAsync(_ context.Context, rec *MutationRecord, done CompletionFunc) {
	txn := w.db.NewTransaction(true)
	for _, m := range rec.Mutations {
		var err error
		switch m.Op {
		case MutationSet:
			err = txn.Set(rowKey(w.table, rec.Key), m.Value)
		case MutationDelete:
			err = txn.Delete(rowKey(w.table, rec.Key))
		default:
			txn.Discard()
			done(tableerror.Newf(tableerror.TABLEIO_WRITE_FAILURE,
				"unknown mutation op %q for key %x", m.Op, rec.Key))
			return
		}
		if err != nil {
			txn.Discard()
			done(err)
			return
		}
	}
	// CommitWith hands the batch to badger's commit pipeline and invokes
	// the callback from its own goroutine once the outcome is known.
	txn.CommitWith(done)
}

func (w *badgerWriteSession) Flush(_ context.Context) error {
	return nil
}

func (w *badgerWriteSession) Close() error {
	return nil
}
