package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/loganmhb/cliodb/datalog"
)

// BadgerStore implements Store using BadgerDB
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a BadgerDB-backed store at path
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable BadgerDB logs

	// Index blocks are written once and read many times
	opts.MemTableSize = 64 << 20
	opts.BlockCacheSize = 128 << 20
	opts.IndexCacheSize = 64 << 20
	opts.DetectConflicts = false // Single writer, no read-modify-write
	opts.NumCompactors = 4
	opts.ValueThreshold = 1 << 10 // Small records stay in the LSM tree

	return openBadger(opts)
}

// NewMemoryStore creates a BadgerDB store that lives only in memory
func NewMemoryStore() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	opts.DetectConflicts = false
	return openBadger(opts)
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, datalog.StorageError("open badger", err)
	}
	return &BadgerStore{db: db}, nil
}

// Get retrieves the value stored at key
func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, datalog.StorageError(fmt.Sprintf("get %s", key), err)
	}
	return value, nil
}

// Put stores value at key
func (s *BadgerStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return datalog.StorageError(fmt.Sprintf("put %s", key), err)
	}
	return nil
}

// Scan returns an iterator over keys with prefix, starting at start
func (s *BadgerStore) Scan(ctx context.Context, prefix, start string) (Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if start < prefix {
		start = prefix
	}

	txn := s.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.PrefetchSize = 100

	return &BadgerIterator{
		ctx:    ctx,
		txn:    txn,
		it:     txn.NewIterator(opts),
		prefix: prefix,
		start:  []byte(start),
	}, nil
}

// Close closes the store
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// BadgerIterator implements Iterator for BadgerDB
type BadgerIterator struct {
	ctx     context.Context
	txn     *badger.Txn
	it      *badger.Iterator
	prefix  string
	start   []byte
	started bool
	key     string
	value   []byte
	err     error
}

// Next advances the iterator
func (i *BadgerIterator) Next() bool {
	if i.err != nil {
		return false
	}
	if err := i.ctx.Err(); err != nil {
		i.err = err
		return false
	}

	if !i.started {
		// First call - seek to start
		i.it.Seek(i.start)
		i.started = true
	} else {
		i.it.Next()
	}

	if !i.it.Valid() {
		return false
	}
	item := i.it.Item()
	i.key = string(item.Key())
	if !strings.HasPrefix(i.key, i.prefix) {
		return false
	}
	if i.value, i.err = item.ValueCopy(i.value[:0]); i.err != nil {
		i.err = datalog.StorageError("read value", i.err)
		return false
	}
	return true
}

// Key returns the current key
func (i *BadgerIterator) Key() string { return i.key }

// Value returns the current value; valid until the next call to Next
func (i *BadgerIterator) Value() []byte { return i.value }

// Err returns the first error encountered
func (i *BadgerIterator) Err() error { return i.err }

// Close closes the iterator
func (i *BadgerIterator) Close() error {
	i.it.Close()
	i.txn.Discard()
	return nil
}
