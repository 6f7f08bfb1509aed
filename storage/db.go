package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// ErrNotFound is returned by Get when the key is absent, regardless of backend.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store. Both backends also
// expose a trie database so state tries and block records share one store.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error
	TrieDB() *triedb.Database
	Close()
}

type kvDatabase struct {
	kv        ethdb.Database
	trieOnce  sync.Once
	trieDB    *triedb.Database
	closeOnce sync.Once
}

func newKVDatabase(kv ethdb.Database) *kvDatabase {
	return &kvDatabase{kv: kv}
}

func (db *kvDatabase) Put(key []byte, value []byte) error {
	return db.kv.Put(key, value)
}

func (db *kvDatabase) Get(key []byte) ([]byte, error) {
	ok, err := db.kv.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return db.kv.Get(key)
}

func (db *kvDatabase) Has(key []byte) (bool, error) {
	return db.kv.Has(key)
}

func (db *kvDatabase) Delete(key []byte) error {
	return db.kv.Delete(key)
}

// TrieDB lazily opens a hash-scheme trie database on top of the store.
func (db *kvDatabase) TrieDB() *triedb.Database {
	db.trieOnce.Do(func() {
		db.trieDB = triedb.NewDatabase(db.kv, triedb.HashDefaults)
	})
	return db.trieDB
}

func (db *kvDatabase) Close() {
	db.closeOnce.Do(func() {
		if db.trieDB != nil {
			_ = db.trieDB.Close()
		}
		_ = db.kv.Close()
	})
}

// --- In-Memory DB (for testing and dev mode) ---

type MemDB struct {
	*kvDatabase
}

func NewMemDB() *MemDB {
	return &MemDB{kvDatabase: newKVDatabase(rawdb.NewDatabase(memorydb.New()))}
}

// --- Persistent DB ---

// LevelDBOptions tunes the goleveldb instance backing a persistent node.
type LevelDBOptions struct {
	CacheMiB int
	Handles  int
	ReadOnly bool
}

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	*kvDatabase
}

// NewLevelDB creates or opens a LevelDB database at the specified path using
// default tuning.
func NewLevelDB(path string) (*LevelDB, error) {
	return NewLevelDBWithOptions(path, LevelDBOptions{})
}

// NewLevelDBWithOptions opens LevelDB with explicit cache and handle limits.
func NewLevelDBWithOptions(path string, opts LevelDBOptions) (*LevelDB, error) {
	cache := opts.CacheMiB
	if cache < 16 {
		cache = 16
	}
	handles := opts.Handles
	if handles < 16 {
		handles = 16
	}
	kv, err := leveldb.NewCustom(path, "fin/db/", func(o *opt.Options) {
		o.OpenFilesCacheCapacity = handles
		o.BlockCacheCapacity = cache / 2 * opt.MiB
		o.WriteBuffer = cache / 4 * opt.MiB
		o.ReadOnly = opts.ReadOnly
	})
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDB{kvDatabase: newKVDatabase(rawdb.NewDatabase(kv))}, nil
}
