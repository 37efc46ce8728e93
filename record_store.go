package xordrive

import (
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"go.uber.org/zap"
)

// ErrRecordNotStored is returned by Get for a key the store does not hold.
var ErrRecordNotStored = errors.New("record not stored")

// DefaultRecordCacheCapacity is the number of hot records kept in memory
// in front of the disk store.
const DefaultRecordCacheCapacity = 1024

// RecordStore persists records in a LevelDB database, with a small LRU
// cache in front of it. Keys are encoded as one kind byte followed by the
// address's raw bytes; values as one type byte followed by the record
// content.
//
// The store is safe for concurrent use; the mutex covers only the in-memory
// key index, LevelDB serializes its own I/O.
type RecordStore struct {
	db    *leveldb.DB
	cache *RecordCache

	mu   sync.RWMutex
	keys map[RecordID]struct{}

	logger *zap.Logger
}

// OpenRecordStore opens (or creates) the record store at path and loads
// its key index.
func OpenRecordStore(path string, cacheCapacity int, logger *zap.Logger) (*RecordStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheCapacity < 1 {
		cacheCapacity = DefaultRecordCacheCapacity
	}

	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}

	s := &RecordStore{
		db:     db,
		cache:  NewRecordCache(cacheCapacity),
		keys:   make(map[RecordID]struct{}),
		logger: logger,
	}
	if err := s.loadKeys(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("record store opened",
		zap.String("path", path),
		zap.Int("records", len(s.keys)))
	return s, nil
}

// loadKeys scans the database once at startup to rebuild the key index.
func (s *RecordStore) loadKeys() error {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		id, _, err := decodeStored(iter.Key(), iter.Value())
		if err != nil {
			s.logger.Warn("skipping undecodable record", zap.Error(err))
			continue
		}
		s.keys[id] = struct{}{}
	}
	return iter.Error()
}

// keyPool recycles key encoding buffers; LevelDB copies keys it keeps.
var keyPool = NewByteSlicePool(64)

func appendKey(buf []byte, addr NetworkAddress) []byte {
	buf = append(buf, byte(addr.Kind()))
	return append(buf, addr.Bytes()...)
}

func encodeValue(typ RecordType, value []byte) []byte {
	buf := make([]byte, 1+len(value))
	buf[0] = byte(typ)
	copy(buf[1:], value)
	return buf
}

func decodeStored(key, value []byte) (RecordID, Record, error) {
	if len(key) < 1 || len(value) < 1 {
		return RecordID{}, Record{}, errors.New("truncated record encoding")
	}
	addr := addrFromKindBytes(AddressKind(key[0]), key[1:])
	rec := Record{Key: addr, Value: append([]byte(nil), value[1:]...)}
	return RecordID{Addr: addr, Type: RecordType(value[0])}, rec, nil
}

// Put stores a record and its type, overwriting any previous version.
func (s *RecordStore) Put(rec Record, typ RecordType) error {
	kb := keyPool.Get()
	defer keyPool.Put(kb)
	*kb = appendKey(*kb, rec.Key)

	if err := s.db.Put(*kb, encodeValue(typ, rec.Value), nil); err != nil {
		return fmt.Errorf("put record %s: %w", rec.Key, err)
	}

	s.mu.Lock()
	s.keys[RecordID{Addr: rec.Key, Type: typ}] = struct{}{}
	s.mu.Unlock()

	s.cache.Put(rec)
	return nil
}

// Get fetches a record by address, cache first.
func (s *RecordStore) Get(addr NetworkAddress) (Record, error) {
	if rec, ok := s.cache.Get(addr); ok {
		return rec, nil
	}

	kb := keyPool.Get()
	defer keyPool.Put(kb)
	*kb = appendKey(*kb, addr)

	value, err := s.db.Get(*kb, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Record{}, ErrRecordNotStored
	}
	if err != nil {
		return Record{}, fmt.Errorf("get record %s: %w", addr, err)
	}
	_, rec, err := decodeStored(*kb, value)
	if err != nil {
		return Record{}, fmt.Errorf("get record %s: %w", addr, err)
	}

	s.cache.Put(rec)
	return rec, nil
}

// Contains reports whether a record with the given identity is stored.
func (s *RecordStore) Contains(id RecordID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[id]
	return ok
}

// Delete removes a record from disk and cache.
func (s *RecordStore) Delete(addr NetworkAddress) error {
	kb := keyPool.Get()
	defer keyPool.Put(kb)
	*kb = appendKey(*kb, addr)

	if err := s.db.Delete(*kb, nil); err != nil {
		return fmt.Errorf("delete record %s: %w", addr, err)
	}

	s.mu.Lock()
	for id := range s.keys {
		if id.Addr.Equal(addr) {
			delete(s.keys, id)
		}
	}
	s.mu.Unlock()

	s.cache.Remove(addr)
	return nil
}

// StoredKeys returns a snapshot of every stored record identity. The
// snapshot is what replication advertises to neighbours and what the
// fetcher filters incoming advertisements against.
func (s *RecordStore) StoredKeys() map[RecordID]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make(map[RecordID]struct{}, len(s.keys))
	for id := range s.keys {
		snapshot[id] = struct{}{}
	}
	return snapshot
}

// Len returns the number of stored records.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// CacheStats returns statistics of the in-memory cache.
func (s *RecordStore) CacheStats() LRUCacheStats { return s.cache.Stats() }

// Close flushes and closes the underlying database.
func (s *RecordStore) Close() error {
	return s.db.Close()
}
