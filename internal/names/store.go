package names

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// ErrNameExists is returned by Put when the address already has a name.
var ErrNameExists = errors.New("name already exists for this address")

// Store maps validator addresses to operator-assigned names. A name can be
// written once per address; there is no rename or delete.
type Store struct {
	db    *leveldb.DB
	write *opt.WriteOptions

	locksMu sync.Mutex
	locks   map[string]*addressLock
}

type addressLock struct {
	mu   sync.Mutex
	refs int
}

// Open opens (or creates) the LevelDB directory at path.
func Open(path string, syncWrites bool) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open name store at %s: %w", path, err)
	}
	return newStore(db, syncWrites), nil
}

// OpenInMemory returns a store backed by volatile memory storage.
func OpenInMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return newStore(db, false), nil
}

func newStore(db *leveldb.DB, syncWrites bool) *Store {
	return &Store{
		db:    db,
		write: &opt.WriteOptions{Sync: syncWrites},
		locks: make(map[string]*addressLock),
	}
}

// Get returns the stored name. A missing name is not an error.
func (s *Store) Get(ctx context.Context, address common.Address) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	data, err := s.db.Get([]byte(address.Hex()), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read name for %s: %w", address.Hex(), err)
	}
	return string(data), true, nil
}

// Put stores name for address unless one is already present.
func (s *Store) Put(ctx context.Context, address common.Address, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := address.Hex()

	unlock := s.lock(key)
	defer unlock()

	exists, err := s.db.Has([]byte(key), nil)
	if err != nil {
		return fmt.Errorf("failed to check name for %s: %w", key, err)
	}
	if exists {
		return ErrNameExists
	}
	if err := s.db.Put([]byte(key), []byte(name), s.write); err != nil {
		return fmt.Errorf("failed to write name for %s: %w", key, err)
	}
	return nil
}

// Count returns the number of stored names.
func (s *Store) Count() (int, error) {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	count := 0
	for iter.Next() {
		count++
	}
	return count, iter.Error()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// lock serializes check-then-put per address. Entries are dropped once no
// caller holds them.
func (s *Store) lock(key string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &addressLock{}
		s.locks[key] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.locksMu.Unlock()
	}
}
