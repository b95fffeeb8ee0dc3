package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"
)

// Badger keys of the persisted state.
var (
	keySyncLayer          = []byte("cpg/syncLayer")
	keyLastSyncLayer      = []byte("cpg/lastSyncLayer")
	keyLastSyncFromServer = []byte("cpg/lastSyncFromServer")
)

// BadgerStateStore persists State in a Badger key/value directory.
type BadgerStateStore struct {
	db *badger.DB
}

// OpenBadgerStateStore opens (creating if needed) the state directory dir.
// An empty dir keeps the state in memory.
func OpenBadgerStateStore(dir string) (*BadgerStateStore, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithSyncWrites(true).
		WithMemTableSize(4 << 20).
		WithValueLogFileSize(16 << 20).
		WithBlockCacheSize(1 << 20)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open sync state store: %w", err)
	}
	return &BadgerStateStore{db: db}, nil
}

// Close releases the directory lock.
func (b *BadgerStateStore) Close() error {
	return b.db.Close()
}

func (b *BadgerStateStore) Load(ctx context.Context) (State, error) {
	st := DefaultState()
	err := b.db.View(func(txn *badger.Txn) error {
		if v, ok, err := getValue(txn, keySyncLayer); err != nil {
			return err
		} else if ok {
			if st.SyncLayer, err = strconv.ParseInt(v, 10, 64); err != nil {
				return fmt.Errorf("corrupt sync layer %q: %w", v, err)
			}
		}
		if v, ok, err := getValue(txn, keyLastSyncLayer); err != nil {
			return err
		} else if ok {
			if st.LastSyncLayer, err = strconv.ParseInt(v, 10, 64); err != nil {
				return fmt.Errorf("corrupt last sync layer %q: %w", v, err)
			}
		}
		v, ok, err := getValue(txn, keyLastSyncFromServer)
		if err != nil {
			return err
		}
		if ok {
			st.LastSyncFromServer = v
		}
		return nil
	})
	if err != nil {
		return State{}, fmt.Errorf("failed to load sync state: %w", err)
	}
	return st, nil
}

func (b *BadgerStateStore) Save(ctx context.Context, st State) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(keySyncLayer, []byte(strconv.FormatInt(st.SyncLayer, 10))); err != nil {
			return err
		}
		if err := txn.Set(keyLastSyncLayer, []byte(strconv.FormatInt(st.LastSyncLayer, 10))); err != nil {
			return err
		}
		if st.LastSyncFromServer == "" {
			return txn.Delete(keyLastSyncFromServer)
		}
		return txn.Set(keyLastSyncFromServer, []byte(st.LastSyncFromServer))
	})
	if err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	return nil
}

func (b *BadgerStateStore) Clear(ctx context.Context) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, k := range [][]byte{keySyncLayer, keyLastSyncLayer, keyLastSyncFromServer} {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear sync state: %w", err)
	}
	return nil
}

func getValue(txn *badger.Txn, key []byte) (string, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return "", false, err
	}
	return string(v), true, nil
}
