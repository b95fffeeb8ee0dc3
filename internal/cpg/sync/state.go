package sync

import (
	"context"
	stdsync "sync"
)

// State is the sync bookkeeping that must survive restarts.
type State struct {
	SyncLayer          int64  `json:"syncLayer" yaml:"sync_layer"`
	LastSyncLayer      int64  `json:"lastSyncLayer" yaml:"last_sync_layer"`
	LastSyncFromServer string `json:"lastSyncFromServer,omitempty" yaml:"last_sync_from_server,omitempty"`
}

// DefaultState is the state of a store that has never synced.
func DefaultState() State {
	return State{SyncLayer: 0, LastSyncLayer: -1}
}

// MemoryStateStore keeps state in memory.
type MemoryStateStore struct {
	mu    stdsync.Mutex
	state *State
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

func (m *MemoryStateStore) Load(ctx context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return DefaultState(), nil
	}
	return *m.state, nil
}

func (m *MemoryStateStore) Save(ctx context.Context, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &st
	return nil
}

func (m *MemoryStateStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = nil
	return nil
}
