package storage

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
)

// managedStore tracks one open store and how many holders it has.
type managedStore struct {
	store *DocumentStore
	refs  int
}

// StoreManager hands out shared document store handles keyed by store path.
// Badger allows a single open handle per directory, so a crawl writing a
// store and the browse surface reading it must go through the same handle.
type StoreManager struct {
	logger arbor.ILogger

	mu     sync.Mutex
	stores map[string]*managedStore
}

// NewStoreManager creates an empty store manager.
func NewStoreManager(logger arbor.ILogger) *StoreManager {
	return &StoreManager{
		logger: logger,
		stores: make(map[string]*managedStore),
	}
}

// Acquire returns the open store for a crawl name, opening it on first use.
// Every successful Acquire must be paired with a Release.
func (m *StoreManager) Acquire(dataDir, name string) (*DocumentStore, error) {
	key := storePath(dataDir, name)

	m.mu.Lock()
	defer m.mu.Unlock()

	if ms, ok := m.stores[key]; ok {
		ms.refs++
		return ms.store, nil
	}

	store, err := OpenDocumentStore(dataDir, name, m.logger)
	if err != nil {
		return nil, err
	}
	m.stores[key] = &managedStore{store: store, refs: 1}
	return store, nil
}

// Release drops one holder of the named store and closes it when none
// remain. Closing happens under the manager lock so a concurrent Acquire
// cannot reopen the directory mid-close.
func (m *StoreManager) Release(dataDir, name string) {
	key := storePath(dataDir, name)

	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.stores[key]
	if !ok {
		return
	}
	ms.refs--
	if ms.refs > 0 {
		return
	}
	delete(m.stores, key)

	if err := ms.store.Close(); err != nil {
		m.logger.Warn().Err(err).Str("path", key).Msg("Failed to close document store")
	}
}

// Close force-closes every open store regardless of holders. Shutdown only.
func (m *StoreManager) Close() error {
	m.mu.Lock()
	stores := m.stores
	m.stores = make(map[string]*managedStore)
	m.mu.Unlock()

	var firstErr error
	for key, ms := range stores {
		if err := ms.store.Close(); err != nil {
			m.logger.Warn().Err(err).Str("path", key).Msg("Failed to close document store")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// StoreExists reports whether a store directory exists for the crawl name.
func StoreExists(dataDir, name string) bool {
	info, err := os.Stat(storePath(dataDir, name))
	return err == nil && info.IsDir()
}

func storePath(dataDir, name string) string {
	return filepath.Join(dataDir, name+".crawl")
}
