package scheduler

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/ringmaster/pkg/storage"
)

// IdentityManager owns the framework id issued at registration
type IdentityManager struct {
	store storage.Store

	mu sync.RWMutex
	id string
}

func NewIdentityManager(store storage.Store) *IdentityManager {
	return &IdentityManager{store: store}
}

// Get returns the stored framework id, or "" before the first registration
func (m *IdentityManager) Get() (string, error) {
	m.mu.RLock()
	id := m.id
	m.mu.RUnlock()
	if id != "" {
		return id, nil
	}

	id, err := m.store.FrameworkID()
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read framework id: %w", err)
	}

	m.mu.Lock()
	m.id = id
	m.mu.Unlock()
	return id, nil
}

// Register durably records id
func (m *IdentityManager) Register(id string) error {
	if id == "" {
		return errors.New("empty framework id")
	}
	if err := m.store.SetFrameworkID(id); err != nil {
		return fmt.Errorf("failed to persist framework id: %w", err)
	}

	m.mu.Lock()
	m.id = id
	m.mu.Unlock()
	return nil
}
