package storage

import (
	"context"
	"sync"

	"github.com/example/ride-matchmaking/internal/models"
)

// RideArchive mirrors ride records into durable storage for reporting.
// The state store stays the source of truth.
type RideArchive interface {
	SaveRide(ctx context.Context, r models.RideStatus) error
	UpdateRide(ctx context.Context, r models.RideStatus) error
}

// MemoryArchive keeps archived rides in a map.
type MemoryArchive struct {
	mu    sync.RWMutex
	rides map[string]models.RideStatus
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{rides: make(map[string]models.RideStatus)}
}

func (m *MemoryArchive) SaveRide(_ context.Context, r models.RideStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.RideID] = r
	return nil
}

func (m *MemoryArchive) UpdateRide(_ context.Context, r models.RideStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.RideID] = r
	return nil
}

func (m *MemoryArchive) Get(id string) (models.RideStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	return r, ok
}
