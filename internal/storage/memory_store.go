package storage

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/example/ride-matchmaking/internal/apperr"
	"github.com/example/ride-matchmaking/internal/geo"
)

type memEntry struct {
	value   string
	expires time.Time
}

// MemoryStore is a process-local StateStore used when no Redis is
// configured and in tests. Expired keys are dropped lazily on access.
type MemoryStore struct {
	mu     sync.Mutex
	kv     map[string]memEntry
	hashes map[string]map[string]string
	geo    map[string]*geo.Index
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kv:     make(map[string]memEntry),
		hashes: make(map[string]map[string]string),
		geo:    make(map[string]*geo.Index),
		now:    time.Now,
	}
}

// SetClock overrides the time source used for TTL checks.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) lookup(key string) (memEntry, bool) {
	e, ok := m.kv[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.kv, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *MemoryStore) put(key, value string, ttl time.Duration) {
	e := memEntry{value: value}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.kv[key] = e
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return "", ErrNil
	}
	return e.value, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(key, value, ttl)
	return nil
}

func (m *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.put(key, value, ttl)
	return true, nil
}

func (m *MemoryStore) DelIfEqual(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok || e.value != value {
		return false, nil
	}
	delete(m.kv, key)
	return true, nil
}

func (m *MemoryStore) ExpireIfEqual(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok || e.value != value {
		return false, nil
	}
	m.put(key, value, ttl)
	return true, nil
}

func (m *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	e, ok := m.lookup(key)
	if ok {
		v, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, apperr.StoreUnavailable("incr", err)
		}
		n = v
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	m.kv[key] = e
	return n, nil
}

func (m *MemoryStore) index(key string) *geo.Index {
	idx, ok := m.geo[key]
	if !ok {
		idx = geo.NewIndex()
		m.geo[key] = idx
	}
	return idx
}

func (m *MemoryStore) GeoAdd(_ context.Context, key, member string, lat, lon float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index(key).Upsert(member, lat, lon)
	return nil
}

func (m *MemoryStore) GeoRadius(_ context.Context, key string, lat, lon, radiusMeters float64, count int) ([]string, error) {
	m.mu.Lock()
	idx, ok := m.geo[key]
	m.mu.Unlock()
	if !ok {
		return []string{}, nil
	}
	return idx.Nearby(lat, lon, radiusMeters, count), nil
}

func (m *MemoryStore) Members(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	idx, ok := m.geo[key]
	m.mu.Unlock()
	if !ok {
		return []string{}, nil
	}
	return idx.Members(), nil
}

func (m *MemoryStore) HSet(_ context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (m *MemoryStore) HGet(_ context.Context, key, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.hashes[key][field]
	if !ok {
		return "", ErrNil
	}
	return v, nil
}

func (m *MemoryStore) HUpdate(_ context.Context, key, field string, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, found := m.hashes[key][field]
	next, err := fn(cur, found)
	if err != nil {
		return err
	}
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	h[field] = next
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
