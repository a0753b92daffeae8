package geo

import (
	"context"
	"fmt"
	"time"
)

// SpatialIndex is the slice of the state store the locator reads.
type SpatialIndex interface {
	GeoRadius(ctx context.Context, key string, lat, lon, radiusMeters float64, count int) ([]string, error)
	Members(ctx context.Context, key string) ([]string, error)
}

// Locator finds available drivers around a point.
type Locator struct {
	index         SpatialIndex
	key           string
	defaultRadius float64
	defaultCount  int
}

func NewLocator(index SpatialIndex, key string, defaultRadius float64, defaultCount int) *Locator {
	return &Locator{index: index, key: key, defaultRadius: defaultRadius, defaultCount: defaultCount}
}

// FindNearby returns driver ids within radiusMeters, nearest first, capped at
// maxResults. Non-positive arguments fall back to the locator defaults. An
// empty result is not an error.
func (l *Locator) FindNearby(ctx context.Context, lat, lon, radiusMeters float64, maxResults int) ([]string, error) {
	if radiusMeters <= 0 {
		radiusMeters = l.defaultRadius
	}
	if maxResults <= 0 {
		maxResults = l.defaultCount
	}
	ids, err := l.index.GeoRadius(ctx, l.key, lat, lon, radiusMeters, maxResults)
	if err != nil {
		return nil, fmt.Errorf("find nearby drivers: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// List enumerates every driver currently in the available set.
func (l *Locator) List(ctx context.Context) ([]string, error) {
	ids, err := l.index.Members(ctx, l.key)
	if err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// LeaseStore is the conditional write surface needed for driver claims.
type LeaseStore interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	DelIfEqual(ctx context.Context, key, value string) (bool, error)
	ExpireIfEqual(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// Leaser claims drivers for a rider with an expiring lease so two
// concurrent requests cannot be assigned the same driver. The TTL only
// covers the window between claim and ride creation; Hold pins the lease
// until the ride ends and Release drops it.
type Leaser struct {
	store LeaseStore
	ttl   time.Duration
}

func NewLeaser(store LeaseStore, ttl time.Duration) *Leaser {
	return &Leaser{store: store, ttl: ttl}
}

func leaseKey(driverID string) string { return fmt.Sprintf("driver:%s:lease", driverID) }

// Claim returns false when another rider already holds the driver.
func (l *Leaser) Claim(ctx context.Context, driverID, riderID string) (bool, error) {
	ok, err := l.store.SetNX(ctx, leaseKey(driverID), riderID, l.ttl)
	if err != nil {
		return false, fmt.Errorf("claim driver %s: %w", driverID, err)
	}
	return ok, nil
}

// Hold removes the expiry from riderID's lease on driverID. It reports false
// when the lease is no longer held by riderID.
func (l *Leaser) Hold(ctx context.Context, driverID, riderID string) (bool, error) {
	ok, err := l.store.ExpireIfEqual(ctx, leaseKey(driverID), riderID, 0)
	if err != nil {
		return false, fmt.Errorf("hold driver %s: %w", driverID, err)
	}
	return ok, nil
}

// Release drops the lease only if riderID still owns it.
func (l *Leaser) Release(ctx context.Context, driverID, riderID string) error {
	if _, err := l.store.DelIfEqual(ctx, leaseKey(driverID), riderID); err != nil {
		return fmt.Errorf("release driver %s: %w", driverID, err)
	}
	return nil
}
