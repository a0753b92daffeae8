package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-matchmaking/internal/apperr"
	"github.com/example/ride-matchmaking/internal/models"
	"github.com/example/ride-matchmaking/internal/storage"
)

// fakeRides fails Get a fixed number of times before returning the ride.
type fakeRides struct {
	failGet int
	calls   int
	ride    models.RideStatus
}

func (f *fakeRides) Get(_ context.Context, rideID string) (models.RideStatus, error) {
	f.calls++
	if f.calls <= f.failGet {
		return models.RideStatus{}, apperr.StoreUnavailable("hget", errors.New("timeout"))
	}
	if rideID != f.ride.RideID {
		return models.RideStatus{}, apperr.ErrNotFound
	}
	return f.ride, nil
}

type flakyArchive struct {
	*storage.MemoryArchive
	failSave int
	saves    int
}

func (f *flakyArchive) SaveRide(ctx context.Context, r models.RideStatus) error {
	f.saves++
	if f.saves <= f.failSave {
		return errors.New("connection reset")
	}
	return f.MemoryArchive.SaveRide(ctx, r)
}

func TestArchiveWithRetry_SucceedsAfterRetries(t *testing.T) {
	ride := models.RideStatus{RideID: "ride-1", RiderID: "r1", DriverID: "d1", Status: models.StatusEnRoute}
	src := &fakeRides{failGet: 1, ride: ride}
	dst := &flakyArchive{MemoryArchive: storage.NewMemoryArchive(), failSave: 1}

	start := time.Now()
	if err := archiveWithRetry(context.Background(), src, dst, "ride-1", 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if src.calls != 3 || dst.saves != 2 {
		t.Fatalf("expected retries, got get=%d save=%d", src.calls, dst.saves)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
	got, ok := dst.Get("ride-1")
	if !ok || got.Status != models.StatusEnRoute {
		t.Fatalf("expected archived ride, got %+v %v", got, ok)
	}
}

func TestArchiveWithRetry_FailsWhenExhausted(t *testing.T) {
	src := &fakeRides{failGet: 5, ride: models.RideStatus{RideID: "ride-1"}}
	err := archiveWithRetry(context.Background(), src, storage.NewMemoryArchive(), "ride-1", 3, time.Millisecond)
	if !errors.Is(err, apperr.ErrStoreUnavailable) {
		t.Fatalf("expected store error after retries, got %v", err)
	}
}

func TestArchiveWithRetry_SkipsUnknownRide(t *testing.T) {
	src := &fakeRides{ride: models.RideStatus{RideID: "ride-1"}}
	dst := storage.NewMemoryArchive()
	if err := archiveWithRetry(context.Background(), src, dst, "gone", 3, time.Millisecond); err != nil {
		t.Fatalf("expected unknown ride to be skipped, got %v", err)
	}
	if _, ok := dst.Get("gone"); ok {
		t.Fatal("unknown ride should not be archived")
	}
}
