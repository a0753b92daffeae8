package rides

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-matchmaking/internal/apperr"
	"github.com/example/ride-matchmaking/internal/models"
	"github.com/example/ride-matchmaking/internal/storage"
)

// HashStore is the hash surface of the state store holding ride records.
type HashStore interface {
	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (string, error)
	HUpdate(ctx context.Context, key, field string, fn storage.UpdateFunc) error
}

// Manager owns ride records and their status lifecycle.
type Manager struct {
	store   HashStore
	hashKey string
	archive storage.RideArchive
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// NewManager builds a manager over the given hash. archive is optional.
func NewManager(store HashStore, hashKey string, archive storage.RideArchive, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   store,
		hashKey: hashKey,
		archive: archive,
		logger:  logger,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
}

// Create persists a new ride in Accepted state.
func (m *Manager) Create(ctx context.Context, riderID, driverID string) (models.RideStatus, error) {
	now := m.now().UTC()
	ride := models.RideStatus{
		RideID:    m.newID(),
		RiderID:   riderID,
		DriverID:  driverID,
		Status:    models.StatusAccepted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	b, err := json.Marshal(ride)
	if err != nil {
		return models.RideStatus{}, fmt.Errorf("encode ride: %w", err)
	}
	if err := m.store.HSet(ctx, m.hashKey, ride.RideID, string(b)); err != nil {
		return models.RideStatus{}, fmt.Errorf("persist ride %s: %w", ride.RideID, err)
	}
	if m.archive != nil {
		if err := m.archive.SaveRide(ctx, ride); err != nil {
			m.logger.Warn("ride archive save failed", "ride_id", ride.RideID, "error", err)
		}
	}
	return ride, nil
}

// Get loads a ride. A missing or undecodable record is reported as
// ErrNotFound.
func (m *Manager) Get(ctx context.Context, rideID string) (models.RideStatus, error) {
	raw, err := m.store.HGet(ctx, m.hashKey, rideID)
	if errors.Is(err, storage.ErrNil) {
		return models.RideStatus{}, fmt.Errorf("ride %s: %w", rideID, apperr.ErrNotFound)
	}
	if err != nil {
		return models.RideStatus{}, fmt.Errorf("load ride %s: %w", rideID, err)
	}
	var ride models.RideStatus
	if err := json.Unmarshal([]byte(raw), &ride); err != nil {
		m.logger.Warn("undecodable ride record", "ride_id", rideID, "error", err)
		return models.RideStatus{}, fmt.Errorf("ride %s: %w", rideID, apperr.ErrNotFound)
	}
	return ride, nil
}

// Transition moves a ride to the next status. Only status and UpdatedAt
// change; concurrent transitions on the same ride are serialized by the
// store.
func (m *Manager) Transition(ctx context.Context, rideID string, next models.Status) (models.RideStatus, error) {
	if !next.Valid() {
		return models.RideStatus{}, &apperr.ValidationError{Fields: []string{"status"}}
	}
	var updated models.RideStatus
	err := m.store.HUpdate(ctx, m.hashKey, rideID, func(cur string, found bool) (string, error) {
		if !found {
			return "", fmt.Errorf("ride %s: %w", rideID, apperr.ErrNotFound)
		}
		var ride models.RideStatus
		if err := json.Unmarshal([]byte(cur), &ride); err != nil {
			return "", fmt.Errorf("ride %s: %w", rideID, apperr.ErrNotFound)
		}
		if !models.CanTransition(ride.Status, next) {
			return "", fmt.Errorf("%s -> %s: %w", ride.Status, next, apperr.ErrInvalidTransition)
		}
		ride.Status = next
		ride.UpdatedAt = m.now().UTC()
		b, err := json.Marshal(ride)
		if err != nil {
			return "", fmt.Errorf("encode ride: %w", err)
		}
		updated = ride
		return string(b), nil
	})
	if err != nil {
		return models.RideStatus{}, err
	}
	if m.archive != nil {
		if err := m.archive.UpdateRide(ctx, updated); err != nil {
			m.logger.Warn("ride archive update failed", "ride_id", rideID, "error", err)
		}
	}
	return updated, nil
}
