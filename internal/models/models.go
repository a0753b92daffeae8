package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RideRequest is the inbound request body for a new ride.
type RideRequest struct {
	RiderID         string  `json:"requesterId" validate:"required,max=128"`
	PickupLatitude  float64 `json:"pickupLatitude" validate:"latitude"`
	PickupLongitude float64 `json:"pickupLongitude" validate:"longitude"`
}

func (r RideRequest) Pickup() Coord {
	return Coord{Lat: r.PickupLatitude, Lon: r.PickupLongitude}
}

// UserLocation is the cached pickup location for a rider. Payload holds the
// geocoder response as returned by the provider.
type UserLocation struct {
	Latitude   float64         `json:"latitude"`
	Longitude  float64         `json:"longitude"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ResolvedAt time.Time       `json:"resolvedAt"`
}

type Status string

const (
	StatusPending   Status = "Pending"
	StatusAccepted  Status = "Accepted"
	StatusEnRoute   Status = "EnRoute"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

var allowedTransitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusCancelled},
	StatusAccepted: {StatusEnRoute, StatusCancelled},
	StatusEnRoute:  {StatusCompleted, StatusCancelled},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusEnRoute, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether a ride may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RideStatus is the persisted ride record. RideID and RiderID never change
// after creation.
type RideStatus struct {
	RideID    string    `json:"rideId"`
	RiderID   string    `json:"riderId"`
	DriverID  string    `json:"driverId"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Outcome string

const (
	OutcomeMatched   Outcome = "matched"
	OutcomeNoDrivers Outcome = "no_drivers"
)

type MatchResult struct {
	Outcome         Outcome         `json:"outcome"`
	RideID          string          `json:"rideId,omitempty"`
	DriverID        string          `json:"driverId,omitempty"`
	Region          string          `json:"region,omitempty"`
	Fare            decimal.Decimal `json:"fare"`
	SurgeMultiplier decimal.Decimal `json:"surgeMultiplier"`
}

const EventRideUpdate = "ReceiveRideUpdate"

// RideEvent is the payload pushed to real-time subscribers and event sinks.
type RideEvent struct {
	Event  string    `json:"event"`
	RideID string    `json:"rideId"`
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}
