package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/ride-matchmaking/internal/apperr"
	"github.com/example/ride-matchmaking/internal/models"
	"github.com/example/ride-matchmaking/internal/observability"
	"github.com/example/ride-matchmaking/internal/pricing"
)

const (
	defaultFinalizeTimeout = 2 * time.Second
	releaseTimeout         = 500 * time.Millisecond
)

type Resolver interface {
	Resolve(ctx context.Context, riderID string, lat, lon float64) (models.Coord, error)
}

type Locator interface {
	FindNearby(ctx context.Context, lat, lon, radiusMeters float64, maxResults int) ([]string, error)
}

// Claimer guards a driver against being matched to two riders at once. A
// claim expires unless Hold pins it for the lifetime of the ride.
type Claimer interface {
	Claim(ctx context.Context, driverID, riderID string) (bool, error)
	Hold(ctx context.Context, driverID, riderID string) (bool, error)
	Release(ctx context.Context, driverID, riderID string) error
}

type Pricer interface {
	PriceFor(ctx context.Context, region string) (pricing.Quote, error)
}

type RideStore interface {
	Create(ctx context.Context, riderID, driverID string) (models.RideStatus, error)
	Get(ctx context.Context, rideID string) (models.RideStatus, error)
	Transition(ctx context.Context, rideID string, next models.Status) (models.RideStatus, error)
}

type Notifier interface {
	Broadcast(ctx context.Context, rideID string, status models.Status)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Service sequences a ride request through location resolution, driver
// lookup and claim, pricing, persistence and notification. Claims is
// optional; without it the nearest driver is taken unconditionally.
type Service struct {
	Resolver Resolver
	Locator  Locator
	Claims   Claimer
	Pricing  Pricer
	Rides    RideStore
	Notifier Notifier
	Logger   *slog.Logger

	RadiusMeters    float64
	MaxResults      int
	FinalizeTimeout time.Duration
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) finalizeTimeout() time.Duration {
	if s.FinalizeTimeout <= 0 {
		return defaultFinalizeTimeout
	}
	return s.FinalizeTimeout
}

func validateRequest(req *models.RideRequest) error {
	req.RiderID = strings.TrimSpace(req.RiderID)
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &apperr.ValidationError{}
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return &apperr.ValidationError{Fields: fields}
}

// RequestRide matches the rider with the nearest claimable driver. No
// driver in range is reported as OutcomeNoDrivers with a nil error. Once a
// driver is priced, persistence and notification run detached from ctx so
// a departing caller cannot leave a claimed driver without a ride.
func (s *Service) RequestRide(ctx context.Context, req models.RideRequest) (models.MatchResult, error) {
	start := time.Now()
	defer func() { observability.MatchLatency.Observe(time.Since(start).Seconds()) }()

	if err := validateRequest(&req); err != nil {
		return models.MatchResult{}, err
	}
	logger := s.logger().With("rider_id", req.RiderID)

	pickup, err := s.Resolver.Resolve(ctx, req.RiderID, req.PickupLatitude, req.PickupLongitude)
	if err != nil {
		if !errors.Is(err, apperr.ErrUpstreamUnavailable) {
			return models.MatchResult{}, fmt.Errorf("resolve location: %w", err)
		}
		observability.GeocodeFallbacks.Inc()
		logger.Warn("geocode failed, using request coordinates", "error", err)
		pickup = req.Pickup()
	}

	candidates, err := s.Locator.FindNearby(ctx, pickup.Lat, pickup.Lon, s.RadiusMeters, s.MaxResults)
	if err != nil {
		return models.MatchResult{}, err
	}
	driverID, err := s.selectDriver(ctx, candidates, req.RiderID)
	if err != nil {
		return models.MatchResult{}, err
	}
	if driverID == "" {
		observability.NoSupplyTotal.Inc()
		logger.Info("no nearby drivers", "candidates", len(candidates))
		return models.MatchResult{Outcome: models.OutcomeNoDrivers}, nil
	}

	region := pricing.RegionKey(pickup.Lat, pickup.Lon)
	quote, err := s.Pricing.PriceFor(ctx, region)
	if err != nil {
		s.release(ctx, driverID, req.RiderID)
		return models.MatchResult{}, fmt.Errorf("price ride: %w", err)
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.finalizeTimeout())
	defer cancel()
	ride, err := s.Rides.Create(fctx, req.RiderID, driverID)
	if err != nil {
		s.release(fctx, driverID, req.RiderID)
		return models.MatchResult{}, err
	}
	s.hold(fctx, driverID, req.RiderID)
	s.Notifier.Broadcast(fctx, ride.RideID, ride.Status)

	observability.MatchesTotal.Inc()
	observability.SurgeMultiplier.Observe(quote.Multiplier.InexactFloat64())
	logger.Info("ride matched",
		"ride_id", ride.RideID,
		"driver_id", driverID,
		"region", region,
		"demand", quote.Demand,
		"supply", quote.Supply,
		"multiplier", quote.Multiplier.String(),
		"fare", quote.Fare.String(),
	)
	return models.MatchResult{
		Outcome:         models.OutcomeMatched,
		RideID:          ride.RideID,
		DriverID:        driverID,
		Region:          region,
		Fare:            quote.Fare,
		SurgeMultiplier: quote.Multiplier,
	}, nil
}

// selectDriver returns the nearest candidate that could be claimed, or ""
// when every candidate is taken.
func (s *Service) selectDriver(ctx context.Context, candidates []string, riderID string) (string, error) {
	if len(candidates) == 0 {
		return "", nil
	}
	if s.Claims == nil {
		return candidates[0], nil
	}
	for _, id := range candidates {
		ok, err := s.Claims.Claim(ctx, id, riderID)
		if err != nil {
			return "", err
		}
		if ok {
			return id, nil
		}
		observability.ClaimConflicts.Inc()
	}
	return "", nil
}

// hold keeps the driver's lease alive until the ride reaches a terminal
// status. A lost lease is logged; the ride itself stands.
func (s *Service) hold(ctx context.Context, driverID, riderID string) {
	if s.Claims == nil {
		return
	}
	ok, err := s.Claims.Hold(ctx, driverID, riderID)
	switch {
	case err != nil:
		s.logger().Warn("driver lease hold failed", "driver_id", driverID, "rider_id", riderID, "error", err)
	case !ok:
		s.logger().Warn("driver lease lost before hold", "driver_id", driverID, "rider_id", riderID)
	}
}

func (s *Service) release(ctx context.Context, driverID, riderID string) {
	if s.Claims == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.Claims.Release(rctx, driverID, riderID); err != nil {
		s.logger().Warn("driver lease release failed", "driver_id", driverID, "rider_id", riderID, "error", err)
	}
}

func (s *Service) GetRide(ctx context.Context, rideID string) (models.RideStatus, error) {
	return s.Rides.Get(ctx, rideID)
}

// Transition advances a ride and broadcasts the new status. The driver's
// lease is re-held while the ride is active and freed once it is over.
func (s *Service) Transition(ctx context.Context, rideID string, next models.Status) (models.RideStatus, error) {
	ride, err := s.Rides.Transition(ctx, rideID, next)
	if err != nil {
		return models.RideStatus{}, err
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.finalizeTimeout())
	defer cancel()
	s.Notifier.Broadcast(fctx, ride.RideID, ride.Status)
	if ride.Status.Terminal() {
		s.release(fctx, ride.DriverID, ride.RiderID)
	} else {
		s.hold(fctx, ride.DriverID, ride.RiderID)
	}
	s.logger().Info("ride status changed", "ride_id", ride.RideID, "status", ride.Status)
	return ride, nil
}
