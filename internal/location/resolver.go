package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-matchmaking/internal/apperr"
	"github.com/example/ride-matchmaking/internal/models"
	"github.com/example/ride-matchmaking/internal/storage"
)

const (
	DefaultCacheTTL       = 5 * time.Minute
	DefaultGeocodeTimeout = 2 * time.Second
)

// Geocoder turns a coordinate into the provider's raw location payload.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (json.RawMessage, error)
}

// Cache is the TTL key/value surface of the state store.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type Resolver struct {
	cache    Cache
	geocoder Geocoder
	ttl      time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewResolver builds a resolver. geocoder may be nil, in which case misses
// cache the supplied coordinates without a provider payload.
func NewResolver(cache Cache, geocoder Geocoder, ttl, timeout time.Duration, logger *slog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if timeout <= 0 {
		timeout = DefaultGeocodeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cache: cache, geocoder: geocoder, ttl: ttl, timeout: timeout, logger: logger, now: time.Now}
}

func cacheKey(riderID string) string { return fmt.Sprintf("rider:%s:location", riderID) }

// Resolve returns the cached location for the rider when one is live.
// Otherwise it geocodes the fallback point, caches the result for later
// requests and returns the fallback point itself. A geocoder failure returns
// the fallback point together with an ErrUpstreamUnavailable error.
func (r *Resolver) Resolve(ctx context.Context, riderID string, lat, lon float64) (models.Coord, error) {
	fallback := models.Coord{Lat: lat, Lon: lon}
	key := cacheKey(riderID)

	raw, err := r.cache.Get(ctx, key)
	switch {
	case err == nil:
		var loc models.UserLocation
		jerr := json.Unmarshal([]byte(raw), &loc)
		if jerr == nil {
			return models.Coord{Lat: loc.Latitude, Lon: loc.Longitude}, nil
		}
		r.logger.Warn("discarding undecodable cached location", "rider_id", riderID, "error", jerr)
	case errors.Is(err, storage.ErrNil):
		// miss
	default:
		return fallback, fmt.Errorf("read cached location: %w", err)
	}

	loc := models.UserLocation{Latitude: lat, Longitude: lon, ResolvedAt: r.now().UTC()}
	if r.geocoder != nil {
		gctx, cancel := context.WithTimeout(ctx, r.timeout)
		payload, gerr := r.geocoder.ReverseGeocode(gctx, lat, lon)
		cancel()
		if gerr != nil {
			return fallback, apperr.UpstreamUnavailable("reverse geocode", gerr)
		}
		loc.Payload = payload
	}

	b, err := json.Marshal(loc)
	if err != nil {
		return fallback, fmt.Errorf("encode location: %w", err)
	}
	if err := r.cache.Set(ctx, key, string(b), r.ttl); err != nil {
		return fallback, fmt.Errorf("cache location: %w", err)
	}
	return fallback, nil
}
