package location

import (
	"context"
	"encoding/json"
	"fmt"

	"googlemaps.github.io/maps"
)

// GoogleGeocoder reverse geocodes through the Google Maps Geocoding API.
type GoogleGeocoder struct {
	client *maps.Client
}

func NewGoogleGeocoder(apiKey string, opts ...maps.ClientOption) (*GoogleGeocoder, error) {
	opts = append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)
	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleGeocoder{client: client}, nil
}

// ReverseGeocode returns the provider results re-encoded as JSON. The
// payload is stored as-is; nothing downstream parses it.
func (g *GoogleGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (json.RawMessage, error) {
	res, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: lat, Lng: lon},
	})
	if err != nil {
		return nil, fmt.Errorf("maps api error: %w", err)
	}
	b, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode geocode result: %w", err)
	}
	return b, nil
}
