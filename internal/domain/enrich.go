package domain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Locator resolves coordinates to city names. A nil *Locator means location
// enrichment is disabled; check Enabled before calling anything else.
type Locator struct {
	geocoder    Geocoder
	extractor   CityExtractor
	concurrency int
	logger      *slog.Logger
}

// NewLocator creates a Locator. concurrency bounds in-flight provider calls
// for the batch methods.
func NewLocator(geocoder Geocoder, extractor CityExtractor, concurrency int, logger *slog.Logger) *Locator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Locator{
		geocoder:    geocoder,
		extractor:   extractor,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Enabled reports whether enrichment is configured.
func (l *Locator) Enabled() bool {
	return l != nil && l.geocoder != nil
}

// CityFor returns the city name for a coordinate. Every failure, including a
// disabled locator, wraps ErrEnrichmentUnavailable.
func (l *Locator) CityFor(ctx context.Context, lat, lon float64) (string, error) {
	if !l.Enabled() {
		return "", ErrEnrichmentUnavailable
	}
	result, err := l.geocoder.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEnrichmentUnavailable, err)
	}
	city, ok := l.extractor.ExtractCity(result)
	if !ok {
		return "", fmt.Errorf("%w: no city component in %d address components", ErrEnrichmentUnavailable, len(result.Components))
	}
	return city, nil
}

// Enrich returns the point with its city name set, or unchanged if the city
// cannot be resolved.
func (l *Locator) Enrich(ctx context.Context, p WeatherPoint) WeatherPoint {
	city, err := l.CityFor(ctx, p.Positional.Latitude, p.Positional.Longitude)
	if err != nil {
		if l.Enabled() {
			l.logger.Warn("location enrichment failed",
				"device", p.Metadata.DeviceID,
				"lat", p.Positional.Latitude,
				"lon", p.Positional.Longitude,
				"error", err,
			)
		}
		return p
	}
	return p.WithCity(city)
}

// EnrichAll enriches points concurrently. Each point fails independently and
// output order matches input order.
func (l *Locator) EnrichAll(ctx context.Context, points []WeatherPoint) []WeatherPoint {
	out := make([]WeatherPoint, len(points))
	copy(out, points)
	if !l.Enabled() {
		return out
	}

	var g errgroup.Group
	g.SetLimit(l.concurrency)
	for i := range out {
		g.Go(func() error {
			out[i] = l.Enrich(ctx, out[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// CitiesFor resolves each device location to a city, keyed by device id.
// Devices whose city cannot be resolved are omitted.
func (l *Locator) CitiesFor(ctx context.Context, locations []DeviceLocation) map[string]string {
	cities := make(map[string]string, len(locations))
	if !l.Enabled() {
		return cities
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(l.concurrency)
	for _, loc := range locations {
		g.Go(func() error {
			city, err := l.CityFor(ctx, loc.Latitude, loc.Longitude)
			if err != nil {
				l.logger.Warn("device location lookup failed", "device", loc.DeviceID, "error", err)
				return nil
			}
			mu.Lock()
			cities[loc.DeviceID] = city
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return cities
}
