package googlemaps

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/couchcryptid/weather-telemetry-api/internal/domain"
	"github.com/couchcryptid/weather-telemetry-api/internal/observability"
)

// CachedGeocoder wraps a Geocoder with two caches keyed by the coordinate
// rounded to six decimals. Sensors are mostly stationary, so the same
// coordinate is looked up on nearly every request.
//
// Resolved addresses are kept until evicted. Coordinates the provider has no
// address for (ZERO_RESULTS) are remembered for negativeTTL so an offshore or
// rural sensor does not cost one provider call per request. Errors are never
// cached.
type CachedGeocoder struct {
	inner    domain.Geocoder
	found    *lru.Cache[string, domain.GeocodingResult]
	notFound *expirable.LRU[string, struct{}]
	metrics  *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator around a geocoder. maxEntries
// bounds each cache separately.
func NewCachedGeocoder(inner domain.Geocoder, maxEntries int, negativeTTL time.Duration, metrics *observability.Metrics) (*CachedGeocoder, error) {
	found, err := lru.New[string, domain.GeocodingResult](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("geocode cache: %w", err)
	}
	return &CachedGeocoder{
		inner:    inner,
		found:    found,
		notFound: expirable.NewLRU[string, struct{}](maxEntries, nil, negativeTTL),
		metrics:  metrics,
	}, nil
}

func (c *CachedGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	key := cacheKey(lat, lon)
	if result, ok := c.found.Get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("hit").Inc()
		return result, nil
	}
	if _, ok := c.notFound.Get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("negative_hit").Inc()
		return domain.GeocodingResult{}, nil
	}
	c.metrics.GeocodeCache.WithLabelValues("miss").Inc()

	result, err := c.inner.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		return result, err
	}
	if len(result.Components) == 0 {
		c.notFound.Add(key, struct{}{})
		return result, nil
	}
	c.found.Add(key, result)
	return result, nil
}

func cacheKey(lat, lon float64) string {
	return fmt.Sprintf("rev:%.6f,%.6f", lat, lon)
}
