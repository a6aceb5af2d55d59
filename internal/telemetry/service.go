package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/couchcryptid/weather-telemetry-api/internal/domain"
	"github.com/couchcryptid/weather-telemetry-api/internal/observability"
)

const (
	defaultDeviceSince   = 24 * time.Hour
	defaultAverageWindow = 12 * time.Hour
)

// Executor runs a read statement and returns its rows.
type Executor interface {
	Run(ctx context.Context, query string, args ...any) ([]domain.Row, error)
}

// Service answers telemetry queries: it picks the statement, runs it, and
// decodes the rows. Storage failures surface as *domain.StorageError; every
// other failure mode degrades to an empty or partial result.
type Service struct {
	exec    Executor
	decoder *domain.Decoder
	locator *domain.Locator
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewService creates a Service. locator may be nil when enrichment is disabled.
func NewService(exec Executor, decoder *domain.Decoder, locator *domain.Locator, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{
		exec:    exec,
		decoder: decoder,
		locator: locator,
		metrics: metrics,
		logger:  logger,
	}
}

// EnrichmentEnabled reports whether city lookups are available.
func (s *Service) EnrichmentEnabled() bool {
	return s.locator.Enabled()
}

// WindowPoints returns the points inside a preset window.
func (s *Service) WindowPoints(ctx context.Context, w Window) ([]domain.WeatherPoint, error) {
	r, err := w.Range(clock.Now())
	if err != nil {
		return nil, err
	}
	return s.RangePoints(ctx, r)
}

// RangePoints returns the points inside r, oldest first.
func (s *Service) RangePoints(ctx context.Context, r TimeRange) ([]domain.WeatherPoint, error) {
	return s.points(ctx, queryPointsBetween, r.From, r.To)
}

// PointsOnDate returns the points recorded on the UTC calendar day of date.
func (s *Service) PointsOnDate(ctx context.Context, date time.Time) ([]domain.WeatherPoint, error) {
	return s.RangePoints(ctx, DayRange(date))
}

// PointsAt returns the points recorded at exactly ts.
func (s *Service) PointsAt(ctx context.Context, ts time.Time) ([]domain.WeatherPoint, error) {
	return s.points(ctx, queryPointsAt, ts.UTC())
}

// PointsSince returns the points from since through now.
func (s *Service) PointsSince(ctx context.Context, since time.Time) ([]domain.WeatherPoint, error) {
	return s.RangePoints(ctx, TimeRange{From: since.UTC(), To: clock.Now().UTC()})
}

// Latest returns the most recently stored point, if any.
func (s *Service) Latest(ctx context.Context) ([]domain.WeatherPoint, error) {
	return s.points(ctx, queryLatest)
}

// Roster fetches the current device roster.
func (s *Service) Roster(ctx context.Context) (domain.DeviceRoster, error) {
	ids, err := s.distinct(ctx, queryDistinctDevices)
	if err != nil {
		return nil, err
	}
	return domain.NewDeviceRoster(ids), nil
}

// Gateways lists distinct gateway ids in ascending order.
func (s *Service) Gateways(ctx context.Context) ([]string, error) {
	return s.sortedDistinct(ctx, queryDistinctGateways)
}

// Applications lists distinct application ids in ascending order.
func (s *Service) Applications(ctx context.Context) ([]string, error) {
	return s.sortedDistinct(ctx, queryDistinctApplications)
}

// ResolveDevice maps an ordinal to a device id against a freshly fetched
// roster. The result is meant to be threaded through the rest of the request
// so the ordinal is resolved only once.
func (s *Service) ResolveDevice(ctx context.Context, ordinal int) (string, error) {
	roster, err := s.Roster(ctx)
	if err != nil {
		return "", err
	}
	id, err := domain.ResolveDevice(ordinal, roster)
	if err != nil {
		s.metrics.DevicesResolved.WithLabelValues("out_of_range").Inc()
		s.logger.Debug("device ordinal out of range", "ordinal", ordinal, "roster_size", len(roster))
		return "", err
	}
	s.metrics.DevicesResolved.WithLabelValues("found").Inc()
	return id, nil
}

// DevicePoints returns a device's points from since (default: last 24h)
// through now. An out-of-range ordinal yields an empty result.
func (s *Service) DevicePoints(ctx context.Context, ordinal int, since *time.Time) ([]domain.WeatherPoint, error) {
	device, err := s.ResolveDevice(ctx, ordinal)
	if errors.Is(err, domain.ErrOutOfRange) {
		return []domain.WeatherPoint{}, nil
	}
	if err != nil {
		return nil, err
	}

	now := clock.Now().UTC()
	from := now.Add(-defaultDeviceSince)
	if since != nil {
		from = since.UTC()
	}
	return s.points(ctx, queryDevicePointsBetween, device, from, now)
}

// DeviceLatest returns a device's most recent point.
func (s *Service) DeviceLatest(ctx context.Context, ordinal int) ([]domain.WeatherPoint, error) {
	device, err := s.ResolveDevice(ctx, ordinal)
	if errors.Is(err, domain.ErrOutOfRange) {
		return []domain.WeatherPoint{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.points(ctx, queryDeviceLatest, device)
}

// AverageTemperature returns a device's mean temperature over [since, until]
// keyed by device id. since defaults to 12h ago and until to now. The map is
// empty when the ordinal is out of range or there are no readings.
func (s *Service) AverageTemperature(ctx context.Context, ordinal int, since, until *time.Time) (map[string]float64, error) {
	out := map[string]float64{}
	device, err := s.ResolveDevice(ctx, ordinal)
	if errors.Is(err, domain.ErrOutOfRange) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	now := clock.Now().UTC()
	r := TimeRange{From: now.Add(-defaultAverageWindow), To: now}
	if since != nil {
		r.From = since.UTC()
	}
	if until != nil {
		r.To = until.UTC()
	}

	rows, err := s.run(ctx, queryAverageTemperature, device, r.From, r.To)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return out, nil
	}
	avg, err := domain.OptionalFloat64Value(rows[0], "average")
	if err != nil {
		s.logger.Warn("unreadable temperature average", "device", device, "error", err)
		return out, nil
	}
	if avg != nil {
		out[device] = *avg
	}
	return out, nil
}

// DeviceCity resolves a device's latest position to a city, keyed by device
// id. The map is empty when enrichment is disabled, the ordinal is out of
// range, or the city cannot be resolved.
func (s *Service) DeviceCity(ctx context.Context, ordinal int) (map[string]string, error) {
	out := map[string]string{}
	if !s.locator.Enabled() {
		return out, nil
	}
	device, err := s.ResolveDevice(ctx, ordinal)
	if errors.Is(err, domain.ErrOutOfRange) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	locations, err := s.locations(ctx, queryDeviceLocation, device)
	if err != nil {
		return nil, err
	}
	return s.locator.CitiesFor(ctx, locations), nil
}

// DeviceCities resolves every device's latest position to a city. Devices
// whose lookup fails are omitted.
func (s *Service) DeviceCities(ctx context.Context) (map[string]string, error) {
	if !s.locator.Enabled() {
		return map[string]string{}, nil
	}
	locations, err := s.locations(ctx, queryDeviceLocations)
	if err != nil {
		return nil, err
	}
	return s.locator.CitiesFor(ctx, locations), nil
}

// EnrichCities sets the city name on each point where it can be resolved.
func (s *Service) EnrichCities(ctx context.Context, points []domain.WeatherPoint) []domain.WeatherPoint {
	return s.locator.EnrichAll(ctx, points)
}

func (s *Service) points(ctx context.Context, query string, args ...any) ([]domain.WeatherPoint, error) {
	rows, err := s.run(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return s.decode(rows), nil
}

// decode converts rows to points, dropping and recording the rows that fail.
func (s *Service) decode(rows []domain.Row) []domain.WeatherPoint {
	batch := s.decoder.DecodeBatch(rows)
	s.metrics.RowsDecoded.Add(float64(len(batch.Points)))
	for _, f := range batch.Failures {
		kind := domain.FailureKind(f.Err)
		s.metrics.DecodeFailures.WithLabelValues(kind).Inc()
		s.logger.Warn("row dropped", "index", f.Index, "kind", kind, "error", f.Err)
	}
	return batch.Points
}

func (s *Service) run(ctx context.Context, query string, args ...any) ([]domain.Row, error) {
	rows, err := s.exec.Run(ctx, query, args...)
	if err != nil {
		s.logger.Error("storage query failed", "error", err)
		return nil, err
	}
	return rows, nil
}

func (s *Service) distinct(ctx context.Context, query string) ([]string, error) {
	rows, err := s.run(ctx, query)
	if err != nil {
		return nil, err
	}
	values := make([]string, 0, len(rows))
	for i, row := range rows {
		v, err := domain.StringValue(row, "value")
		if err != nil {
			s.logger.Warn("distinct value dropped", "index", i, "error", err)
			continue
		}
		values = append(values, v)
	}
	return values, nil
}

func (s *Service) sortedDistinct(ctx context.Context, query string) ([]string, error) {
	values, err := s.distinct(ctx, query)
	if err != nil {
		return nil, err
	}
	sort.Strings(values)
	return values, nil
}

func (s *Service) locations(ctx context.Context, query string, args ...any) ([]domain.DeviceLocation, error) {
	rows, err := s.run(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DeviceLocation, 0, len(rows))
	for i, row := range rows {
		loc, err := domain.DecodeDeviceLocation(row)
		if err != nil {
			s.logger.Warn("device location dropped", "index", i, "error", fmt.Errorf("decode: %w", err))
			continue
		}
		out = append(out, loc)
	}
	return out, nil
}
