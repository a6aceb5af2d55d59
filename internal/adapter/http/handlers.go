package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/weather-telemetry-api/internal/domain"
	"github.com/couchcryptid/weather-telemetry-api/internal/telemetry"
)

// Queries is the read side the handlers need. *telemetry.Service implements it.
type Queries interface {
	WindowPoints(ctx context.Context, w telemetry.Window) ([]domain.WeatherPoint, error)
	PointsOnDate(ctx context.Context, date time.Time) ([]domain.WeatherPoint, error)
	PointsAt(ctx context.Context, ts time.Time) ([]domain.WeatherPoint, error)
	PointsSince(ctx context.Context, since time.Time) ([]domain.WeatherPoint, error)
	Latest(ctx context.Context) ([]domain.WeatherPoint, error)
	Roster(ctx context.Context) (domain.DeviceRoster, error)
	Gateways(ctx context.Context) ([]string, error)
	Applications(ctx context.Context) ([]string, error)
	DevicePoints(ctx context.Context, ordinal int, since *time.Time) ([]domain.WeatherPoint, error)
	DeviceLatest(ctx context.Context, ordinal int) ([]domain.WeatherPoint, error)
	AverageTemperature(ctx context.Context, ordinal int, since, until *time.Time) (map[string]float64, error)
	DeviceCity(ctx context.Context, ordinal int) (map[string]string, error)
	DeviceCities(ctx context.Context) (map[string]string, error)
	EnrichCities(ctx context.Context, points []domain.WeatherPoint) []domain.WeatherPoint
	EnrichmentEnabled() bool
}

// timeLayouts are tried in order for path and query timestamps. Values
// without a zone are UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func (s *Server) handleWindow(w telemetry.Window) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		points, err := s.queries.WindowPoints(r.Context(), w)
		s.writePoints(rw, r, points, err)
	}
}

func (s *Server) handleOnDate(w http.ResponseWriter, r *http.Request) {
	date, ok := s.pathTime(w, r, "date")
	if !ok {
		return
	}
	points, err := s.queries.PointsOnDate(r.Context(), date)
	s.writePoints(w, r, points, err)
}

func (s *Server) handleOnTimestamp(w http.ResponseWriter, r *http.Request) {
	ts, ok := s.pathTime(w, r, "timestamp")
	if !ok {
		return
	}
	points, err := s.queries.PointsAt(r.Context(), ts)
	s.writePoints(w, r, points, err)
}

func (s *Server) handleSince(w http.ResponseWriter, r *http.Request) {
	ts, ok := s.pathTime(w, r, "timestamp")
	if !ok {
		return
	}
	points, err := s.queries.PointsSince(r.Context(), ts)
	s.writePoints(w, r, points, err)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	points, err := s.queries.Latest(r.Context())
	s.writePoints(w, r, points, err)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	roster, err := s.queries.Roster(r.Context())
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, roster.Ordinals())
}

func (s *Server) handleListing(list func(context.Context) ([]string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		values, err := list(r.Context())
		if err != nil {
			s.writeStorageError(w, err)
			return
		}
		out := make(map[int]string, len(values))
		for i, v := range values {
			out[i] = v
		}
		sharedobs.WriteJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleDevicePoints(w http.ResponseWriter, r *http.Request) {
	ordinal, ok := s.pathOrdinal(w, r)
	if !ok {
		return
	}
	since, ok := s.queryTime(w, r, "since")
	if !ok {
		return
	}
	points, err := s.queries.DevicePoints(r.Context(), ordinal, since)
	s.writePoints(w, r, points, err)
}

func (s *Server) handleDeviceLatest(w http.ResponseWriter, r *http.Request) {
	ordinal, ok := s.pathOrdinal(w, r)
	if !ok {
		return
	}
	points, err := s.queries.DeviceLatest(r.Context(), ordinal)
	s.writePoints(w, r, points, err)
}

func (s *Server) handleAverageTemp(w http.ResponseWriter, r *http.Request) {
	ordinal, ok := s.pathOrdinal(w, r)
	if !ok {
		return
	}
	since, ok := s.queryTime(w, r, "since")
	if !ok {
		return
	}
	until, ok := s.queryTime(w, r, "until")
	if !ok {
		return
	}
	avg, err := s.queries.AverageTemperature(r.Context(), ordinal, since, until)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, avg)
}

func (s *Server) handleDeviceCity(w http.ResponseWriter, r *http.Request) {
	ordinal, ok := s.pathOrdinal(w, r)
	if !ok {
		return
	}
	cities, err := s.queries.DeviceCity(r.Context(), ordinal)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, cities)
}

func (s *Server) handleDeviceCities(w http.ResponseWriter, r *http.Request) {
	cities, err := s.queries.DeviceCities(r.Context())
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, cities)
}

// writePoints writes a point list, enriching it first when ?city=true.
func (s *Server) writePoints(w http.ResponseWriter, r *http.Request, points []domain.WeatherPoint, err error) {
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	if points == nil {
		points = []domain.WeatherPoint{}
	}
	if wantCity, _ := strconv.ParseBool(r.URL.Query().Get("city")); wantCity && s.queries.EnrichmentEnabled() {
		points = s.queries.EnrichCities(r.Context(), points)
	}
	sharedobs.WriteJSON(w, http.StatusOK, points)
}

// writeStorageError maps a query failure to a response. The diagnostic was
// already logged by the query layer and is not leaked to clients.
func (s *Server) writeStorageError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrStorage) {
		sharedobs.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "storage unavailable"})
		return
	}
	s.logger.Error("request failed", "error", err)
	sharedobs.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func (s *Server) pathOrdinal(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.PathValue("id")
	ordinal, err := strconv.Atoi(raw)
	if err != nil {
		sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid device id %q", raw)})
		return 0, false
	}
	return ordinal, true
}

func (s *Server) pathTime(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	t, err := parseTime(r.PathValue(name))
	if err != nil {
		sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid %s: %v", name, err)})
		return time.Time{}, false
	}
	return t, true
}

// queryTime reads an optional time query parameter. ok is false when a
// response has already been written.
func (s *Server) queryTime(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	t, err := parseTime(raw)
	if err != nil {
		sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid %s: %v", name, err)})
		return nil, false
	}
	return &t, true
}
