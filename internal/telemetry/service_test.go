package telemetry_test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-telemetry-api/internal/adapter/storage"
	"github.com/couchcryptid/weather-telemetry-api/internal/domain"
	"github.com/couchcryptid/weather-telemetry-api/internal/observability"
	"github.com/couchcryptid/weather-telemetry-api/internal/telemetry"
)

var testNow = time.Date(2023, time.January, 12, 14, 30, 0, 0, time.UTC)

var (
	enschede  = domain.Coordinates{Latitude: 52.2398, Longitude: 6.8502}
	delft     = domain.Coordinates{Latitude: 52.0116, Longitude: 4.3571}
	groningen = domain.Coordinates{Latitude: 53.2194, Longitude: 6.5665}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr[T any](v T) *T { return &v }

func lhtPoint(device string, ts time.Time, c domain.Coordinates, temp float32) domain.WeatherPoint {
	return domain.WeatherPoint{
		Metadata:   domain.Metadata{Timestamp: ts, DeviceID: device, ApplicationID: "weather-twente", GatewayID: "gw-campus"},
		Positional: domain.Positional{Latitude: c.Latitude, Longitude: c.Longitude},
		Sensor: domain.NewExtendedSensorReading(domain.ExtendedReading{
			Temperature: temp, Humidity: 81.5, LightLux: 120, BatteryStatus: 3, BatteryVoltage: 3.05, WorkMode: "IIC",
		}),
		Transmission: domain.TransmissionInfo{RSSI: -97, Snr: ptr(float32(7.25)), SpreadingFactor: 7, ConsumedAirtime: 0.06, Bandwidth: 125, Frequency: 868},
	}
}

func pyPoint(device string, ts time.Time, c domain.Coordinates, temp float32) domain.WeatherPoint {
	return domain.WeatherPoint{
		Metadata:   domain.Metadata{Timestamp: ts, DeviceID: device, ApplicationID: "weather-delft", GatewayID: "gw-delft"},
		Positional: domain.Positional{Latitude: c.Latitude, Longitude: c.Longitude, Altitude: ptr(2.5)},
		Sensor: domain.NewCompactSensorReading(domain.CompactReading{
			Temperature: temp, Pressure: 1013.5, LightLogScale: 4,
		}),
		Transmission: domain.TransmissionInfo{RSSI: -110, SpreadingFactor: 9, ConsumedAirtime: 0.2, Bandwidth: 125, Frequency: 868},
	}
}

type fixture struct {
	db      *sql.DB
	svc     *telemetry.Service
	metrics *observability.Metrics
	geo     *stubGeocoder
	points  map[string]domain.WeatherPoint
}

// newFixture stores, in insertion (id) order:
//
//	old     py-2   10 days ago
//	yday    lht-0  yesterday 10:00
//	early   lht-1  3h ago
//	delft   py-2   90m ago
//	broken  lht-1  20m ago, no sensor values
//	recent  lht-1  30m ago
func newFixture(t *testing.T, withLocator bool) *fixture {
	t.Helper()
	telemetry.SetClock(clockwork.NewFakeClockAt(testNow))
	t.Cleanup(func() { telemetry.SetClock(nil) })

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sql.Open("sqlite3", "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, storage.CreateSchema(ctx, db))

	points := map[string]domain.WeatherPoint{
		"old":    pyPoint("py-2", testNow.AddDate(0, 0, -10), delft, 9),
		"yday":   lhtPoint("lht-0", time.Date(2023, time.January, 11, 10, 0, 0, 0, time.UTC), groningen, 5),
		"early":  lhtPoint("lht-1", testNow.Add(-3*time.Hour), enschede, 20),
		"delft":  pyPoint("py-2", testNow.Add(-90*time.Minute), delft, 11),
		"recent": lhtPoint("lht-1", testNow.Add(-30*time.Minute), enschede, 22),
	}
	for _, key := range []string{"old", "yday", "early", "delft"} {
		require.NoError(t, storage.InsertPoint(ctx, db, points[key]))
	}
	broken := lhtPoint("lht-1", testNow.Add(-20*time.Minute), enschede, 0)
	broken.Sensor = domain.SensorReading{}
	require.NoError(t, storage.InsertPoint(ctx, db, broken))
	require.NoError(t, storage.InsertPoint(ctx, db, points["recent"]))

	m := observability.NewMetricsForTesting()
	exec := storage.NewExecutor(db, "sqlite3", time.Second, testLogger(), m)
	geo := &stubGeocoder{results: map[domain.Coordinates]domain.GeocodingResult{
		enschede:  cityResult("Enschede"),
		delft:     cityResult("Delft"),
		groningen: cityResult("Groningen Centrum"),
	}}

	var locator *domain.Locator
	if withLocator {
		locator = domain.NewLocator(geo, domain.ComponentAtIndex{Index: domain.DefaultCityComponentIndex}, 4, testLogger())
	}
	svc := telemetry.NewService(exec, domain.NewDecoder(domain.PolicyExtended, 2), locator, m, testLogger())

	return &fixture{db: db, svc: svc, metrics: m, geo: geo, points: points}
}

func cityResult(city string) domain.GeocodingResult {
	return domain.GeocodingResult{Components: []domain.AddressComponent{
		{ShortName: "1"}, {ShortName: "Street"}, {ShortName: "District"}, {ShortName: city}, {ShortName: "NL"},
	}}
}

type stubGeocoder struct {
	mu      sync.Mutex
	calls   int
	results map[domain.Coordinates]domain.GeocodingResult
	fail    map[domain.Coordinates]bool
}

func (g *stubGeocoder) ReverseGeocode(_ context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	c := domain.Coordinates{Latitude: lat, Longitude: lon}
	if g.fail[c] {
		return domain.GeocodingResult{}, errors.New("OVER_QUERY_LIMIT")
	}
	return g.results[c], nil
}

func devices(points []domain.WeatherPoint) []string {
	out := make([]string, 0, len(points))
	for _, p := range points {
		out = append(out, p.Metadata.DeviceID)
	}
	return out
}

func TestService_WindowPoints(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	tests := []struct {
		window telemetry.Window
		want   []string
	}{
		{telemetry.WindowRecent, []string{"py-2", "lht-1"}},
		{telemetry.WindowHour, []string{"lht-1"}},
		{telemetry.WindowToday, []string{"lht-1", "py-2", "lht-1"}},
		{telemetry.WindowYesterday, []string{"lht-0"}},
		{telemetry.WindowWeek, []string{"lht-0", "lht-1", "py-2", "lht-1"}},
		{telemetry.WindowFortnight, []string{"py-2", "lht-0", "lht-1", "py-2", "lht-1"}},
		{telemetry.WindowYear, []string{"py-2", "lht-0", "lht-1", "py-2", "lht-1"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.window), func(t *testing.T) {
			got, err := f.svc.WindowPoints(ctx, tt.window)
			require.NoError(t, err)
			assert.Equal(t, tt.want, devices(got))
		})
	}
}

func TestService_DecodedPointRoundTrips(t *testing.T) {
	f := newFixture(t, false)

	got, err := f.svc.WindowPoints(context.Background(), telemetry.WindowRecent)
	require.NoError(t, err)
	require.Len(t, got, 2)

	want := []domain.WeatherPoint{f.points["delft"], f.points["recent"]}
	// Sensor values go through REAL columns; compare float32 fields loosely.
	opt := cmp.Comparer(func(a, b float32) bool {
		d := a - b
		return d < 1e-4 && d > -1e-4
	})
	if diff := cmp.Diff(want, got, opt); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, got[1].Positional.Altitude, "null altitude should stay unset")
	assert.Nil(t, got[0].Transmission.Snr, "null snr should stay unset")
}

func TestService_MalformedRowDropped(t *testing.T) {
	f := newFixture(t, false)

	got, err := f.svc.WindowPoints(context.Background(), telemetry.WindowToday)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DecodeFailures.WithLabelValues("missing_required_field")))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.RowsDecoded))
}

func TestService_PointsOnDateAtSince(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	onDate, err := f.svc.PointsOnDate(ctx, time.Date(2023, time.January, 11, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []string{"lht-0"}, devices(onDate))

	at, err := f.svc.PointsAt(ctx, f.points["delft"].Metadata.Timestamp)
	require.NoError(t, err)
	assert.Equal(t, []string{"py-2"}, devices(at))

	none, err := f.svc.PointsAt(ctx, testNow)
	require.NoError(t, err)
	assert.Empty(t, none)

	since, err := f.svc.PointsSince(ctx, testNow.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"py-2", "lht-1"}, devices(since))
}

func TestService_PointsAfter(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	page, err := f.svc.PointsAfter(ctx, telemetry.CursorAt(testNow.Add(-4*time.Hour)), 2)
	require.NoError(t, err)
	require.Len(t, page.Points, 2)
	assert.Equal(t, 2, page.Rows)
	assert.Equal(t, f.points["early"].Metadata.Timestamp, page.Points[0].Metadata.Timestamp)
	assert.Equal(t, f.points["delft"].Metadata.Timestamp, page.Points[1].Metadata.Timestamp)
	assert.Equal(t, telemetry.FeedCursor{Timestamp: f.points["delft"].Metadata.Timestamp, ID: 4}, page.Next)

	// Only the undecodable row is newer; the cursor still moves past it.
	page, err = f.svc.PointsAfter(ctx, telemetry.CursorAt(f.points["recent"].Metadata.Timestamp), 10)
	require.NoError(t, err)
	assert.Empty(t, page.Points)
	assert.Equal(t, 1, page.Rows)
	assert.Equal(t, int64(5), page.Next.ID)

	after, err := f.svc.PointsAfter(ctx, page.Next, 10)
	require.NoError(t, err)
	assert.Zero(t, after.Rows)
	assert.Equal(t, page.Next, after.Next, "an empty page keeps the cursor")
}

func TestService_PointsAfterSplitsSharedTimestamp(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	same := testNow.Add(-10 * time.Minute)
	for _, device := range []string{"lht-7", "lht-8", "lht-9"} {
		require.NoError(t, storage.InsertPoint(ctx, f.db, lhtPoint(device, same, enschede, 19)))
	}

	first, err := f.svc.PointsAfter(ctx, telemetry.CursorAt(testNow.Add(-15*time.Minute)), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"lht-7", "lht-8"}, devices(first.Points))

	rest, err := f.svc.PointsAfter(ctx, first.Next, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"lht-9"}, devices(rest.Points))
	assert.Equal(t, telemetry.FeedCursor{Timestamp: same, ID: 9}, rest.Next)
}

func TestService_Latest(t *testing.T) {
	f := newFixture(t, false)

	got, err := f.svc.Latest(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, f.points["recent"].Metadata.Timestamp, got[0].Metadata.Timestamp)
}

func TestService_DistinctListings(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	roster, err := f.svc.Roster(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceRoster{"py-2", "lht-1", "lht-0"}, roster)

	gateways, err := f.svc.Gateways(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gw-campus", "gw-delft"}, gateways)

	apps, err := f.svc.Applications(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"weather-delft", "weather-twente"}, apps)
}

func TestService_DevicePoints(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	got, err := f.svc.DevicePoints(ctx, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"lht-1", "lht-1"}, devices(got))

	since := testNow.Add(-time.Hour)
	got, err = f.svc.DevicePoints(ctx, 1, &since)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = f.svc.DevicePoints(ctx, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"py-2"}, devices(got), "the 10 day old reading is outside the default 24h")
}

func TestService_DeviceOrdinalOutOfRange(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	for _, ordinal := range []int{3, 42, -1} {
		points, err := f.svc.DevicePoints(ctx, ordinal, nil)
		require.NoError(t, err)
		assert.NotNil(t, points)
		assert.Empty(t, points)

		latest, err := f.svc.DeviceLatest(ctx, ordinal)
		require.NoError(t, err)
		assert.Empty(t, latest)

		avg, err := f.svc.AverageTemperature(ctx, ordinal, nil, nil)
		require.NoError(t, err)
		assert.Empty(t, avg)

		city, err := f.svc.DeviceCity(ctx, ordinal)
		require.NoError(t, err)
		assert.Empty(t, city)
	}
	assert.Equal(t, 12.0, testutil.ToFloat64(f.metrics.DevicesResolved.WithLabelValues("out_of_range")))
}

func TestService_DeviceLatest(t *testing.T) {
	f := newFixture(t, false)

	got, err := f.svc.DeviceLatest(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, f.points["delft"].Metadata.Timestamp, got[0].Metadata.Timestamp)
}

func TestService_AverageTemperature(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	got, err := f.svc.AverageTemperature(ctx, 1, nil, nil)
	require.NoError(t, err)
	require.Contains(t, got, "lht-1")
	assert.InDelta(t, 21.0, got["lht-1"], 1e-6)

	since := testNow.AddDate(0, 0, -30)
	until := testNow.AddDate(0, 0, -20)
	got, err = f.svc.AverageTemperature(ctx, 1, &since, &until)
	require.NoError(t, err)
	assert.Empty(t, got, "no readings in range")
}

func TestService_DeviceCity(t *testing.T) {
	f := newFixture(t, true)

	got, err := f.svc.DeviceCity(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"lht-0": "Groningen"}, got)
}

func TestService_DeviceCities(t *testing.T) {
	f := newFixture(t, true)
	f.geo.fail = map[domain.Coordinates]bool{delft: true}

	got, err := f.svc.DeviceCities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"lht-1": "Enschede", "lht-0": "Groningen"}, got)
}

func TestService_LocationFollowsNewestTimestamp(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	// A backfilled reading gets the highest id but is the oldest for lht-0.
	backfill := lhtPoint("lht-0", testNow.AddDate(0, 0, -20), delft, 3)
	require.NoError(t, storage.InsertPoint(ctx, f.db, backfill))

	one, err := f.svc.DeviceCity(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"lht-0": "Groningen"}, one)

	all, err := f.svc.DeviceCities(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Groningen", all["lht-0"])
	assert.Equal(t, "Enschede", all["lht-1"])
}

func TestService_LocationsDisabled(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	assert.False(t, f.svc.EnrichmentEnabled())

	one, err := f.svc.DeviceCity(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, one)

	all, err := f.svc.DeviceCities(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Zero(t, f.geo.calls, "disabled enrichment must not call the provider")
}

func TestService_EnrichCities(t *testing.T) {
	f := newFixture(t, true)
	f.geo.fail = map[domain.Coordinates]bool{delft: true}

	points, err := f.svc.WindowPoints(context.Background(), telemetry.WindowRecent)
	require.NoError(t, err)

	enriched := f.svc.EnrichCities(context.Background(), points)
	require.Len(t, enriched, 2)
	assert.Nil(t, enriched[0].Positional.CityName, "delft lookup failed")
	require.NotNil(t, enriched[1].Positional.CityName)
	assert.Equal(t, "Enschede", *enriched[1].Positional.CityName)
	assert.Nil(t, points[1].Positional.CityName, "input must not be mutated")
}

type failingExecutor struct{}

func (failingExecutor) Run(context.Context, string, ...any) ([]domain.Row, error) {
	return nil, &domain.StorageError{Op: "query", Err: errors.New("dial tcp 10.0.0.5:3306: connect: connection refused")}
}

func TestService_StorageFailure(t *testing.T) {
	svc := telemetry.NewService(failingExecutor{}, domain.NewDecoder(domain.PolicyExtended, 1), nil,
		observability.NewMetricsForTesting(), testLogger())
	ctx := context.Background()

	_, err := svc.WindowPoints(ctx, telemetry.WindowRecent)
	require.ErrorIs(t, err, domain.ErrStorage)
	assert.Contains(t, err.Error(), "connection refused")

	_, err = svc.DevicePoints(ctx, 0, nil)
	assert.ErrorIs(t, err, domain.ErrStorage)

	_, err = svc.Gateways(ctx)
	assert.ErrorIs(t, err, domain.ErrStorage)
}
