// Command seed writes a SQLite database of mock LoRa uplinks for local
// development and demos. It uses the storage package's schema so the result
// can be served directly with DB_DRIVER=sqlite3.
//
// Usage:
//
//	go run ./cmd/seed -out data/weather.db -devices 4 -hours 72
//	DB_DRIVER=sqlite3 SQLITE_PATH=data/weather.db go run ./cmd/api
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/weather-telemetry-api/internal/adapter/storage"
	"github.com/couchcryptid/weather-telemetry-api/internal/domain"
)

// site is a mock deployment location.
type site struct {
	application string
	gateway     string
	lat, lon    float64
	altitude    float64
}

var sites = []site{
	{application: "weather-twente", gateway: "gw-campus", lat: 52.2398, lon: 6.8502, altitude: 34},
	{application: "weather-twente", gateway: "gw-hengelo", lat: 52.2658, lon: 6.7931, altitude: 25},
	{application: "weather-delft", gateway: "gw-delft", lat: 52.0116, lon: 4.3571, altitude: 4},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "data/weather.db", "output path for the SQLite database")
	devices := flag.Int("devices", 4, "number of mock devices (alternating lht and py)")
	hours := flag.Int("hours", 48, "hours of history to generate, ending now")
	interval := flag.Duration("interval", 10*time.Minute, "time between uplinks per device")
	at := flag.String("at", "", "fixed end time (RFC3339) for reproducible output")
	seed := flag.Uint64("seed", 1, "random seed")
	flag.Parse()

	if *devices < 1 || *hours < 1 || *interval <= 0 {
		flag.Usage()
		return fmt.Errorf("-devices, -hours and -interval must be positive")
	}

	var clock clockwork.Clock = clockwork.NewRealClock()
	if *at != "" {
		end, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			return fmt.Errorf("invalid -at: %w", err)
		}
		clock = clockwork.NewFakeClockAt(end)
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		return err
	}
	db, err := sql.Open("sqlite3", "file:"+*out+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("open %s: %w", *out, err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := storage.CreateSchema(ctx, db); err != nil {
		return err
	}

	gen := generator{rng: rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))}
	end := clock.Now().UTC().Truncate(time.Second)
	start := end.Add(-time.Duration(*hours) * time.Hour)

	counts := map[string]int{}
	for ts := start; !ts.After(end); ts = ts.Add(*interval) {
		for d := range *devices {
			p := gen.point(d, ts)
			if err := storage.InsertPoint(ctx, db, p); err != nil {
				return fmt.Errorf("insert %s at %s: %w", p.Metadata.DeviceID, ts.Format(time.RFC3339), err)
			}
			counts[p.Family().String()]++
		}
	}

	log.Printf("wrote %s: %d compact, %d extended points from %s to %s",
		*out, counts["compact"], counts["extended"], start.Format(time.RFC3339), end.Format(time.RFC3339))
	return nil
}

type generator struct {
	rng *rand.Rand
}

func (g generator) point(device int, ts time.Time) domain.WeatherPoint {
	s := sites[device%len(sites)]
	// Daily temperature curve peaking mid-afternoon.
	hour := float64(ts.Hour()) + float64(ts.Minute())/60
	temp := float32(9 + 6*math.Sin((hour-9)/24*2*math.Pi) + g.rng.NormFloat64()*0.4)

	p := domain.WeatherPoint{
		Metadata: domain.Metadata{
			Timestamp:     ts,
			ApplicationID: s.application,
			GatewayID:     s.gateway,
		},
		Positional: domain.Positional{
			Latitude:  s.lat + g.rng.NormFloat64()*1e-4,
			Longitude: s.lon + g.rng.NormFloat64()*1e-4,
		},
		Transmission: domain.TransmissionInfo{
			RSSI:            int32(-95 - g.rng.IntN(25)),
			SpreadingFactor: int32(7 + g.rng.IntN(6)),
			ConsumedAirtime: float32(0.05 + g.rng.Float64()*0.3),
			Bandwidth:       125,
			Frequency:       868,
		},
	}

	// Some gateways report neither.
	if g.rng.IntN(10) > 0 {
		alt := s.altitude
		p.Positional.Altitude = &alt
	}
	if g.rng.IntN(8) > 0 {
		snr := float32(math.Round(g.rng.NormFloat64()*40) / 10)
		p.Transmission.Snr = &snr
	}

	if device%2 == 0 {
		p.Metadata.DeviceID = fmt.Sprintf("lht-%d", device/2)
		p.Sensor = domain.NewExtendedSensorReading(domain.ExtendedReading{
			Temperature:    temp,
			Humidity:       float32(70 + g.rng.Float64()*25),
			LightLux:       daylightLux(hour, g.rng),
			BatteryStatus:  3,
			BatteryVoltage: float32(2.9 + g.rng.Float64()*0.2),
			WorkMode:       "IIC",
		})
		return p
	}
	p.Metadata.DeviceID = fmt.Sprintf("py-%d", device/2)
	p.Sensor = domain.NewCompactSensorReading(domain.CompactReading{
		Temperature:   temp,
		Pressure:      float32(1005 + g.rng.NormFloat64()*6),
		LightLogScale: int32(max(0, math.Log10(float64(daylightLux(hour, g.rng))+1))),
	})
	return p
}

func daylightLux(hour float64, rng *rand.Rand) int32 {
	if hour < 7 || hour > 19 {
		return int32(rng.IntN(3))
	}
	return int32(2000 * math.Sin((hour-7)/12*math.Pi) * (0.6 + 0.4*rng.Float64()))
}
