//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/weather-telemetry-api/internal/adapter/storage"
	"github.com/couchcryptid/weather-telemetry-api/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	kc, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("weather-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(kc) })

	brokers, err := kc.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// seedSQLite writes points to a fresh database file and returns its path.
func seedSQLite(ctx context.Context, t *testing.T, points ...domain.WeatherPoint) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "weather.db")
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, storage.CreateSchema(ctx, db))
	for _, p := range points {
		require.NoError(t, storage.InsertPoint(ctx, db, p))
	}
	return path
}

func lhtPoint(device string, ts time.Time) domain.WeatherPoint {
	snr := float32(6.5)
	return domain.WeatherPoint{
		Metadata:   domain.Metadata{Timestamp: ts, DeviceID: device, ApplicationID: "weather-twente", GatewayID: "gw-campus"},
		Positional: domain.Positional{Latitude: 52.2398, Longitude: 6.8502},
		Sensor: domain.NewExtendedSensorReading(domain.ExtendedReading{
			Temperature: 19.5, Humidity: 77, LightLux: 300, BatteryStatus: 3, BatteryVoltage: 3.02, WorkMode: "IIC",
		}),
		Transmission: domain.TransmissionInfo{RSSI: -101, Snr: &snr, SpreadingFactor: 7, ConsumedAirtime: 0.06, Bandwidth: 125, Frequency: 868},
	}
}

func pyPoint(device string, ts time.Time) domain.WeatherPoint {
	alt := 4.0
	return domain.WeatherPoint{
		Metadata:   domain.Metadata{Timestamp: ts, DeviceID: device, ApplicationID: "weather-delft", GatewayID: "gw-delft"},
		Positional: domain.Positional{Latitude: 52.0116, Longitude: 4.3571, Altitude: &alt},
		Sensor: domain.NewCompactSensorReading(domain.CompactReading{
			Temperature: 12.25, Pressure: 1009.5, LightLogScale: 3,
		}),
		Transmission: domain.TransmissionInfo{RSSI: -112, SpreadingFactor: 10, ConsumedAirtime: 0.37, Bandwidth: 125, Frequency: 868},
	}
}
