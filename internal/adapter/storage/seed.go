package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/couchcryptid/weather-telemetry-api/internal/domain"
)

// SQLiteSchema creates the four telemetry tables in the SQLite dialect. The
// layout matches the production MariaDB tables: one metadata row per uplink,
// joined by id to its positional, sensor and transmission rows.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS metadata (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp   DATETIME NOT NULL,
	device      TEXT NOT NULL,
	application TEXT,
	gateway     TEXT
);
CREATE INDEX IF NOT EXISTS metadata_device_timestamp ON metadata (device, timestamp);
CREATE TABLE IF NOT EXISTS positional (
	id        INTEGER PRIMARY KEY REFERENCES metadata (id),
	latitude  REAL,
	longitude REAL,
	altitude  REAL
);
CREATE TABLE IF NOT EXISTS sensor_data (
	id              INTEGER PRIMARY KEY REFERENCES metadata (id),
	temperature     REAL,
	humidity        REAL,
	pressure        REAL,
	light_lux       INTEGER,
	light_log_scale INTEGER,
	battery_status  INTEGER,
	battery_voltage REAL,
	work_mode       TEXT
);
CREATE TABLE IF NOT EXISTS transmissional_data (
	id               INTEGER PRIMARY KEY REFERENCES metadata (id),
	rssi             INTEGER,
	snr              REAL,
	spreading_factor INTEGER,
	consumed_airtime REAL,
	bandwidth        INTEGER,
	frequency        INTEGER
);`

// CreateSchema applies SQLiteSchema. It is idempotent.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, SQLiteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// InsertPoint writes p across the four tables in one transaction. Only dev
// tooling and tests write; the service itself is read-only.
func InsertPoint(ctx context.Context, db *sql.DB, p domain.WeatherPoint) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO metadata (timestamp, device, application, gateway) VALUES (?, ?, ?, ?)`,
		p.Metadata.Timestamp.UTC(), p.Metadata.DeviceID, p.Metadata.ApplicationID, p.Metadata.GatewayID)
	if err != nil {
		return fmt.Errorf("insert metadata: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("metadata id: %w", err)
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO positional (id, latitude, longitude, altitude) VALUES (?, ?, ?, ?)`,
		id, p.Positional.Latitude, p.Positional.Longitude, nullable(p.Positional.Altitude)); err != nil {
		return fmt.Errorf("insert positional: %w", err)
	}

	if err = insertSensor(ctx, tx, id, p.Sensor); err != nil {
		return err
	}

	t := p.Transmission
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO transmissional_data (id, rssi, snr, spreading_factor, consumed_airtime, bandwidth, frequency)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, t.RSSI, nullable(t.Snr), t.SpreadingFactor, t.ConsumedAirtime, t.Bandwidth, t.Frequency); err != nil {
		return fmt.Errorf("insert transmissional_data: %w", err)
	}

	return tx.Commit()
}

func insertSensor(ctx context.Context, tx *sql.Tx, id int64, s domain.SensorReading) error {
	var err error
	switch {
	case s.Compact != nil:
		c := s.Compact
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sensor_data (id, temperature, pressure, light_log_scale) VALUES (?, ?, ?, ?)`,
			id, c.Temperature, c.Pressure, c.LightLogScale)
	case s.Extended != nil:
		e := s.Extended
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sensor_data (id, temperature, humidity, light_lux, battery_status, battery_voltage, work_mode)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, e.Temperature, e.Humidity, e.LightLux, e.BatteryStatus, e.BatteryVoltage, e.WorkMode)
	default:
		_, err = tx.ExecContext(ctx, `INSERT INTO sensor_data (id) VALUES (?)`, id)
	}
	if err != nil {
		return fmt.Errorf("insert sensor_data: %w", err)
	}
	return nil
}

func nullable[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}
