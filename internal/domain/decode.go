package domain

import (
	"golang.org/x/sync/errgroup"
)

// Column names of the joined metadata/positional/sensor_data/transmissional_data rows.
const (
	ColTimestamp       = "timestamp"
	ColDevice          = "device"
	ColApplication     = "application"
	ColGateway         = "gateway"
	ColLatitude        = "latitude"
	ColLongitude       = "longitude"
	ColAltitude        = "altitude"
	ColTemperature     = "temperature"
	ColPressure        = "pressure"
	ColLightLogScale   = "light_log_scale"
	ColHumidity        = "humidity"
	ColLightLux        = "light_lux"
	ColBatteryStatus   = "battery_status"
	ColBatteryVoltage  = "battery_voltage"
	ColWorkMode        = "work_mode"
	ColRSSI            = "rssi"
	ColSNR             = "snr"
	ColSpreadingFactor = "spreading_factor"
	ColConsumedAirtime = "consumed_airtime"
	ColBandwidth       = "bandwidth"
	ColFrequency       = "frequency"
)

// Decoder turns result rows into WeatherPoints.
type Decoder struct {
	policy  UnknownFamilyPolicy
	workers int
}

// NewDecoder creates a Decoder. workers bounds how many rows of one batch are
// decoded concurrently; values below 1 decode sequentially.
func NewDecoder(policy UnknownFamilyPolicy, workers int) *Decoder {
	if workers < 1 {
		workers = 1
	}
	return &Decoder{policy: policy, workers: workers}
}

// Policy returns the configured unknown family policy.
func (d *Decoder) Policy() UnknownFamilyPolicy {
	return d.policy
}

// Decode converts one row. Errors are *DecodeError.
func (d *Decoder) Decode(row Row) (WeatherPoint, error) {
	meta, err := decodeMetadata(row)
	if err != nil {
		return WeatherPoint{}, err
	}

	pos, err := decodePositional(row)
	if err != nil {
		return WeatherPoint{}, err
	}

	family, err := d.policy.resolveFamily(meta.DeviceID)
	if err != nil {
		return WeatherPoint{}, err
	}

	var sensor SensorReading
	switch family {
	case FamilyCompact:
		sensor, err = decodeCompact(row)
	case FamilyExtended:
		sensor, err = decodeExtended(row)
	case FamilyUnknown:
		err = &DecodeError{Column: ColDevice, Kind: ErrUnknownDeviceFamily, Value: meta.DeviceID}
	}
	if err != nil {
		return WeatherPoint{}, err
	}

	tx, err := decodeTransmission(row)
	if err != nil {
		return WeatherPoint{}, err
	}

	return WeatherPoint{
		Metadata:     meta,
		Positional:   pos,
		Sensor:       sensor,
		Transmission: tx,
	}, nil
}

// RowFailure records why the row at Index was dropped.
type RowFailure struct {
	Index int
	Err   error
}

// BatchResult holds the decoded points in input order plus the dropped rows.
type BatchResult struct {
	Points   []WeatherPoint
	Failures []RowFailure
}

// DecodeBatch decodes every row, skipping the ones that fail. Output order
// matches input order. A batch in which every row fails yields an empty,
// non-nil Points slice.
func (d *Decoder) DecodeBatch(rows []Row) BatchResult {
	points := make([]WeatherPoint, len(rows))
	errs := make([]error, len(rows))

	if d.workers == 1 || len(rows) < 2 {
		for i, row := range rows {
			points[i], errs[i] = d.Decode(row)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(d.workers)
		for i, row := range rows {
			g.Go(func() error {
				points[i], errs[i] = d.Decode(row)
				return nil
			})
		}
		_ = g.Wait()
	}

	out := BatchResult{Points: make([]WeatherPoint, 0, len(rows))}
	for i := range rows {
		if errs[i] != nil {
			out.Failures = append(out.Failures, RowFailure{Index: i, Err: errs[i]})
			continue
		}
		out.Points = append(out.Points, points[i])
	}
	return out
}

func decodeMetadata(row Row) (Metadata, error) {
	ts, err := readTime(row, ColTimestamp)
	if err != nil {
		return Metadata{}, err
	}
	device, err := readString(row, ColDevice)
	if err != nil {
		return Metadata{}, err
	}
	app, err := readString(row, ColApplication)
	if err != nil {
		return Metadata{}, err
	}
	gateway, err := readString(row, ColGateway)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{Timestamp: ts, DeviceID: device, ApplicationID: app, GatewayID: gateway}, nil
}

func decodePositional(row Row) (Positional, error) {
	lat, err := readFloat64(row, ColLatitude)
	if err != nil {
		return Positional{}, err
	}
	lon, err := readFloat64(row, ColLongitude)
	if err != nil {
		return Positional{}, err
	}
	alt, err := optionalFloat64(row, ColAltitude)
	if err != nil {
		return Positional{}, err
	}
	return Positional{Latitude: lat, Longitude: lon, Altitude: alt}, nil
}

func decodeCompact(row Row) (SensorReading, error) {
	var r CompactReading
	var err error
	if r.Temperature, err = readFloat32(row, ColTemperature); err != nil {
		return SensorReading{}, err
	}
	if r.Pressure, err = readFloat32(row, ColPressure); err != nil {
		return SensorReading{}, err
	}
	if r.LightLogScale, err = readInt32(row, ColLightLogScale); err != nil {
		return SensorReading{}, err
	}
	return NewCompactSensorReading(r), nil
}

func decodeExtended(row Row) (SensorReading, error) {
	var r ExtendedReading
	var err error
	if r.Temperature, err = readFloat32(row, ColTemperature); err != nil {
		return SensorReading{}, err
	}
	if r.Humidity, err = readFloat32(row, ColHumidity); err != nil {
		return SensorReading{}, err
	}
	if r.LightLux, err = readInt32(row, ColLightLux); err != nil {
		return SensorReading{}, err
	}
	if r.BatteryStatus, err = readInt32(row, ColBatteryStatus); err != nil {
		return SensorReading{}, err
	}
	if r.BatteryVoltage, err = readFloat32(row, ColBatteryVoltage); err != nil {
		return SensorReading{}, err
	}
	if r.WorkMode, err = readString(row, ColWorkMode); err != nil {
		return SensorReading{}, err
	}
	return NewExtendedSensorReading(r), nil
}

// decodeTransmission reads the snr column before the others so a NULL SNR
// is carried as nil rather than failing or defaulting.
func decodeTransmission(row Row) (TransmissionInfo, error) {
	snr, err := optionalFloat32(row, ColSNR)
	if err != nil {
		return TransmissionInfo{}, err
	}
	t := TransmissionInfo{Snr: snr}
	if t.RSSI, err = readInt32(row, ColRSSI); err != nil {
		return TransmissionInfo{}, err
	}
	if t.SpreadingFactor, err = readInt32(row, ColSpreadingFactor); err != nil {
		return TransmissionInfo{}, err
	}
	if t.ConsumedAirtime, err = readFloat32(row, ColConsumedAirtime); err != nil {
		return TransmissionInfo{}, err
	}
	if t.Bandwidth, err = readInt32(row, ColBandwidth); err != nil {
		return TransmissionInfo{}, err
	}
	if t.Frequency, err = readInt32(row, ColFrequency); err != nil {
		return TransmissionInfo{}, err
	}
	return t, nil
}

// DecodeDeviceLocation reads a {device, latitude, longitude} projection.
func DecodeDeviceLocation(row Row) (DeviceLocation, error) {
	device, err := readString(row, ColDevice)
	if err != nil {
		return DeviceLocation{}, err
	}
	lat, err := readFloat64(row, ColLatitude)
	if err != nil {
		return DeviceLocation{}, err
	}
	lon, err := readFloat64(row, ColLongitude)
	if err != nil {
		return DeviceLocation{}, err
	}
	return DeviceLocation{DeviceID: device, Coordinates: Coordinates{Latitude: lat, Longitude: lon}}, nil
}
