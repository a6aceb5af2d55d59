package domain

import "time"

// Metadata identifies where a point came from.
type Metadata struct {
	Timestamp     time.Time `json:"timestamp"`
	DeviceID      string    `json:"device_id"`
	ApplicationID string    `json:"application_id"`
	GatewayID     string    `json:"gateway_id"`
}

// Positional holds the reported device position. Altitude is nil when the
// source column was NULL. CityName is only ever set by location enrichment.
type Positional struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude"`
	CityName  *string  `json:"city_name,omitempty"`
}

// CompactReading is the sensor set of the py family.
type CompactReading struct {
	Temperature   float32 `json:"temperature"`
	Pressure      float32 `json:"pressure"`
	LightLogScale int32   `json:"light_log_scale"`
}

// ExtendedReading is the sensor set of the lht family.
type ExtendedReading struct {
	Temperature    float32 `json:"temperature"`
	Humidity       float32 `json:"humidity"`
	LightLux       int32   `json:"light_lux"`
	BatteryStatus  int32   `json:"battery_status"`
	BatteryVoltage float32 `json:"battery_voltage"`
	WorkMode       string  `json:"work_mode"`
}

// SensorReading is a tagged union: exactly one of Compact or Extended is set.
// Construct it with NewCompactSensorReading or NewExtendedSensorReading.
type SensorReading struct {
	Compact  *CompactReading  `json:"compact,omitempty"`
	Extended *ExtendedReading `json:"extended,omitempty"`
}

// NewCompactSensorReading wraps a py family reading.
func NewCompactSensorReading(r CompactReading) SensorReading {
	return SensorReading{Compact: &r}
}

// NewExtendedSensorReading wraps an lht family reading.
func NewExtendedSensorReading(r ExtendedReading) SensorReading {
	return SensorReading{Extended: &r}
}

// Temperature returns the temperature of whichever variant is populated.
func (s SensorReading) Temperature() float32 {
	switch {
	case s.Compact != nil:
		return s.Compact.Temperature
	case s.Extended != nil:
		return s.Extended.Temperature
	default:
		return 0
	}
}

// TransmissionInfo describes the LoRa uplink. Snr is nil when the source
// column was NULL; 0 is a valid SNR.
type TransmissionInfo struct {
	RSSI            int32    `json:"rssi"`
	Snr             *float32 `json:"snr"`
	SpreadingFactor int32    `json:"spreading_factor"`
	ConsumedAirtime float32  `json:"consumed_airtime"`
	Bandwidth       int32    `json:"bandwidth"`
	Frequency       int32    `json:"frequency"`
}

// WeatherPoint is one decoded telemetry row.
type WeatherPoint struct {
	Metadata     Metadata         `json:"metadata"`
	Positional   Positional       `json:"positional"`
	Sensor       SensorReading    `json:"sensor_data"`
	Transmission TransmissionInfo `json:"transmissional_data"`
}

// Family reports the device family the point was decoded as.
func (p WeatherPoint) Family() Family {
	if p.Sensor.Compact != nil {
		return FamilyCompact
	}
	return FamilyExtended
}

// WithCity returns a copy of the point with the city name set.
func (p WeatherPoint) WithCity(city string) WeatherPoint {
	p.Positional.CityName = &city
	return p
}

// Coordinates is a latitude/longitude pair.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DeviceLocation is the most recent reported position of one device.
type DeviceLocation struct {
	DeviceID string
	Coordinates
}
