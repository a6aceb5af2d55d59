// Package domain models telemetry produced by LoRa environmental sensors and
// stored as joined metadata/positional/sensor/transmission rows.
//
// # Device Families
//
// Two hardware families report different sensor sets. The family is derived
// from the device identifier, never stored:
//
//	"py..."  Pycom boards: temperature, pressure, light on a log scale.
//	"lht..." Dragino LHT65 boards: temperature, humidity, light in lux,
//	         battery status and voltage, work mode.
//
// The "py" marker is tested first. Identifiers matching neither marker are
// handled by [UnknownFamilyPolicy]: decode them as extended readings (the
// legacy behavior) or reject the row.
//
// # Optional Columns
//
// Altitude depends on hardware generation and SNR on transmission
// conditions; both columns may be NULL. They are modeled as pointers so that
// a missing value is never confused with a real zero.
//
// # Device Ordinals
//
// Callers may address devices by their position in the roster returned by
// SELECT DISTINCT device ... ORDER BY device DESC. The roster is fetched fresh
// for every request and is therefore only weakly consistent across requests.
// See [ResolveDevice].
package domain
