package telemetry

// Statements use ? placeholders; the storage executor rebinds them per driver.
// Every point query selects the full four-table join so a row carries every
// column the decoder may need.

// colID is the join key; every joined table carries the same value under it.
const colID = "id"

const pointsJoin = `SELECT * FROM metadata
	INNER JOIN positional ON metadata.id = positional.id
	INNER JOIN sensor_data ON metadata.id = sensor_data.id
	INNER JOIN transmissional_data ON metadata.id = transmissional_data.id`

const (
	queryPointsBetween = pointsJoin + `
	WHERE metadata.timestamp BETWEEN ? AND ?
	ORDER BY metadata.timestamp ASC`

	queryPointsAt = pointsJoin + `
	WHERE metadata.timestamp = ?
	ORDER BY metadata.timestamp ASC`

	queryDevicePointsBetween = pointsJoin + `
	WHERE metadata.device = ? AND metadata.timestamp BETWEEN ? AND ?
	ORDER BY metadata.timestamp ASC`

	queryDeviceLatest = pointsJoin + `
	WHERE metadata.id = (SELECT MAX(id) FROM metadata WHERE device = ?)`

	queryLatest = pointsJoin + `
	WHERE metadata.id = (SELECT MAX(id) FROM metadata)`

	// Keyset page over (timestamp, id): args are ts, ts, id, limit.
	queryPointsAfter = pointsJoin + `
	WHERE (metadata.timestamp > ? OR (metadata.timestamp = ? AND metadata.id > ?))
	ORDER BY metadata.timestamp ASC, metadata.id ASC
	LIMIT ?`

	queryDistinctDevices      = `SELECT DISTINCT device AS value FROM metadata`
	queryDistinctGateways     = `SELECT DISTINCT gateway AS value FROM metadata`
	queryDistinctApplications = `SELECT DISTINCT application AS value FROM metadata`

	queryAverageTemperature = `SELECT AVG(sensor_data.temperature) AS average FROM metadata
	INNER JOIN sensor_data ON metadata.id = sensor_data.id
	WHERE metadata.device = ? AND metadata.timestamp BETWEEN ? AND ?`

	queryDeviceLocation = `SELECT metadata.device AS device, positional.latitude AS latitude, positional.longitude AS longitude
	FROM metadata
	INNER JOIN positional ON metadata.id = positional.id
	WHERE metadata.device = ?
	ORDER BY metadata.timestamp DESC, metadata.id DESC
	LIMIT 1`

	queryDeviceLocations = `SELECT metadata.device AS device, positional.latitude AS latitude, positional.longitude AS longitude
	FROM metadata
	INNER JOIN positional ON metadata.id = positional.id
	WHERE metadata.id = (
		SELECT latest.id FROM metadata AS latest
		WHERE latest.device = metadata.device
		ORDER BY latest.timestamp DESC, latest.id DESC
		LIMIT 1)
	ORDER BY metadata.device DESC`
)
