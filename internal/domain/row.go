package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Row is one result row with named-column access. Lookup reports whether the
// column exists; a present column whose value is nil is SQL NULL.
type Row interface {
	Lookup(column string) (value any, present bool)
}

// MapRow is a Row backed by a column→value map.
type MapRow map[string]any

func (r MapRow) Lookup(column string) (any, bool) {
	v, ok := r[column]
	return v, ok
}

// IsNull reports whether the column is absent or NULL.
func IsNull(row Row, column string) bool {
	v, ok := row.Lookup(column)
	return !ok || v == nil
}

// timestampLayouts covers what MySQL (text protocol), PostgreSQL and SQLite
// hand back when the driver does not produce a time.Time itself.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func required(row Row, column string) (any, error) {
	v, ok := row.Lookup(column)
	if !ok || v == nil {
		return nil, &DecodeError{Column: column, Kind: ErrMissingRequiredField}
	}
	return v, nil
}

func invalid(column string, v any, err error) error {
	if err == nil {
		err = fmt.Errorf("unsupported type %T", v)
	}
	return &DecodeError{Column: column, Kind: ErrInvalidField, Err: err}
}

func readTime(row Row, column string) (time.Time, error) {
	v, err := required(row, column)
	if err != nil {
		return time.Time{}, err
	}
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case []byte:
		return parseTimestamp(column, string(t))
	case string:
		return parseTimestamp(column, t)
	default:
		return time.Time{}, invalid(column, v, nil)
	}
}

func parseTimestamp(column, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, invalid(column, s, fmt.Errorf("unrecognized timestamp %q", s))
}

func readString(row Row, column string) (string, error) {
	v, err := required(row, column)
	if err != nil {
		return "", err
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	default:
		return "", invalid(column, v, nil)
	}
}

func readFloat64(row Row, column string) (float64, error) {
	v, err := required(row, column)
	if err != nil {
		return 0, err
	}
	return toFloat64(column, v)
}

func toFloat64(column string, v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case []byte:
		return parseFloat(column, string(n))
	case string:
		return parseFloat(column, n)
	default:
		return 0, invalid(column, v, nil)
	}
}

func parseFloat(column, s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, invalid(column, s, err)
	}
	return f, nil
}

func readFloat32(row Row, column string) (float32, error) {
	f, err := readFloat64(row, column)
	if err != nil {
		return 0, err
	}
	return float32(f), nil
}

func readInt32(row Row, column string) (int32, error) {
	f, err := readFloat64(row, column)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, invalid(column, f, fmt.Errorf("%v is not a 32-bit integer", f))
	}
	return int32(f), nil
}

// optionalFloat64 returns nil when the column is absent or NULL.
func optionalFloat64(row Row, column string) (*float64, error) {
	if IsNull(row, column) {
		return nil, nil
	}
	f, err := readFloat64(row, column)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func optionalFloat32(row Row, column string) (*float32, error) {
	f, err := optionalFloat64(row, column)
	if err != nil || f == nil {
		return nil, err
	}
	v := float32(*f)
	return &v, nil
}

// StringValue reads a required text column from a row that is not a full
// weather point, such as a DISTINCT listing.
func StringValue(row Row, column string) (string, error) {
	return readString(row, column)
}

// OptionalFloat64Value reads a nullable numeric column, such as an aggregate
// over zero rows.
func OptionalFloat64Value(row Row, column string) (*float64, error) {
	return optionalFloat64(row, column)
}

// TimeValue reads a required timestamp column.
func TimeValue(row Row, column string) (time.Time, error) {
	return readTime(row, column)
}

// Int64Value reads a required integer column such as a row id. Unlike the
// sensor readers it does not pass through float64, so large ids stay exact.
func Int64Value(row Row, column string) (int64, error) {
	v, err := required(row, column)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, invalid(column, n, fmt.Errorf("%d overflows int64", n))
		}
		return int64(n), nil
	case []byte:
		return parseInt64(column, string(n))
	case string:
		return parseInt64(column, n)
	default:
		return 0, invalid(column, v, nil)
	}
}

func parseInt64(column, s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, invalid(column, s, err)
	}
	return n, nil
}
