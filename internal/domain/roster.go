package domain

import (
	"slices"
	"strings"
)

// DeviceRoster is the distinct set of device identifiers, sorted descending.
// Ordinals index into it.
type DeviceRoster []string

// NewDeviceRoster deduplicates ids and sorts them descending by byte order,
// so ordinals do not depend on the storage collation.
func NewDeviceRoster(ids []string) DeviceRoster {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b string) int { return strings.Compare(b, a) })
	return DeviceRoster(slices.Compact(out))
}

// ResolveDevice maps an ordinal to a device identifier. Any ordinal outside
// [0, len(roster)) yields ErrOutOfRange; callers translate that into an empty
// result, not an error response.
//
// The roster and the data read that follows are separate queries, so a device
// added or removed in between can shift what an ordinal points at. Resolve
// once per request and pass the identifier on.
func ResolveDevice(ordinal int, roster DeviceRoster) (string, error) {
	if ordinal < 0 || ordinal >= len(roster) {
		return "", ErrOutOfRange
	}
	return roster[ordinal], nil
}

// Ordinals returns the roster keyed by ordinal.
func (r DeviceRoster) Ordinals() map[int]string {
	m := make(map[int]string, len(r))
	for i, id := range r {
		m[i] = id
	}
	return m
}
