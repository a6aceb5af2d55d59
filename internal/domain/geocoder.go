package domain

import (
	"context"
	"strings"
)

// AddressComponent is one entry of a reverse geocoding result.
type AddressComponent struct {
	LongName  string
	ShortName string
	Types     []string
}

// GeocodingResult is the first result a provider returned for a coordinate.
// An empty Components slice means the provider had nothing for it.
type GeocodingResult struct {
	FormattedAddress string
	Components       []AddressComponent
}

// Geocoder resolves coordinates to place details.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (GeocodingResult, error)
}

// CityExtractor picks a locality name out of a geocoding result.
type CityExtractor interface {
	ExtractCity(result GeocodingResult) (string, bool)
}

// ComponentAtIndex takes the first word of the short name of the address
// component at Index. The position is empirical for the provider's typical
// response shape in the deployment region; providers may reorder components.
type ComponentAtIndex struct {
	Index int
}

// DefaultCityComponentIndex is the position that yields the locality for
// Google's responses in the region the sensors are deployed in.
const DefaultCityComponentIndex = 3

func (c ComponentAtIndex) ExtractCity(result GeocodingResult) (string, bool) {
	if c.Index < 0 || c.Index >= len(result.Components) {
		return "", false
	}
	fields := strings.Fields(result.Components[c.Index].ShortName)
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}
