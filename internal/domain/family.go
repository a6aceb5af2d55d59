package domain

import (
	"fmt"
	"strings"
)

// Family identifies the sensor schema a device reports.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyCompact
	FamilyExtended
)

func (f Family) String() string {
	switch f {
	case FamilyCompact:
		return "compact"
	case FamilyExtended:
		return "extended"
	default:
		return "unknown"
	}
}

// Family markers, tested in order.
const (
	compactMarker  = "py"
	extendedMarker = "lht"
)

// ClassifyDevice maps a device identifier to its family. The match is a
// case-sensitive prefix test and the compact marker wins over the extended one.
func ClassifyDevice(deviceID string) Family {
	switch {
	case strings.HasPrefix(deviceID, compactMarker):
		return FamilyCompact
	case strings.HasPrefix(deviceID, extendedMarker):
		return FamilyExtended
	default:
		return FamilyUnknown
	}
}

// UnknownFamilyPolicy decides how identifiers matching no marker are decoded.
type UnknownFamilyPolicy int

const (
	// PolicyExtended decodes unknown devices as extended readings.
	PolicyExtended UnknownFamilyPolicy = iota
	// PolicyStrict rejects unknown devices with ErrUnknownDeviceFamily.
	PolicyStrict
)

func (p UnknownFamilyPolicy) String() string {
	if p == PolicyStrict {
		return "strict"
	}
	return "extended"
}

// ParseUnknownFamilyPolicy accepts "extended" or "strict".
func ParseUnknownFamilyPolicy(s string) (UnknownFamilyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "extended", "":
		return PolicyExtended, nil
	case "strict":
		return PolicyStrict, nil
	default:
		return PolicyExtended, fmt.Errorf("unknown device family policy %q (allowed: extended, strict)", s)
	}
}

// resolveFamily applies the policy to a classified identifier.
func (p UnknownFamilyPolicy) resolveFamily(deviceID string) (Family, error) {
	switch f := ClassifyDevice(deviceID); f {
	case FamilyCompact, FamilyExtended:
		return f, nil
	case FamilyUnknown:
		if p == PolicyStrict {
			return FamilyUnknown, &DecodeError{Column: "device", Kind: ErrUnknownDeviceFamily, Value: deviceID}
		}
		return FamilyExtended, nil
	default:
		return FamilyUnknown, fmt.Errorf("unhandled device family %d", f)
	}
}
