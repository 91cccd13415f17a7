package scan

import (
	"strings"

	"github.com/google/uuid"
	"github.com/srg/blecentral/internal/device"
)

// Filter selects sightings. Every set field must match; unset fields match anything.
type Filter struct {
	Address     string     // exact, case-insensitive
	Name        string     // case-insensitive substring of the advertised name
	ServiceUUID *uuid.UUID // advertised service
	CompanyID   *uint16    // manufacturer data present for this company
}

// CompanyFilter matches sightings carrying manufacturer data from id
func CompanyFilter(id uint16) Filter {
	return Filter{CompanyID: &id}
}

// ServiceFilter matches sightings advertising service id
func ServiceFilter(id uuid.UUID) Filter {
	return Filter{ServiceUUID: &id}
}

// Matches reports whether the sighting satisfies every set field
func (f Filter) Matches(s device.Sighting) bool {
	if f.Address != "" && (s.Address == nil || !strings.EqualFold(f.Address, s.Address.String())) {
		return false
	}

	if f.Name != "" && !device.ContainsIgnoreCase(s.Name, f.Name) {
		return false
	}

	if f.ServiceUUID != nil {
		found := false
		for _, svc := range s.Services {
			if svc == *f.ServiceUUID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.CompanyID != nil {
		if _, ok := s.ManufacturerData[*f.CompanyID]; !ok {
			return false
		}
	}

	return true
}

// matchAny applies OR semantics across filters; an empty list accepts everything
func matchAny(filters []Filter, s device.Sighting) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f.Matches(s) {
			return true
		}
	}
	return false
}
