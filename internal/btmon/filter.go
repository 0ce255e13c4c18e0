package btmon

import "strings"

const (
	fieldEventType = "Event type"
	fieldCompany   = "Company"
	fieldAddress   = "Address"
	fieldLEAddress = "LE Address"
	fieldData      = "Data"
)

// Filter decides which closed events are beacon advertisements worth
// decoding.
type Filter struct {
	// EventType must occur in the "Event type" field.
	EventType string
	// CompanyMarker must occur in the "Company" field.
	CompanyMarker string
}

// DefaultFilter matches non-connectable RuuviTag broadcasts. 1177 is Ruuvi
// Innovations' Bluetooth SIG company identifier.
func DefaultFilter() Filter {
	return Filter{
		EventType:     "ADV_NONCONN_IND",
		CompanyMarker: "(1177)",
	}
}

// Match reports whether ev is an LE meta event carrying data and an address
// whose event type and company contain the configured markers.
func (f Filter) Match(ev *Event) bool {
	if ev == nil || ev.Kind != KindLEMeta {
		return false
	}
	if _, ok := ev.Get(fieldData); !ok {
		return false
	}
	if _, ok := ev.Get(fieldAddress); !ok {
		return false
	}
	if v, ok := ev.Get(fieldEventType); !ok || !strings.Contains(v, f.EventType) {
		return false
	}
	if v, ok := ev.Get(fieldCompany); !ok || !strings.Contains(v, f.CompanyMarker) {
		return false
	}
	return true
}

// IsRelevant applies DefaultFilter.
func IsRelevant(ev *Event) bool {
	return DefaultFilter().Match(ev)
}
