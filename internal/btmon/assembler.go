package btmon

import "strings"

const (
	headerPrefix = "> HCI Event"
	leMetaMarker = "LE Meta Event"
)

// Assembler groups btmon lines into events. A header line closes the event
// that is open and starts a new one.
//
// Only LE meta events collect fields; lines below any other header are
// skipped.
type Assembler struct {
	open *Event
}

// Feed consumes one line. When the line is a header and an event was open,
// that event is returned as closed.
func (a *Assembler) Feed(line string) (*Event, bool) {
	if strings.HasPrefix(line, headerPrefix) {
		closed := a.open
		kind := KindOther
		if strings.Contains(line, leMetaMarker) {
			kind = KindLEMeta
		}
		a.open = newEvent(kind)
		return closed, closed != nil
	}

	if a.open == nil || a.open.Kind != KindLEMeta {
		return nil, false
	}

	key, value, found := strings.Cut(line, ":")
	if !found {
		return nil, false
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == fieldLEAddress || key == fieldAddress {
		// "AA:BB:CC:DD:EE:FF (Random)" -> "AA:BB:CC:DD:EE:FF"
		if fields := strings.Fields(value); len(fields) > 0 {
			value = fields[0]
		}
	}
	a.open.Set(key, value)
	return nil, false
}

// Flush closes and returns the open event, if any. Used at end of stream.
func (a *Assembler) Flush() (*Event, bool) {
	closed := a.open
	a.open = nil
	return closed, closed != nil
}
