// Package btmon turns the line oriented output of BlueZ's btmon into HCI
// event records and picks out the RuuviTag advertisements among them.
package btmon

import "fmt"

// Kind tells LE meta events, which carry advertising reports, apart from
// every other HCI event.
type Kind int

const (
	KindOther Kind = iota
	KindLEMeta
)

func (k Kind) String() string {
	if k == KindLEMeta {
		return "le_meta"
	}
	return "other"
}

// Event is one HCI event with the "Key: Value" lines btmon printed below its
// header. Keys are case sensitive; a repeated key keeps the last value.
type Event struct {
	Kind   Kind
	fields map[string]string
	keys   []string
}

func newEvent(kind Kind) *Event {
	return &Event{Kind: kind, fields: make(map[string]string)}
}

// NewEvent builds a closed event from key/value pairs, in order. It panics
// when kv holds a key without a value.
func NewEvent(kind Kind, kv ...string) *Event {
	if len(kv)%2 != 0 {
		panic(fmt.Sprintf("btmon: NewEvent: key %q has no value", kv[len(kv)-1]))
	}
	ev := newEvent(kind)
	for i := 0; i+1 < len(kv); i += 2 {
		ev.Set(kv[i], kv[i+1])
	}
	return ev
}

// Get returns the value stored under key.
func (e *Event) Get(key string) (string, bool) {
	v, ok := e.fields[key]
	return v, ok
}

// Set stores value under key, overwriting a previous value.
func (e *Event) Set(key, value string) {
	if _, ok := e.fields[key]; !ok {
		e.keys = append(e.keys, key)
	}
	e.fields[key] = value
}

// Keys returns the field names in first-insertion order.
func (e *Event) Keys() []string {
	out := make([]string, len(e.keys))
	copy(out, e.keys)
	return out
}

// Len is the number of distinct fields.
func (e *Event) Len() int {
	return len(e.keys)
}

// Address is the advertiser's address, without the address type suffix.
func (e *Event) Address() string {
	return e.fields[fieldAddress]
}

// Data is the manufacturer data hex string as printed by btmon.
func (e *Event) Data() string {
	return e.fields[fieldData]
}
