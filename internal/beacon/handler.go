// Package beacon turns relevant btmon events into metric samples and MQTT
// telemetry.
package beacon

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/atonkyra/ls-ruuvi/internal/btmon"
	"github.com/atonkyra/ls-ruuvi/internal/ruuvi"
	"github.com/atonkyra/ls-ruuvi/internal/types"
)

const dedupMaxIDsPerBeacon = 500

// Event outcomes, as counted by a Counter.
const (
	OutcomeIgnored       = "ignored"
	OutcomeUnknownFormat = "unknown_format"
	OutcomeDecodeError   = "decode_error"
	OutcomeDecoded       = "decoded"
)

// Recorder stores one named value for a beacon.
type Recorder interface {
	Record(name, address string, value float64)
}

// Counter tracks how events moved through the handler.
type Counter interface {
	CountEvent(outcome string)
	CountReading(format string)
}

// Publisher forwards decoded readings.
type Publisher interface {
	PublishTelemetry(t types.Telemetry) error
}

type Options struct {
	// Filter selects the events to decode; nil means btmon.DefaultFilter.
	Filter    *btmon.Filter
	Recorder  Recorder
	Counter   Counter
	Publisher Publisher
	// Aliases maps upper-case beacon addresses to a friendly name.
	Aliases map[string]string
	Logger  *slog.Logger
	Now     func() time.Time
}

// Handler decodes events on the consumer goroutine. Only the publish
// dedup state is shared and it is guarded by a mutex.
type Handler struct {
	filter    btmon.Filter
	recorder  Recorder
	counter   Counter
	publisher Publisher
	aliases   map[string]string
	logger    *slog.Logger
	now       func() time.Time

	dedupMu sync.Mutex
	seen    map[string]map[uint16]struct{}
}

func NewHandler(opts Options) *Handler {
	h := &Handler{
		filter:    btmon.DefaultFilter(),
		recorder:  opts.Recorder,
		counter:   opts.Counter,
		publisher: opts.Publisher,
		aliases:   opts.Aliases,
		logger:    opts.Logger,
		now:       opts.Now,
		seen:      make(map[string]map[uint16]struct{}),
	}
	if opts.Filter != nil {
		h.filter = *opts.Filter
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// HandleEvent decodes ev if it is a RuuviTag advertisement and records every
// available measurement followed by last_seen. Anything that does not decode
// is dropped. The decoded reading is returned for callers that want it.
func (h *Handler) HandleEvent(ev *btmon.Event) (*ruuvi.Reading, bool) {
	if !h.filter.Match(ev) {
		h.count(OutcomeIgnored)
		return nil, false
	}

	address := ev.Address()
	format, payload, ok := ruuvi.Extract(ev.Data())
	if !ok {
		h.count(OutcomeUnknownFormat)
		return nil, false
	}

	reading, err := ruuvi.Decode(format, payload)
	if err != nil {
		h.count(OutcomeDecodeError)
		h.logger.Debug("beacon: undecodable payload",
			"sensor", address,
			"format", format.String(),
			"data", ev.Data(),
			"payload", payload,
			"error", err,
		)
		return nil, false
	}

	now := h.now()
	if h.recorder != nil {
		for _, m := range reading.Present() {
			h.recorder.Record(m.Name, address, m.Value)
		}
		h.recorder.Record(ruuvi.LastSeen, address, float64(now.UnixNano())/1e9)
	}
	h.count(OutcomeDecoded)
	if h.counter != nil {
		h.counter.CountReading(format.String())
	}

	h.logger.Debug("beacon: reading decoded",
		"sensor", address,
		"format", format.String(),
		"values", len(reading.Present()),
	)

	h.publish(address, reading, now)
	return reading, true
}

func (h *Handler) publish(address string, reading *ruuvi.Reading, now time.Time) {
	if h.publisher == nil {
		return
	}
	if seq, ok := reading.Get(ruuvi.MeasurementSequenceNumber); ok && h.duplicate(address, uint16(seq)) {
		return
	}

	t := telemetryFrom(address, h.aliases[strings.ToUpper(address)], reading, now)
	if err := h.publisher.PublishTelemetry(t); err != nil {
		h.logger.Warn("beacon: failed to publish telemetry", "sensor", address, "error", err)
	}
}

// duplicate reports whether the sequence number was already published for
// address. Tags repeat each measurement over several advertisements.
func (h *Handler) duplicate(address string, seq uint16) bool {
	h.dedupMu.Lock()
	defer h.dedupMu.Unlock()

	if h.seen[address] == nil {
		h.seen[address] = make(map[uint16]struct{})
	}
	if _, ok := h.seen[address][seq]; ok {
		return true
	}
	h.seen[address][seq] = struct{}{}
	if len(h.seen[address]) > dedupMaxIDsPerBeacon {
		h.seen[address] = map[uint16]struct{}{seq: {}}
	}
	return false
}

func (h *Handler) count(outcome string) {
	if h.counter != nil {
		h.counter.CountEvent(outcome)
	}
}
