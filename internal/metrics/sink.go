// Package metrics exposes decoded beacon measurements as Prometheus gauges.
package metrics

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace         = "ruuvi"
	labelSensor       = "sensor"
	labelIdentifier   = "identifier"
	unknownIdentifier = "n/a"
)

// Sink records measurements under ruuvi_<name>{sensor, identifier}. Gauges
// are created and registered the first time a measurement name is seen.
type Sink struct {
	reg     prometheus.Registerer
	aliases map[string]string
	logger  *slog.Logger

	mu     sync.Mutex
	gauges map[string]*prometheus.GaugeVec

	events   *prometheus.CounterVec
	readings *prometheus.CounterVec
}

// NewSink registers the pipeline counters with reg. aliases maps beacon
// addresses to the value of the identifier label; lookups ignore case.
func NewSink(reg prometheus.Registerer, aliases map[string]string, logger *slog.Logger) (*Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = slog.Default()
	}

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Beacon events seen by the decoder, by outcome.",
	}, []string{"outcome"})
	readings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "readings_total",
		Help:      "Decoded readings, by data format.",
	}, []string{"format"})

	for _, c := range []prometheus.Collector{events, readings} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register pipeline counters: %w", err)
		}
	}

	normalized := make(map[string]string, len(aliases))
	for addr, alias := range aliases {
		normalized[strings.ToUpper(addr)] = alias
	}

	return &Sink{
		reg:      reg,
		aliases:  normalized,
		logger:   logger,
		gauges:   make(map[string]*prometheus.GaugeVec),
		events:   events,
		readings: readings,
	}, nil
}

// Record sets ruuvi_<name> for the beacon at address.
func (s *Sink) Record(name, address string, value float64) {
	g, err := s.gauge(name)
	if err != nil {
		s.logger.Warn("drop measurement", "name", name, "sensor", address, "error", err)
		return
	}
	g.WithLabelValues(address, s.Identifier(address)).Set(value)
}

// Identifier is the configured alias of address, or "n/a".
func (s *Sink) Identifier(address string) string {
	if alias, ok := s.aliases[strings.ToUpper(address)]; ok && alias != "" {
		return alias
	}
	return unknownIdentifier
}

// CountEvent increments ruuvi_events_total for outcome.
func (s *Sink) CountEvent(outcome string) {
	s.events.WithLabelValues(outcome).Inc()
}

// CountReading increments ruuvi_readings_total for format.
func (s *Sink) CountReading(format string) {
	s.readings.WithLabelValues(format).Inc()
}

func (s *Sink) gauge(name string) (*prometheus.GaugeVec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g, ok := s.gauges[name]; ok {
		return g, nil
	}

	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      fmt.Sprintf("RuuviTag %s as last broadcast.", strings.ReplaceAll(name, "_", " ")),
	}, []string{labelSensor, labelIdentifier})

	if err := s.reg.Register(g); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, fmt.Errorf("register %s_%s: %w", namespace, name, err)
		}
		existing, ok := are.ExistingCollector.(*prometheus.GaugeVec)
		if !ok {
			return nil, fmt.Errorf("register %s_%s: collector of another type exists", namespace, name)
		}
		g = existing
	}

	s.gauges[name] = g
	return g, nil
}
