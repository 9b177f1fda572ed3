package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MothTrain/CambridgeSignallingMap/internal/decoder"
	"github.com/MothTrain/CambridgeSignallingMap/internal/feed"
	"github.com/MothTrain/CambridgeSignallingMap/internal/types"
)

const namespace = "signalling"

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// Feed
	linesTotal        *prometheus.CounterVec // by kind: S, C, R, MSG
	malformedLines    prometheus.Counter
	transportFailures prometheus.Counter
	reconnects        prometheus.Counter
	connected         prometheus.Gauge

	// Decoder
	registerWrites     prometheus.Counter
	bitsExamined       prometheus.Counter
	unresolvedBackrefs prometheus.Counter
	eventsTotal        *prometheus.CounterVec // by class and type
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		linesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "lines_total",
			Help:      "Raw feed lines parsed, by line kind",
		}, []string{"kind"}),

		malformedLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "malformed_lines_total",
			Help:      "Raw feed lines that could not be parsed",
		}),

		transportFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "transport_failures_total",
			Help:      "Connections lost to the feed transport",
		}),

		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Successful reconnections after a transport failure",
		}),

		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "connected",
			Help:      "1 while the feed transport is connected",
		}),

		registerWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "register_writes_total",
			Help:      "S-Class register writes applied",
		}),

		bitsExamined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "bits_examined_total",
			Help:      "Changed bits examined by the decoder",
		}),

		unresolvedBackrefs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "unresolved_backreferences_total",
			Help:      "Bits skipped because their backreference register was never written",
		}),

		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events delivered, by class and equipment type",
		}, []string{"class", "type"}),
	}

	m.registry.MustRegister(
		m.linesTotal,
		m.malformedLines,
		m.transportFailures,
		m.reconnects,
		m.connected,
		m.registerWrites,
		m.bitsExamined,
		m.unresolvedBackrefs,
		m.eventsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveApply implements decoder.Observer.
func (m *Metrics) ObserveApply(s decoder.ApplyStats) {
	m.registerWrites.Inc()
	m.bitsExamined.Add(float64(s.Changed))
	m.unresolvedBackrefs.Add(float64(s.Unresolved))
}

// ObserveLine implements feed.LineObserver.
func (m *Metrics) ObserveLine(kind feed.LineKind) {
	m.linesTotal.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) ObserveMalformed() {
	m.malformedLines.Inc()
}

func (m *Metrics) ObserveEvent(ev types.Event) {
	typ := "describer"
	if ev.IsSignalling() {
		typ = ev.Type.String()
	}
	m.eventsTotal.WithLabelValues(ev.Class.String(), typ).Inc()
}

func (m *Metrics) TransportFailure() {
	m.transportFailures.Inc()
}

func (m *Metrics) Reconnected() {
	m.reconnects.Inc()
}

func (m *Metrics) SetConnected(up bool) {
	if up {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}
