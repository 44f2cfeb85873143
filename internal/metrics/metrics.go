// Package metrics exposes bridge counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brianly1003/cbridge/internal/domain/events"
)

const namespace = "cbridge"

// Collector holds every bridge metric on its own registry, so tests and
// embedded use never collide with the global default registry.
type Collector struct {
	registry *prometheus.Registry

	connections  prometheus.Gauge
	sessions     prometheus.Gauge
	dropped      prometheus.Counter
	outputBytes  prometheus.Counter
	outputEvents *prometheus.CounterVec
}

// New creates a collector with process and Go runtime metrics included.
func New() *Collector {
	start := time.Now()
	c := &Collector{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open client connections.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Managed agent sessions.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Outbound messages discarded because a client fell behind.",
		}),
		outputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_bytes_total",
			Help:      "Bytes captured from agent panes.",
		}),
		outputEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_events_total",
			Help:      "Structured events parsed from pane output, by kind.",
		}, []string{"kind"}),
	}

	c.registry.MustRegister(
		c.connections,
		c.sessions,
		c.dropped,
		c.outputBytes,
		c.outputEvents,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the bridge started.",
		}, func() float64 { return time.Since(start).Seconds() }),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ConnectionOpened counts a new client connection.
func (c *Collector) ConnectionOpened() { c.connections.Inc() }

// ConnectionClosed counts a closed client connection.
func (c *Collector) ConnectionClosed() { c.connections.Dec() }

// MessageDropped counts one discarded outbound message.
func (c *Collector) MessageDropped() { c.dropped.Inc() }

// ObserveOutput records a captured chunk and the events parsed from it.
func (c *Collector) ObserveOutput(bytes int, evs []events.OutputEvent) {
	c.outputBytes.Add(float64(bytes))
	for _, ev := range evs {
		c.outputEvents.WithLabelValues(string(ev.Kind)).Inc()
	}
}

// SetSessions records the current number of sessions.
func (c *Collector) SetSessions(n int) { c.sessions.Set(float64(n)) }

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
