// Registers:
//
//	#optionflow_events_total{component,name}
//	#optionflow_messages_total, optionflow_messages_per_second,
//	#optionflow_uptime_seconds, optionflow_last_message_latency_ms
//	#optionflow_retained_trades
//	#go_* and process_* system metrics
//
// Exposed through Handler, mounted on the dashboard at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter publishes events and monitor readings to Prometheus.
type Exporter struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec
}

// NewExporter builds a registry exposing monitor gauges and event counters.
// retained reports the current size of the trade window; it may be nil.
func NewExporter(monitor *Monitor, retained func() int) (*Exporter, error) {
	reg := prometheus.NewRegistry()

	events := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionflow_events_total",
			Help: "Number of feed events by component and name",
		},
		[]string{"component", "name"},
	)

	cs := []prometheus.Collector{
		events,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}

	if monitor != nil {
		cs = append(cs,
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "optionflow_messages_total",
				Help: "Trade messages received since the monitor was last reset",
			}, func() float64 { return float64(monitor.Metrics().TotalMessages) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "optionflow_messages_per_second",
				Help: "Average trade messages per second since the monitor was last reset",
			}, func() float64 { return monitor.Metrics().MessagesPerSecond }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "optionflow_uptime_seconds",
				Help: "Seconds since the monitor was last reset",
			}, func() float64 { return monitor.Metrics().UptimeSeconds }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "optionflow_last_message_latency_ms",
				Help: "Milliseconds since the last trade message",
			}, func() float64 { return monitor.Metrics().LastMessageLatencyMs }),
		)
	}
	if retained != nil {
		cs = append(cs, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "optionflow_retained_trades",
			Help: "Trades currently held in the retention window",
		}, func() float64 { return float64(retained()) }))
	}

	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return &Exporter{registry: reg, events: events}, nil
}

// Observe counts an event. It is meant to be registered on a Recorder.
func (e *Exporter) Observe(event Event) {
	e.events.WithLabelValues(event.Component, event.Name).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}
