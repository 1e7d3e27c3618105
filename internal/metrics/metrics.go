package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RegistrationCounter returns the number of active SIP registrations.
type RegistrationCounter interface {
	Count(ctx context.Context) (int64, error)
}

// TenantCounter returns the number of provisioned tenants.
type TenantCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Collector is a prometheus.Collector that gathers store-backed gauges at
// scrape time.
type Collector struct {
	registrations RegistrationCounter
	tenants       TenantCounter
	startTime     time.Time

	registrationsDesc *prometheus.Desc
	tenantsDesc       *prometheus.Desc
	uptimeDesc        *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(registrations RegistrationCounter, tenants TenantCounter, startTime time.Time) *Collector {
	return &Collector{
		registrations: registrations,
		tenants:       tenants,
		startTime:     startTime,

		registrationsDesc: prometheus.NewDesc(
			"tenantpbx_registered_devices",
			"Number of currently registered SIP devices",
			nil, nil,
		),
		tenantsDesc: prometheus.NewDesc(
			"tenantpbx_tenants",
			"Number of provisioned tenants",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"tenantpbx_uptime_seconds",
			"Seconds since the tenantpbx process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.registrationsDesc
	ch <- c.tenantsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.registrations != nil {
		count, err := c.registrations.Count(ctx)
		if err != nil {
			slog.Error("metrics: failed to count registrations", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.registrationsDesc, prometheus.GaugeValue,
				float64(count),
			)
		}
	}

	if c.tenants != nil {
		count, err := c.tenants.Count(ctx)
		if err != nil {
			slog.Error("metrics: failed to count tenants", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.tenantsDesc, prometheus.GaugeValue,
				float64(count),
			)
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}

// Recorder counts request-path events. It satisfies the observer interfaces
// of the resolver and the call-control dispatcher.
type Recorder struct {
	resolutions        *prometheus.CounterVec
	resolutionDuration prometheus.Histogram
	dispatches         *prometheus.CounterVec
	renders            *prometheus.CounterVec
	cacheLookups       *prometheus.CounterVec
}

// NewRecorder creates a Recorder. Call MustRegister to expose it.
func NewRecorder() *Recorder {
	return &Recorder{
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantpbx_resolutions_total",
				Help: "Dialplan resolutions by outcome",
			},
			[]string{"outcome"}, // matched|no_match|pattern_error|dependency_error|invalid
		),
		resolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tenantpbx_resolution_duration_seconds",
				Help:    "Time spent resolving one dialed number",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantpbx_call_control_requests_total",
				Help: "Call-control requests by action and response status",
			},
			[]string{"action", "status"},
		),
		renders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantpbx_documents_rendered_total",
				Help: "XML dialplan documents served by kind and result",
			},
			[]string{"kind", "result"}, // domain|default|fragment , ok|error|not_found
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantpbx_document_cache_lookups_total",
				Help: "Rendered document cache lookups by result",
			},
			[]string{"result"}, // hit|miss|error
		),
	}
}

// MustRegister registers every Recorder metric with r.
func (m *Recorder) MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		m.resolutions,
		m.resolutionDuration,
		m.dispatches,
		m.renders,
		m.cacheLookups,
	)
}

// ObserveResolution records one resolver outcome.
func (m *Recorder) ObserveResolution(outcome string, elapsed time.Duration) {
	m.resolutions.WithLabelValues(outcome).Inc()
	m.resolutionDuration.Observe(elapsed.Seconds())
}

// ObserveDispatch records one call-control response.
func (m *Recorder) ObserveDispatch(action, status string) {
	m.dispatches.WithLabelValues(action, status).Inc()
}

// ObserveRender records one served document.
func (m *Recorder) ObserveRender(kind, result string) {
	m.renders.WithLabelValues(kind, result).Inc()
}

// ObserveCache records one document cache lookup.
func (m *Recorder) ObserveCache(result string) {
	m.cacheLookups.WithLabelValues(result).Inc()
}
