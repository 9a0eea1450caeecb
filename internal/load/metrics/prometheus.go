package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wesleyorama2/storeload/internal/load"
)

var phases = []Phase{PhaseInit, PhaseRampUp, PhaseSteady, PhaseRampDown, PhaseDrain, PhaseDone}

// PrometheusSink mirrors outcomes and VU gauges into a Prometheus
// registry so a running load test can be scraped.
type PrometheusSink struct {
	registry *prometheus.Registry

	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	bytes     *prometheus.CounterVec
	activeVUs prometheus.Gauge
	phase     *prometheus.GaugeVec
}

// NewPrometheusSink registers the run's collectors on a fresh registry.
// constLabels are attached to every series, typically run_id and profile.
func NewPrometheusSink(constLabels prometheus.Labels) *PrometheusSink {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &PrometheusSink{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "storeload",
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "Total number of storefront calls broken down by logical name, status and result.",
			ConstLabels: constLabels,
		}, []string{"name", "status", "result"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "storeload",
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "Latency distribution of storefront calls.",
			ConstLabels: constLabels,
			Buckets: []float64{
				0.005, 0.01, 0.025, 0.05,
				0.1, 0.25, 0.5, 0.8,
				1, 1.2, 1.5, 2.5, 3, 5, 10,
			},
		}, []string{"name"}),
		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "storeload",
			Subsystem:   "http",
			Name:        "received_bytes_total",
			Help:        "Response bytes received per logical name.",
			ConstLabels: constLabels,
		}, []string{"name"}),
		activeVUs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "storeload",
			Name:        "active_vus",
			Help:        "Number of VUs currently running iterations.",
			ConstLabels: constLabels,
		}),
		phase: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "storeload",
			Name:        "phase",
			Help:        "1 for the current run phase, 0 otherwise.",
			ConstLabels: constLabels,
		}, []string{"phase"}),
	}
}

// Record implements load.Sink.
func (p *PrometheusSink) Record(o load.RequestOutcome) {
	result := "failed"
	if o.Success {
		result = "ok"
	}
	status := "error"
	if o.StatusCode > 0 {
		status = strconv.Itoa(o.StatusCode)
	}

	p.requests.With(prometheus.Labels{"name": o.Name, "status": status, "result": result}).Inc()
	p.latency.WithLabelValues(o.Name).Observe(o.Latency.Seconds())
	p.bytes.WithLabelValues(o.Name).Add(float64(o.BytesReceived))
}

// SetActiveVUs updates the active VU gauge.
func (p *PrometheusSink) SetActiveVUs(count int) {
	p.activeVUs.Set(float64(count))
}

// SetPhase flags phase as the current one.
func (p *PrometheusSink) SetPhase(phase Phase) {
	for _, ph := range phases {
		v := 0.0
		if ph == phase {
			v = 1
		}
		p.phase.WithLabelValues(string(ph)).Set(v)
	}
}

// Registry returns the underlying registry.
func (p *PrometheusSink) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Serve exposes Handler on addr under path until ctx is done.
func (p *PrometheusSink) Serve(ctx context.Context, addr, path string) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, p.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

var _ load.Sink = (*PrometheusSink)(nil)
