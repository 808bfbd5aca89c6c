package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// compileBuckets cover quick previews up to the default 60s timeout.
var compileBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	compileDuration *prom.HistogramVec
	passDuration    *prom.HistogramVec
	outcomes        *prom.CounterVec
	busyRejections  prom.Counter
	inFlight        prom.Gauge
}

// NewPrometheusRecorder constructs the compile metrics and registers them with reg.
func NewPrometheusRecorder(reg prom.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		compileDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "texbuilder",
			Name:      "compile_duration_seconds",
			Help:      "Total compile job duration including every pass",
			Buckets:   compileBuckets,
		}, []string{"engine"}),
		passDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "texbuilder",
			Name:      "pass_duration_seconds",
			Help:      "Duration of individual compiler and bibliography passes",
			Buckets:   compileBuckets,
		}, []string{"kind", "tool"}),
		outcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "texbuilder",
			Name:      "compile_outcomes_total",
			Help:      "Compile jobs by final state",
		}, []string{"engine", "outcome"}),
		busyRejections: prom.NewCounter(prom.CounterOpts{
			Namespace: "texbuilder",
			Name:      "compile_busy_rejections_total",
			Help:      "Compile or delete requests rejected because the document was compiling",
		}),
		inFlight: prom.NewGauge(prom.GaugeOpts{
			Namespace: "texbuilder",
			Name:      "compile_in_flight",
			Help:      "Compile jobs currently running",
		}),
	}
	reg.MustRegister(pr.compileDuration, pr.passDuration, pr.outcomes, pr.busyRejections, pr.inFlight)
	return pr
}

func (p *PrometheusRecorder) ObserveCompileDuration(engine string, d time.Duration) {
	if p == nil || p.compileDuration == nil {
		return
	}
	p.compileDuration.WithLabelValues(engine).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObservePassDuration(kind, tool string, d time.Duration) {
	if p == nil || p.passDuration == nil {
		return
	}
	p.passDuration.WithLabelValues(kind, tool).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncCompileOutcome(engine string, outcome OutcomeLabel) {
	if p == nil || p.outcomes == nil {
		return
	}
	p.outcomes.WithLabelValues(engine, string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncBusyRejection() {
	if p == nil || p.busyRejections == nil {
		return
	}
	p.busyRejections.Inc()
}

func (p *PrometheusRecorder) SetInFlight(n int) {
	if p == nil || p.inFlight == nil {
		return
	}
	p.inFlight.Set(float64(n))
}
