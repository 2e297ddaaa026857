package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors of one process. A nil *Metrics records nothing.
type Metrics struct {
	RequestCount       *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	FramesSent         *prometheus.CounterVec
	ActorTransitions   *prometheus.CounterVec
	ActorSpeaking      prometheus.Gauge
	CapabilityFailures *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestCount: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "talkytalky_requests_total",
				Help: "Total number of capability requests served",
			},
			[]string{"capability"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "talkytalky_request_duration_seconds",
				Help:    "Capability request duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"capability"},
		),
		FramesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "talkytalky_frames_sent_total",
				Help: "Animation frames sent to the frontend",
			},
			[]string{"state"},
		),
		ActorTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "talkytalky_actor_transitions_total",
				Help: "Actor state transitions by target state",
			},
			[]string{"state"},
		),
		ActorSpeaking: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "talkytalky_actor_speaking",
				Help: "1 while the actor is speaking",
			},
		),
		CapabilityFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "talkytalky_capability_failures_total",
				Help: "Requests that ended the capability session with an error",
			},
			[]string{"capability"},
		),
	}
}

// ObserveRequest records one served request.
func (m *Metrics) ObserveRequest(capability string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.RequestCount.WithLabelValues(capability).Inc()
	m.RequestDuration.WithLabelValues(capability).Observe(d.Seconds())
	if err != nil {
		m.CapabilityFailures.WithLabelValues(capability).Inc()
	}
}

// FrameSent records one frame handed to the sink.
func (m *Metrics) FrameSent(state string) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(state).Inc()
}

// Transition records an actor state change.
func (m *Metrics) Transition(state string, speaking bool) {
	if m == nil {
		return
	}
	m.ActorTransitions.WithLabelValues(state).Inc()
	if speaking {
		m.ActorSpeaking.Set(1)
	} else {
		m.ActorSpeaking.Set(0)
	}
}
