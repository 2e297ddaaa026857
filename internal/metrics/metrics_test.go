package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRequest("stt", 120*time.Millisecond, nil)
	m.ObserveRequest("stt", 80*time.Millisecond, errors.New("boom"))
	m.FrameSent("idle")
	m.FrameSent("idle")
	m.FrameSent("speaking")
	m.Transition("speaking", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestCount.WithLabelValues("stt")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CapabilityFailures.WithLabelValues("stt")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesSent.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesSent.WithLabelValues("speaking")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActorSpeaking))

	m.Transition("idle", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActorSpeaking))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActorTransitions.WithLabelValues("idle")))
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("llm", time.Second, nil)
		m.FrameSent("idle")
		m.Transition("idle", false)
	})
}

func TestNew_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
