package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)

	if d := timer.Duration(); d < 20*time.Millisecond {
		t.Errorf("Timer.Duration() = %v, want >= 20ms", d)
	}
}

func TestTimerObserveDuration(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_duration_seconds",
		Help: "Test duration histogram",
	})

	NewTimer().ObserveDuration(histogram)

	if n := testutil.CollectAndCount(histogram); n != 1 {
		t.Errorf("expected 1 metric, got %d", n)
	}
}

func TestTimerObserveDurationVec(t *testing.T) {
	histogramVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "test_duration_vec_seconds",
			Help: "Test duration histogram vec",
		},
		[]string{"op"},
	)

	timer := NewTimer()
	timer.ObserveDurationVec(histogramVec, "read")
	timer.ObserveDurationVec(histogramVec, "write")

	if n := testutil.CollectAndCount(histogramVec); n != 2 {
		t.Errorf("expected 2 label sets, got %d", n)
	}
}

type fixedSource int

func (f fixedSource) NodeCount() int { return int(f) }

func TestCollectorSamplesSource(t *testing.T) {
	c := NewCollector(fixedSource(42))
	c.collect()

	if got := testutil.ToFloat64(TreeNodesTotal); got != 42 {
		t.Errorf("TreeNodesTotal = %v, want 42", got)
	}
}
