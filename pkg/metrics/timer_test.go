package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTimer(t *testing.T) {
	timer := NewTimer()
	require.NotNil(t, timer)
	assert.False(t, timer.start.IsZero())
	assert.Less(t, time.Since(timer.start), time.Second)
}

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)

	first := timer.Duration()
	assert.GreaterOrEqual(t, first, 20*time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, timer.Duration(), first)
}

func TestTimerObserveDuration(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_duration_seconds",
		Help: "Test duration histogram",
	})

	NewTimer().ObserveDuration(histogram)
	assert.Equal(t, 1, testutil.CollectAndCount(histogram))
}

func TestTimerObserveDurationVec(t *testing.T) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_duration_vec_seconds",
		Help: "Test duration histogram vec",
	}, []string{"operation"})

	NewTimer().ObserveDurationVec(vec, "cleanup")
	NewTimer().ObserveDurationVec(vec, "compact")
	assert.Equal(t, 2, testutil.CollectAndCount(vec))
}

type fakeSource struct{}

func (fakeSource) BlockCounts() map[string]int {
	return map[string]int{"Pending": 2, "Complete": 1}
}

func (fakeSource) TaskCounts() map[string]int {
	return map[string]int{"running": 3}
}

func TestCollectorCollect(t *testing.T) {
	c := NewCollector(fakeSource{}, 0)
	assert.Equal(t, 15*time.Second, c.interval)

	c.Collect()
	assert.Equal(t, 2.0, testutil.ToFloat64(BlocksTotal.WithLabelValues("Pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(BlocksTotal.WithLabelValues("Complete")))
	assert.Equal(t, 3.0, testutil.ToFloat64(TasksTotal.WithLabelValues("running")))
}
