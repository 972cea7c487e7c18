package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveJob("ok")
	m.ObserveJob("ok")
	m.ObserveJob("void")
	m.AddRows(12)
	m.AddDiscovered(3)
	m.ObserveFetch(20*time.Millisecond, nil)
	m.ObserveRetryDate(errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobs.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("void")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.rows))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.discovered))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retriedDays.WithLabelValues("error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.fetch))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveJob("ok")
	m.ObserveFetch(time.Second, nil)
	m.AddRows(1)
	m.AddDiscovered(1)
	m.ObserveRetryDate(nil)
}
