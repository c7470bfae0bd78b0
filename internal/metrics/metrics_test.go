package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAppend("X", time.Millisecond)
		m.IncAppendConflict()
		m.IncVerification(true)
		m.ObserveRound("fixed", time.Millisecond, map[string]int{"MERIT": 1}, 2)
		m.IncCacheLookup("hit")
	})
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveAppend("APPLICANT_CREATED", time.Millisecond)
	m.ObserveAppend("APPLICANT_CREATED", time.Millisecond)
	m.IncAppendConflict()
	m.IncVerification(false)
	m.ObserveRound("fixed", 10*time.Millisecond, map[string]int{"MERIT": 3, "RESERVED": 1}, 4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AppendTotal.WithLabelValues("APPLICANT_CREATED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AppendConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Verifications.WithLabelValues("invalid")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SeatsAllocated.WithLabelValues("MERIT")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Waitlisted))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
