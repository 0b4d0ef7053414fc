package services

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ReportChunk(true)
	m.ReportChunk(false)
	m.ReportChunk(false)
	m.AnnouncementTransition("active", "sweep", 3)
	m.AnnouncementTransition("active", "sweep", 0)
	m.SweepRun(SweepExpiry, time.Now(), errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.reportChunks.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reportChunks.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.announcementMoves.WithLabelValues("active", "sweep")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepRuns.WithLabelValues(SweepExpiry, "error")))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ReportProcessed(SeverityHigh)
		m.UrgentReport()
		m.SweepRun(SweepPosts, time.Now(), nil)
		m.Sanction("ban")
	})
}
