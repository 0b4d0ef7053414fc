package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the moderation engine's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	reportsProcessed     *prometheus.CounterVec
	postsAutoRemoved     prometheus.Counter
	urgentReports        prometheus.Counter
	reportChunks         *prometheus.CounterVec
	notificationsCreated *prometheus.CounterVec
	pushDeliveries       *prometheus.CounterVec
	pushTokensRemoved    prometheus.Counter
	announcementMoves    *prometheus.CounterVec
	sweepRuns            *prometheus.CounterVec
	sweepDuration        *prometheus.HistogramVec
	sanctions            *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reportsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moderation",
			Name:      "reports_processed_total",
			Help:      "Reports processed by severity tier",
		}, []string{"severity"}),
		postsAutoRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "moderation",
			Name:      "posts_auto_removed_total",
			Help:      "Posts removed by a high-severity report",
		}),
		urgentReports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "moderation",
			Name:      "urgent_reports_total",
			Help:      "Posts whose report count crossed the urgent threshold",
		}),
		reportChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moderation",
			Name:      "report_resolution_chunks_total",
			Help:      "Chunks of batched report resolution by result",
		}, []string{"result"}),
		notificationsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moderation",
			Name:      "notifications_created_total",
			Help:      "Notification records created by type",
		}, []string{"type"}),
		pushDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moderation",
			Name:      "push_deliveries_total",
			Help:      "Push delivery attempts by status",
		}, []string{"status"}),
		pushTokensRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "moderation",
			Name:      "push_tokens_removed_total",
			Help:      "Push tokens deleted after a permanent delivery failure",
		}),
		announcementMoves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moderation",
			Name:      "announcement_transitions_total",
			Help:      "Announcement state transitions",
		}, []string{"to", "trigger"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moderation",
			Name:      "sweep_runs_total",
			Help:      "Sweep executions by result",
		}, []string{"sweep", "result"}),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "moderation",
			Name:      "sweep_duration_seconds",
			Help:      "Sweep execution time",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sweep"}),
		sanctions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moderation",
			Name:      "user_sanctions_total",
			Help:      "Sanctions applied to users",
		}, []string{"action"}),
	}

	reg.MustRegister(
		m.reportsProcessed,
		m.postsAutoRemoved,
		m.urgentReports,
		m.reportChunks,
		m.notificationsCreated,
		m.pushDeliveries,
		m.pushTokensRemoved,
		m.announcementMoves,
		m.sweepRuns,
		m.sweepDuration,
		m.sanctions,
	)
	return m
}

func (m *Metrics) ReportProcessed(sev Severity) {
	if m == nil {
		return
	}
	m.reportsProcessed.WithLabelValues(string(sev)).Inc()
}

func (m *Metrics) PostAutoRemoved() {
	if m == nil {
		return
	}
	m.postsAutoRemoved.Inc()
}

func (m *Metrics) UrgentReport() {
	if m == nil {
		return
	}
	m.urgentReports.Inc()
}

func (m *Metrics) ReportChunk(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.reportChunks.WithLabelValues(result).Inc()
}

func (m *Metrics) NotificationCreated(typ string) {
	if m == nil {
		return
	}
	m.notificationsCreated.WithLabelValues(typ).Inc()
}

func (m *Metrics) PushDelivery(status string) {
	if m == nil {
		return
	}
	m.pushDeliveries.WithLabelValues(status).Inc()
}

func (m *Metrics) PushTokenRemoved() {
	if m == nil {
		return
	}
	m.pushTokensRemoved.Inc()
}

func (m *Metrics) AnnouncementTransition(to, trigger string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.announcementMoves.WithLabelValues(to, trigger).Add(float64(n))
}

func (m *Metrics) SweepRun(sweep string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweepRuns.WithLabelValues(sweep, result).Inc()
	m.sweepDuration.WithLabelValues(sweep).Observe(time.Since(started).Seconds())
}

func (m *Metrics) Sanction(action string) {
	if m == nil {
		return
	}
	m.sanctions.WithLabelValues(action).Inc()
}
