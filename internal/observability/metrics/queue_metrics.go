package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	JobStatusSuccess = "success"
	JobStatusError   = "error"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonUnknown              = "unknown"
)

// QueueMetrics exports outbox and scheduler loop health to Prometheus.
// A nil *QueueMetrics is a valid no-op.
type QueueMetrics struct {
	pendingJobs   prometheus.Gauge
	stuckJobs     prometheus.Gauge
	claimDuration prometheus.Histogram
	claimedJobs   prometheus.Counter
	jobRuns       *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobErrors     *prometheus.CounterVec
}

func NewQueueMetrics(registerer prometheus.Registerer, cfg Config) (*QueueMetrics, error) {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "payflow"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	var err error
	m := &QueueMetrics{}
	if m.pendingJobs, err = register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "payflow_outbox_pending_jobs",
		Help:        "Outbox jobs waiting to be claimed.",
		ConstLabels: constLabels,
	})); err != nil {
		return nil, err
	}
	if m.stuckJobs, err = register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "payflow_outbox_stuck_jobs",
		Help:        "Outbox jobs held in PROCESSING past the processing timeout.",
		ConstLabels: constLabels,
	})); err != nil {
		return nil, err
	}
	if m.claimDuration, err = register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "payflow_outbox_claim_duration_seconds",
		Help:        "Latency of outbox batch claims.",
		ConstLabels: constLabels,
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})); err != nil {
		return nil, err
	}
	if m.claimedJobs, err = register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "payflow_outbox_claimed_jobs_total",
		Help:        "Outbox jobs claimed by this process.",
		ConstLabels: constLabels,
	})); err != nil {
		return nil, err
	}
	if m.jobRuns, err = register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "payflow_scheduler_job_runs_total",
		Help:        "Background job runs by name and status.",
		ConstLabels: constLabels,
	}, []string{"job", "status"})); err != nil {
		return nil, err
	}
	if m.jobDuration, err = register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "payflow_scheduler_job_duration_seconds",
		Help:        "Background job latency.",
		ConstLabels: constLabels,
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	}, []string{"job"})); err != nil {
		return nil, err
	}
	if m.jobErrors, err = register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "payflow_scheduler_job_errors_total",
		Help:        "Background job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})); err != nil {
		return nil, err
	}

	return m, nil
}

// register reuses an existing collector when one with the same descriptor is already registered.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

func (m *QueueMetrics) SetPendingJobs(n int64) {
	if m == nil {
		return
	}
	m.pendingJobs.Set(float64(n))
}

func (m *QueueMetrics) SetStuckJobs(n int64) {
	if m == nil {
		return
	}
	m.stuckJobs.Set(float64(n))
}

func (m *QueueMetrics) ObserveClaim(d time.Duration, claimed int) {
	if m == nil {
		return
	}
	m.claimDuration.Observe(d.Seconds())
	m.claimedJobs.Add(float64(claimed))
}

func (m *QueueMetrics) ObserveJob(job string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := JobStatusSuccess
	if err != nil {
		status = JobStatusError
		m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
	}
	m.jobRuns.WithLabelValues(job, status).Inc()
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// ClassifyJobReason maps job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	switch {
	case err == nil:
		return JobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return JobReasonDeadlineExceeded
	case hasPGCode(err, "55P03"):
		return JobReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return JobReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return JobReasonUniqueViolation
	default:
		return JobReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
