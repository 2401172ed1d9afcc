package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"gorm.io/gorm"
)

func TestClassifyJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: JobReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: JobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: JobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: JobReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: JobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestQueueMetricsObserveJob(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewQueueMetrics(registry, Config{ServiceName: "payflow", Environment: "test"})
	if err != nil {
		t.Fatalf("new queue metrics: %v", err)
	}

	m.ObserveJob("renewal", 10*time.Millisecond, nil)
	m.ObserveJob("renewal", 10*time.Millisecond, context.DeadlineExceeded)
	m.SetPendingJobs(7)
	m.SetStuckJobs(2)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	if got := counterValue(families, "payflow_scheduler_job_runs_total", map[string]string{"job": "renewal", "status": JobStatusError}); got != 1 {
		t.Fatalf("expected 1 error run, got %v", got)
	}
	if got := counterValue(families, "payflow_scheduler_job_errors_total", map[string]string{"reason": JobReasonDeadlineExceeded}); got != 1 {
		t.Fatalf("expected 1 deadline error, got %v", got)
	}
	if got := gaugeValue(families, "payflow_outbox_pending_jobs"); got != 7 {
		t.Fatalf("expected pending gauge 7, got %v", got)
	}
	if got := gaugeValue(families, "payflow_outbox_stuck_jobs"); got != 2 {
		t.Fatalf("expected stuck gauge 2, got %v", got)
	}
}

func TestQueueMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	cfg := Config{ServiceName: "payflow", Environment: "test"}
	first, err := NewQueueMetrics(registry, cfg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := NewQueueMetrics(registry, cfg)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.jobRuns != second.jobRuns {
		t.Fatalf("expected collectors to be shared")
	}
}

func counterValue(families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			if labelsMatch(m.GetLabel(), labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func gaugeValue(families []*dto.MetricFamily, name string) float64 {
	for _, family := range families {
		if family.GetName() == name && len(family.GetMetric()) > 0 {
			return family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	for key, value := range want {
		found := false
		for _, pair := range pairs {
			if pair.GetName() == key && pair.GetValue() == value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
