package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	model "github.com/flowmill/flowmill/pkg/flow/core/domain/model"
	metrics "github.com/flowmill/flowmill/pkg/flow/core/metrics"
	logger "github.com/flowmill/flowmill/pkg/flow/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Run Metrics
	runDurationSeconds *prometheus.HistogramVec
	runStatusCounter   *prometheus.CounterVec

	// Claim Metrics
	claimAttemptCounter *prometheus.CounterVec

	// Batch Metrics
	batchCommitCounter  *prometheus.CounterVec
	recordsWrittenCount *prometheus.CounterVec

	// Recovery Metrics
	resumptionCounter     *prometheus.CounterVec
	retryScheduledCounter *prometheus.CounterVec

	// Generic durations
	operationDuration *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder.
func NewPrometheusRecorder() metrics.MetricRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		runDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flow_run_duration_seconds",
			Help:    "Duration of flow run executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"flow_name", "status", "attempt"}),
		runStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flow_run_status_total",
			Help: "Total number of flow run executions by status.",
		}, []string{"flow_name", "status"}),
		claimAttemptCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flow_claim_attempt_total",
			Help: "Total claim attempts by outcome.",
		}, []string{"flow_name", "outcome"}),
		batchCommitCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flow_batch_commit_total",
			Help: "Total checkpointed batches by flow.",
		}, []string{"flow_name"}),
		recordsWrittenCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flow_records_written_total",
			Help: "Total records written by flow.",
		}, []string{"flow_name"}),
		resumptionCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flow_run_resumption_total",
			Help: "Total resumptions of interrupted runs by flow.",
		}, []string{"flow_name"}),
		retryScheduledCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flow_retry_scheduled_total",
			Help: "Total retries scheduled by flow and failure classification.",
		}, []string{"flow_name", "classification"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flow_operation_duration_seconds",
			Help:    "Duration of named engine operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"name"}),
	}

	// Register all metrics with the registry.
	registry.MustRegister(r.runDurationSeconds)
	registry.MustRegister(r.runStatusCounter)
	registry.MustRegister(r.claimAttemptCounter)
	registry.MustRegister(r.batchCommitCounter)
	registry.MustRegister(r.recordsWrittenCount)
	registry.MustRegister(r.resumptionCounter)
	registry.MustRegister(r.retryScheduledCounter)
	registry.MustRegister(r.operationDuration)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordRunStart records the start of a Run.
func (r *PrometheusRecorder) RecordRunStart(ctx context.Context, run *model.Run) {
	r.runStatusCounter.WithLabelValues(run.FlowName, run.Status.String()).Inc()
	logger.Debugf("Metrics: Run '%s' of flow '%s' started.", run.ID, run.FlowName)
}

// RecordRunEnd records the terminal outcome of a Run.
func (r *PrometheusRecorder) RecordRunEnd(ctx context.Context, run *model.Run) {
	r.runStatusCounter.WithLabelValues(run.FlowName, run.Status.String()).Inc()
	if run.EndedAt == nil || run.StartedAt == nil {
		return
	}
	duration := run.EndedAt.Sub(*run.StartedAt).Seconds()

	r.runDurationSeconds.WithLabelValues(
		run.FlowName,
		run.Status.String(),
		strconv.Itoa(run.Attempt),
	).Observe(duration)

	logger.Debugf("Metrics: Run '%s' of flow '%s' ended. Duration: %.3fs", run.ID, run.FlowName, duration)
}

// RecordClaimAttempt records one claim attempt and its outcome.
func (r *PrometheusRecorder) RecordClaimAttempt(ctx context.Context, flowName string, outcome string) {
	r.claimAttemptCounter.WithLabelValues(flowName, outcome).Inc()
}

// RecordBatchCommit records one checkpointed batch for a flow.
func (r *PrometheusRecorder) RecordBatchCommit(ctx context.Context, flowName string, count int) {
	r.batchCommitCounter.WithLabelValues(flowName).Inc()
	r.recordsWrittenCount.WithLabelValues(flowName).Add(float64(count))
}

// RecordResumption records that an interrupted run was resumed from its checkpoint.
func (r *PrometheusRecorder) RecordResumption(ctx context.Context, flowName string) {
	r.resumptionCounter.WithLabelValues(flowName).Inc()
}

// RecordRetryScheduled records that a failed run scheduled a retry attempt.
func (r *PrometheusRecorder) RecordRetryScheduled(ctx context.Context, flowName string, classification string) {
	r.retryScheduledCounter.WithLabelValues(flowName, classification).Inc()
}

// RecordDuration records the execution time of a specific operation.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationDuration.WithLabelValues(name).Observe(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
