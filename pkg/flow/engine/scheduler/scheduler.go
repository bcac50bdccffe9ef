// Package scheduler polls for due runs and claims them for execution. Several
// scheduler instances may poll the same repository: the atomic claim protocol
// guarantees each run is executed by exactly one of them.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	config "github.com/flowmill/flowmill/pkg/flow/core/config"
	model "github.com/flowmill/flowmill/pkg/flow/core/domain/model"
	repository "github.com/flowmill/flowmill/pkg/flow/core/domain/repository"
	metrics "github.com/flowmill/flowmill/pkg/flow/core/metrics"
	"github.com/flowmill/flowmill/pkg/flow/engine/executor"
	"github.com/flowmill/flowmill/pkg/flow/engine/limiter"
	logger "github.com/flowmill/flowmill/pkg/flow/support/util/logger"
)

// Scheduler owns the polling loop of one engine instance.
type Scheduler struct {
	repo      repository.Repository
	executor  *executor.RunExecutor
	engineCfg *config.EngineConfig
	recorder  metrics.MetricRecorder
	workerID  string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new Scheduler.
// An empty worker ID in the configuration gets a generated one.
func NewScheduler(
	repo repository.Repository,
	runExecutor *executor.RunExecutor,
	engineCfg *config.EngineConfig,
	recorder metrics.MetricRecorder,
) *Scheduler {
	workerID := engineCfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + model.NewID()
	}
	return &Scheduler{
		repo:      repo,
		executor:  runExecutor,
		engineCfg: engineCfg,
		recorder:  recorder,
		workerID:  workerID,
	}
}

// WorkerID returns the claim identity of this scheduler instance.
func (s *Scheduler) WorkerID() string {
	return s.workerID
}

// Start launches the polling loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(loopCtx)
	}()

	logger.Infof("Scheduler '%s' started (poll interval: %ds).", s.workerID, s.engineCfg.PollIntervalSeconds)
	return nil
}

// Stop cancels the polling loop and waits for in-flight runs to settle.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Infof("Scheduler '%s' stopped.", s.workerID)
		return nil
	case <-ctx.Done():
		logger.Warnf("Scheduler '%s' stop timed out with runs still in flight.", s.workerID)
		return ctx.Err()
	}
}

// run is the polling loop.
func (s *Scheduler) run(ctx context.Context) {
	interval := time.Duration(s.engineCfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// One pass up front so a fresh engine does not idle a full interval.
	s.Pass(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Pass(ctx)
		}
	}
}

// Pass performs one scheduling pass: housekeeping, bootstrap of never-run
// flows, and claim-and-dispatch of due runs.
func (s *Scheduler) Pass(ctx context.Context) {
	now := time.Now()

	s.requeueStaleClaims(ctx, now)
	s.purgeExpiredErrorRecords(ctx, now)
	s.bootstrapFlows(ctx, now)
	s.dispatchDueRuns(ctx, now)
}

// requeueStaleClaims returns runs whose claim lease expired back to pending.
func (s *Scheduler) requeueStaleClaims(ctx context.Context, now time.Time) {
	lease := time.Duration(s.engineCfg.ClaimLeaseSeconds) * time.Second
	if lease <= 0 {
		return
	}
	if _, err := s.repo.RequeueStaleClaims(ctx, now.Add(-lease)); err != nil {
		logger.Warnf("Stale claim sweep failed: %v", err)
	}
}

// purgeExpiredErrorRecords drops failure occurrences past their retention period.
func (s *Scheduler) purgeExpiredErrorRecords(ctx context.Context, now time.Time) {
	ttl := time.Duration(s.engineCfg.ErrorRecordTTLHours) * time.Hour
	if ttl <= 0 {
		return
	}
	purged, err := s.repo.PurgeErrorRecordsBefore(ctx, now.Add(-ttl))
	if err != nil {
		logger.Warnf("Error record purge failed: %v", err)
		return
	}
	if purged > 0 {
		logger.Debugf("Purged %d expired error record(s).", purged)
	}
}

// bootstrapFlows enqueues the first run of schedulable flows that have none yet.
func (s *Scheduler) bootstrapFlows(ctx context.Context, now time.Time) {
	flows, err := s.repo.FindSchedulableFlows(ctx)
	if err != nil {
		logger.Warnf("Failed to list schedulable flows: %v", err)
		return
	}
	for _, flow := range flows {
		_, err := s.repo.FindLatestRunForFlow(ctx, flow.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, repository.ErrRunNotFound) {
			logger.Warnf("Failed to look up latest run of flow '%s': %v", flow.Name, err)
			continue
		}
		first := model.NewRun(flow, now, 1, limiter.KeyFor(flow))
		if err := s.repo.SaveRun(ctx, first); err != nil {
			logger.Errorf("Failed to bootstrap flow '%s': %v", flow.Name, err)
			continue
		}
		logger.Infof("Bootstrapped first run '%s' of flow '%s'.", first.ID, flow.Name)
	}
}

// dispatchDueRuns claims due pending runs and hands the won ones to the executor.
// Claims lost to races or blocked by concurrency limits are skipped quietly;
// the runs stay pending for a later pass.
func (s *Scheduler) dispatchDueRuns(ctx context.Context, now time.Time) {
	due, err := s.repo.FindDueRuns(ctx, now, s.engineCfg.ClaimBatchSize)
	if err != nil {
		logger.Warnf("Failed to find due runs: %v", err)
		return
	}

	for _, run := range due {
		flow, err := s.repo.FindFlowByID(ctx, run.FlowID)
		if err != nil {
			logger.Warnf("Due run '%s' references unknown flow '%s': %v", run.ID, run.FlowID, err)
			continue
		}
		// Disabled flows keep their pending runs; nothing is claimed for them.
		if !flow.IsSchedulable() {
			logger.Debugf("Flow '%s' is not schedulable. Leaving run '%s' pending.", flow.Name, run.ID)
			continue
		}

		key := limiter.KeyFor(flow)
		limit := limiter.LimitFor(flow)

		err = s.repo.ClaimRun(ctx, run, s.workerID, key, limit)
		switch {
		case err == nil:
			s.recorder.RecordClaimAttempt(ctx, flow.Name, "claimed")
		case errors.Is(err, repository.ErrRunAlreadyClaimed):
			s.recorder.RecordClaimAttempt(ctx, flow.Name, "lost_race")
			continue
		case errors.Is(err, repository.ErrConcurrencyLimitReached):
			s.recorder.RecordClaimAttempt(ctx, flow.Name, "limit_reached")
			continue
		default:
			s.recorder.RecordClaimAttempt(ctx, flow.Name, "error")
			logger.Warnf("Claim of run '%s' failed: %v", run.ID, err)
			continue
		}

		claimed := run
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.executor.Execute(ctx, claimed)
		}()
	}
}
