package scheduler

import (
	"context"

	obsmetrics "github.com/packhouse/packline/internal/observability/metrics"
	"go.uber.org/zap"
)

// RecoverySweepJob returns warmup requests stuck in processing to pending.
// A request goes stale when its worker died between claim and completion;
// after the recovery threshold the next drain picks it up again.
func (s *Scheduler) RecoverySweepJob(ctx context.Context) error {
	cfg := s.holder.Get()
	ctx, run, owner := s.ensureJobRun(ctx, jobRecoverySweep, cfg.QueueBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	cutoff := s.clock.Now().UTC().Add(-cfg.RecoveryThreshold)
	moved, err := s.queue.RequeueStale(ctx, cutoff)
	if err != nil {
		obsmetrics.Scheduler().IncArchiveStageError(obsmetrics.ArchiveStageRecoveryRequeue, err)
		s.logSchedulerError(ctx, run, "recovery sweep failed", jobRecoverySweep, err)
		return err
	}

	if moved > 0 {
		run.AddProcessed(moved)
		obsmetrics.Scheduler().AddBatchProcessed(jobRecoverySweep, obsmetrics.BatchResourceWarmupRequests, moved)
		s.logger(ctx).Warn("stale warmup requests requeued",
			zap.Int("count", moved),
			zap.Time("cutoff", cutoff))
	}

	return nil
}
