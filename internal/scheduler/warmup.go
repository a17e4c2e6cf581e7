package scheduler

import (
	"context"
	"errors"

	obsmetrics "github.com/packhouse/packline/internal/observability/metrics"
	"go.uber.org/zap"
)

// WarmupRequestsJob drains pending warmup requests oldest first. Each
// request runs in isolation: its outcome lands on its own row, and one
// broken request never blocks the rest of the batch.
func (s *Scheduler) WarmupRequestsJob(ctx context.Context) error {
	cfg := s.holder.Get()
	ctx, run, owner := s.ensureJobRun(ctx, jobWarmupRequests, cfg.QueueBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()

	claimed, err := s.queue.ClaimPending(ctx, cfg.QueueBatchSize, s.clock.Now().UTC())
	if err != nil {
		s.logSchedulerError(ctx, run, "warmup claim failed", jobWarmupRequests, err)
		return err
	}
	if len(claimed) == 0 {
		schedMetrics.IncBatchDeferred(jobWarmupRequests, obsmetrics.SchedulerBatchDeferredReasonSkipLockedEmpty)
		return nil
	}

	var jobErr error
	processed := 0
	for _, req := range claimed {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		s.logger(ctx).Info("warmup request claimed",
			zap.String("warmup_request_id", req.ID),
			zap.Stringp("archive_date", req.ArchiveDate),
			zap.Stringp("start_date", req.StartDate),
			zap.Stringp("end_date", req.EndDate))

		summary, warmupErr := s.archiveSvc.Warmup(ctx, req.Params())
		if warmupErr != nil {
			jobErr = errors.Join(jobErr, warmupErr)
			s.logSchedulerError(ctx, run, "warmup request failed", jobWarmupRequests, warmupErr,
				zap.String("warmup_request_id", req.ID))
			if markErr := s.queue.MarkFailed(ctx, req.ID, warmupErr, s.clock.Now().UTC()); markErr != nil {
				jobErr = errors.Join(jobErr, markErr)
				s.logSchedulerError(ctx, run, "warmup request could not be marked failed", jobWarmupRequests, markErr,
					zap.String("warmup_request_id", req.ID))
			}
			continue
		}

		if markErr := s.queue.MarkCompleted(ctx, req.ID, summary, s.clock.Now().UTC()); markErr != nil {
			jobErr = errors.Join(jobErr, markErr)
			s.logSchedulerError(ctx, run, "warmup request could not be marked completed", jobWarmupRequests, markErr,
				zap.String("warmup_request_id", req.ID))
			continue
		}

		processed++
		run.AddProcessed(1)
		s.logger(ctx).Info("warmup request completed",
			zap.String("warmup_request_id", req.ID),
			zap.Int("dates", summary.Dates),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("cached", summary.Cached))
	}

	if processed > 0 {
		schedMetrics.AddBatchProcessed(jobWarmupRequests, obsmetrics.BatchResourceWarmupRequests, processed)
	}
	return jobErr
}
