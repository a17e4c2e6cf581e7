package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	archivedomain "github.com/packhouse/packline/internal/archive/domain"
	"github.com/packhouse/packline/internal/clock"
	"github.com/packhouse/packline/internal/config"
	obscontext "github.com/packhouse/packline/internal/observability/context"
	obsmetrics "github.com/packhouse/packline/internal/observability/metrics"
	"github.com/packhouse/packline/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	jobDailyArchive   = "daily_archive"
	jobWarmupRequests = "warmup_requests"
	jobRecoverySweep  = "recovery_sweep"
)

const dailyLockTTL = 30 * time.Minute

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	ArchiveSvc archivedomain.Service
	Queue      archivedomain.QueueRepository
	Holder     *config.ArchiveConfigHolder
	GenID      *snowflake.Node
	Clock      clock.Clock
	Locker     *ratelimit.Locker `optional:"true"`
	Config     Config            `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	archiveSvc archivedomain.Service
	queue      archivedomain.QueueRepository
	holder     *config.ArchiveConfigHolder

	// locker is optional; without it the daily job relies on the cache
	// upsert's idempotence when several instances race.
	locker *ratelimit.Locker

	// lastDailyDay remembers the UTC day the daily job last succeeded.
	// RunOnce is never invoked concurrently, so no lock is needed.
	lastDailyDay string
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.ArchiveSvc == nil || p.Queue == nil || p.Holder == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        cfg,
		genID:      p.GenID,
		clock:      p.Clock,
		archiveSvc: p.ArchiveSvc,
		queue:      p.Queue,
		holder:     p.Holder,
		locker:     p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// A deadline is a soft timeout: partial progress is preserved and the
	// next tick picks up where this run stopped.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{jobDailyArchive, s.isJobEnabled(jobDailyArchive), func(ctx context.Context) error {
			return s.runJob(ctx, jobDailyArchive, 1, 15*time.Minute, s.DailyArchiveJob)
		}},
		{jobWarmupRequests, s.isJobEnabled(jobWarmupRequests), func(ctx context.Context) error {
			return s.runJob(ctx, jobWarmupRequests, s.holder.Get().QueueBatchSize, 30*time.Minute, s.WarmupRequestsJob)
		}},
		{jobRecoverySweep, s.isJobEnabled(jobRecoverySweep), func(ctx context.Context) error {
			return s.runJob(ctx, jobRecoverySweep, s.holder.Get().QueueBatchSize, 30*time.Second, s.RecoverySweepJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty EnabledJobs list enables everything.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// DailyArchiveJob archives yesterday once per UTC day, no earlier than the
// configured hour. A failed attempt is retried with backoff inside this
// run and again on later ticks until the day succeeds.
func (s *Scheduler) DailyArchiveJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, jobDailyArchive, 1)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	now := s.clock.Now().UTC()
	cfg := s.holder.Get()
	if now.Hour() < cfg.DailyHourUTC {
		return nil
	}
	day := now.Format(archivedomain.DateFormat)
	if s.lastDailyDay == day {
		return nil
	}

	if s.locker != nil {
		yesterday := now.AddDate(0, 0, -1).Format(archivedomain.DateFormat)
		key := "packline:archive:daily:" + yesterday
		lease, err := s.locker.Acquire(ctx, key, dailyLockTTL)
		if err != nil {
			s.logSchedulerError(ctx, run, "daily archive lock failed", jobDailyArchive, err)
			return err
		}
		if lease == nil {
			s.logger(ctx).Debug("daily archive held by another instance",
				zap.String("date", yesterday))
			return nil
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger(ctx).Warn("daily archive lock release failed", zap.Error(err))
			}
		}()
	}

	var result archivedomain.DateResult
	err := s.retryWithBackoff(ctx, cfg.RetryAttempts, cfg.RetryBaseDelay, func() error {
		var archiveErr error
		result, archiveErr = s.archiveSvc.ArchiveYesterday(ctx)
		return archiveErr
	})
	if err != nil {
		s.logSchedulerError(ctx, run, "daily archival failed", jobDailyArchive, err,
			zap.String("date", result.Date))
		return err
	}

	s.lastDailyDay = day
	run.AddProcessed(1)
	obsmetrics.Scheduler().AddBatchProcessed(jobDailyArchive, obsmetrics.BatchResourceDates, 1)
	s.logger(ctx).Info("daily archival finished",
		zap.Bool("success", result.Success),
		zap.String("date", result.Date),
		zap.Int("records", result.Records),
		zap.Int("items", result.Items),
		zap.Bool("cached", result.Cached))

	return nil
}
