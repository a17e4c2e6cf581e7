package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/packhouse/packline/internal/config"
	"github.com/packhouse/packline/internal/observability/metrics"
	"github.com/packhouse/packline/internal/store"
	redis "github.com/redis/go-redis/v9"
)

const keyArchivePace = "archive:pace"

// NewPacer selects the pacing backend. With Redis configured the pace is
// shared across replicas through the token bucket; without it each process
// spaces its own calls.
func NewPacer(client *redis.Client, holder *config.ArchiveConfigHolder) store.Pacer {
	if client != nil {
		return NewBucketPacer(NewTokenBucket(client), holder)
	}
	return NewDelayPacer(holder)
}

// NewRedisClient builds the shared Redis client, nil when no address is set.
func NewRedisClient(cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
}

// DelayPacer sleeps the configured pace delay on every wait. The delay is
// read per call so config reloads take effect mid-scan.
type DelayPacer struct {
	holder *config.ArchiveConfigHolder
}

// NewDelayPacer builds a fixed-delay pacer.
func NewDelayPacer(holder *config.ArchiveConfigHolder) *DelayPacer {
	return &DelayPacer{holder: holder}
}

func (p *DelayPacer) Wait(ctx context.Context) error {
	delay := p.holder.Get().PaceDelay
	if delay <= 0 {
		return ctx.Err()
	}
	return sleep(ctx, delay)
}

// BucketPacer paces through a Redis token bucket so all replicas share one
// budget. The bucket refills at one call per pace delay.
type BucketPacer struct {
	bucket *TokenBucket
	holder *config.ArchiveConfigHolder
}

// NewBucketPacer builds a Redis-backed pacer.
func NewBucketPacer(bucket *TokenBucket, holder *config.ArchiveConfigHolder) *BucketPacer {
	return &BucketPacer{bucket: bucket, holder: holder}
}

func (p *BucketPacer) Wait(ctx context.Context) error {
	delay := p.holder.Get().PaceDelay
	if delay <= 0 {
		return ctx.Err()
	}
	rate := float64(time.Second) / float64(delay)

	for {
		res, err := p.bucket.Allow(ctx, keyArchivePace, rate, 1)
		if err != nil {
			// Pacing is best-effort; a broken bucket falls back to the
			// local delay rather than stalling the archival run.
			return sleep(ctx, delay)
		}
		if res.Allowed {
			return nil
		}

		retry := res.RetryAfter
		if retry <= 0 {
			retry = delay
		}
		if err := sleep(ctx, retry); err != nil {
			return err
		}
	}
}

// Instrument wraps a pacer so every wait is counted against a collection.
func Instrument(base store.Pacer, m *metrics.Metrics, collection string) store.Pacer {
	if base == nil {
		return nil
	}
	return &instrumentedPacer{base: base, metrics: m, collection: collection}
}

type instrumentedPacer struct {
	base       store.Pacer
	metrics    *metrics.Metrics
	collection string
}

func (p *instrumentedPacer) Wait(ctx context.Context) error {
	p.metrics.RecordPacerWait(ctx, p.collection)
	return p.base.Wait(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
