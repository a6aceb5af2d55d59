package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/weather-telemetry-api/internal/domain"
	"github.com/couchcryptid/weather-telemetry-api/internal/observability"
	"github.com/couchcryptid/weather-telemetry-api/internal/telemetry"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// PointSource reads up to limit stored rows strictly after cursor, oldest
// first, and returns the decoded points with the position of the last row.
type PointSource interface {
	PointsAfter(ctx context.Context, cursor telemetry.FeedCursor, limit int) (telemetry.FeedPage, error)
}

// Enricher adds city names to points before they are published.
type Enricher interface {
	EnrichCities(ctx context.Context, points []domain.WeatherPoint) []domain.WeatherPoint
}

// BatchPublisher writes points to the live feed.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, points []domain.WeatherPoint) error
}

// Options tune the relay loop.
type Options struct {
	Interval  time.Duration // wait between polls once caught up
	BatchSize int
	Start     time.Time // initial cursor; points at or before it are never published
}

// Relay polls storage for new points and publishes them to the live feed.
type Relay struct {
	source    PointSource
	enricher  Enricher
	publisher BatchPublisher
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	interval  time.Duration
	batchSize int

	mu     sync.Mutex
	cursor telemetry.FeedCursor
}

// New creates a Relay. enricher may be nil to publish points without city names.
func New(src PointSource, enricher Enricher, pub BatchPublisher, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Relay {
	if opts.BatchSize < 1 {
		opts.BatchSize = 500
	}
	return &Relay{
		source:    src,
		enricher:  enricher,
		publisher: pub,
		logger:    logger,
		metrics:   metrics,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		cursor:    telemetry.CursorAt(opts.Start),
	}
}

// CheckReadiness returns nil when the most recent poll of storage succeeded.
func (r *Relay) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("live feed has no successful poll")
	}
	return nil
}

// Cursor returns the position of the last row the relay has read past.
func (r *Relay) Cursor() telemetry.FeedCursor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// Run executes the poll-publish loop until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("live feed started", "interval", r.interval, "batch_size", r.batchSize, "cursor", r.Cursor().Timestamp)
	r.metrics.FeedRunning.Set(1)
	defer r.metrics.FeedRunning.Set(0)

	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("live feed stopping", "reason", ctx.Err())
			return nil
		default:
		}

		n, err := r.pollOnce(ctx)
		switch {
		case ctx.Err() != nil:
			r.logger.Info("live feed stopping", "reason", ctx.Err())
			return nil
		case err != nil:
			r.logger.Error("live feed poll failed", "error", err, "retry_in", backoff)
			if !retry.SleepWithContext(ctx, backoff) {
				return nil
			}
			backoff = retry.NextBackoff(backoff, maxBackoff)
			continue
		}

		backoff = initialBackoff
		// A full page of stored rows means more is probably waiting.
		if n == r.batchSize {
			continue
		}
		if !retry.SleepWithContext(ctx, r.interval) {
			return nil
		}
	}
}

// pollOnce publishes one page and moves the cursor past it. It returns the
// number of stored rows the cursor moved past, decodable or not.
func (r *Relay) pollOnce(ctx context.Context) (int, error) {
	cursor := r.Cursor()
	page, err := r.source.PointsAfter(ctx, cursor, r.batchSize)
	if err != nil {
		r.ready.Store(false)
		return 0, fmt.Errorf("fetch points after %s: %w", cursor.Timestamp.Format(time.RFC3339), err)
	}
	r.ready.Store(true)
	if page.Rows == 0 || page.Next.Equal(cursor) {
		return 0, nil
	}

	points := page.Points
	if len(points) > 0 {
		if r.enricher != nil {
			points = r.enricher.EnrichCities(ctx, points)
		}
		if err := r.publisher.PublishBatch(ctx, points); err != nil {
			return 0, err
		}
		r.metrics.FeedPointsPublished.Add(float64(len(points)))
	}
	if skipped := page.Rows - len(points); skipped > 0 {
		r.logger.Warn("live feed skipped undecodable rows", "count", skipped)
	}

	r.mu.Lock()
	r.cursor = page.Next
	r.mu.Unlock()
	return page.Rows, nil
}
