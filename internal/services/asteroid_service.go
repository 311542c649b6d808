package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cosmicwatch/neowatch/internal/cache"
	"github.com/cosmicwatch/neowatch/internal/feed"
	"github.com/cosmicwatch/neowatch/internal/neo"
	apperrors "github.com/cosmicwatch/neowatch/pkg/errors"
	"github.com/cosmicwatch/neowatch/pkg/logger"
)

// FeedSource fetches classified records from the upstream provider.
type FeedSource interface {
	FetchRange(ctx context.Context, start, end time.Time) ([]neo.AsteroidRecord, error)
	FetchEntity(ctx context.Context, id string) (*neo.AsteroidRecord, error)
}

// DateRange is an inclusive window of UTC calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Span returns the number of days between Start and End.
func (r DateRange) Span() int {
	return int(r.End.Sub(r.Start).Hours() / 24)
}

// ParseDateRange resolves the feed query parameters. A single date takes
// precedence; otherwise both bounds are required. Nothing at all means today.
func ParseDateRange(date, start, end string, now time.Time) (DateRange, error) {
	date, start, end = strings.TrimSpace(date), strings.TrimSpace(start), strings.TrimSpace(end)

	switch {
	case date != "":
		day, err := neo.ParseDate(date)
		if err != nil {
			return DateRange{}, apperrors.ErrInvalidDateRange.WithInternal(err)
		}
		return DateRange{Start: day, End: day}, nil
	case start == "" && end == "":
		today := neo.UTCMidnight(now)
		return DateRange{Start: today, End: today}, nil
	case start == "" || end == "":
		return DateRange{}, apperrors.ErrInvalidDateRange
	}

	from, err := neo.ParseDate(start)
	if err != nil {
		return DateRange{}, apperrors.ErrInvalidDateRange.WithInternal(err)
	}
	to, err := neo.ParseDate(end)
	if err != nil {
		return DateRange{}, apperrors.ErrInvalidDateRange.WithInternal(err)
	}

	r := DateRange{Start: from, End: to}
	if to.Before(from) || r.Span() > feed.MaxRangeDays {
		return DateRange{}, apperrors.ErrInvalidDateRange.WithMessage(
			fmt.Sprintf("Date range must be in order and be at most %d days apart", feed.MaxRangeDays))
	}
	return r, nil
}

// AsteroidService serves classified records through the feed cache.
type AsteroidService struct {
	source FeedSource
	cache  *cache.FeedCache
	now    func() time.Time
	log    *zap.Logger
}

// AsteroidServiceOption customises an AsteroidService.
type AsteroidServiceOption func(*AsteroidService)

// WithAsteroidClock overrides the clock used to pick an object's next approach.
func WithAsteroidClock(now func() time.Time) AsteroidServiceOption {
	return func(s *AsteroidService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewAsteroidService constructs an AsteroidService. A nil cache gets a
// process-local one.
func NewAsteroidService(source FeedSource, feedCache *cache.FeedCache, opts ...AsteroidServiceOption) (*AsteroidService, error) {
	if source == nil {
		return nil, errors.New("asteroid service: feed source is required")
	}
	if feedCache == nil {
		feedCache = cache.NewFeedCache(nil)
	}
	svc := &AsteroidService{
		source: source,
		cache:  feedCache,
		now:    time.Now,
		log:    logger.WithModule("asteroids"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// GetRangeRaw returns the cached JSON encoding of the records approaching in r.
func (s *AsteroidService) GetRangeRaw(ctx context.Context, r DateRange) ([]byte, error) {
	ctx = ensureContext(ctx)
	data, err := s.cache.GetOrFetch(ctx, cache.RangeKey(r.Start, r.End), func(ctx context.Context) ([]byte, error) {
		records, err := s.source.FetchRange(ctx, r.Start, r.End)
		if err != nil {
			return nil, err
		}
		if records == nil {
			records = []neo.AsteroidRecord{}
		}
		return json.Marshal(records)
	})
	if err != nil {
		return nil, translateFeedError(err)
	}
	return data, nil
}

// GetRange returns the classified records approaching in r.
func (s *AsteroidService) GetRange(ctx context.Context, r DateRange) ([]neo.AsteroidRecord, error) {
	data, err := s.GetRangeRaw(ctx, r)
	if err != nil {
		return nil, err
	}
	var records []neo.AsteroidRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("asteroid service: decode range: %w", err))
	}
	return records, nil
}

// GetEntityRaw returns the cached JSON encoding of one object's detail record
// as it was annotated when fetched. Callers that need the current next
// approach use GetEntity.
func (s *AsteroidService) GetEntityRaw(ctx context.Context, id string) ([]byte, error) {
	ctx = ensureContext(ctx)
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewBadRequest("asteroid id is required")
	}

	data, err := s.cache.GetOrFetch(ctx, cache.EntityKey(id), func(ctx context.Context) ([]byte, error) {
		record, err := s.source.FetchEntity(ctx, id)
		if err != nil {
			return nil, err
		}
		return json.Marshal(record)
	})
	if err != nil {
		return nil, translateFeedError(err)
	}
	return data, nil
}

// GetEntity returns one object with its orbital elements. The next approach
// and risk tier are recomputed against the current UTC day on every call
// since the cached entry can outlive the day it was fetched on.
func (s *AsteroidService) GetEntity(ctx context.Context, id string) (*neo.AsteroidRecord, error) {
	data, err := s.GetEntityRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	var record neo.AsteroidRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("asteroid service: decode %s: %w", id, err))
	}
	record.Annotate(s.now())
	return &record, nil
}

// Warm pre-populates the cache for the current week window and the given
// objects. Failures are logged and counted, never returned individually.
func (s *AsteroidService) Warm(ctx context.Context, now time.Time, ids []string) (warmed int, failed int) {
	today := neo.UTCMidnight(now)
	window := DateRange{Start: today, End: today.AddDate(0, 0, feed.MaxRangeDays-1)}
	if _, err := s.GetRangeRaw(ctx, window); err != nil {
		s.log.Warn("warm range failed", zap.Error(err))
		failed++
	} else {
		warmed++
	}

	for _, id := range normaliseIDs(ids) {
		if _, err := s.GetEntityRaw(ctx, id); err != nil {
			s.log.Warn("warm entity failed", zap.String("asteroid_id", id), zap.Error(err))
			failed++
			continue
		}
		warmed++
	}
	return warmed, failed
}

func translateFeedError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, feed.ErrNotFound):
		return apperrors.ErrAsteroidNotFound.WithInternal(err)
	case errors.Is(err, feed.ErrInvalidRange):
		return apperrors.ErrInvalidDateRange.WithInternal(err)
	default:
		return apperrors.ErrUpstreamUnavailable.WithInternal(err)
	}
}
