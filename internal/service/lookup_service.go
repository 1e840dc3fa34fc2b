package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/tm-inbox-console/internal/models"
)

const (
	lookupSeriesKey  = "lookup:series"
	lookupBooksKey   = "lookup:books:"
	lookupKeyPattern = "lookup:*"
)

type lookupRepository interface {
	ListSeries(ctx context.Context) ([]models.SeriesMeta, error)
	ListBooks(ctx context.Context, seriesID *int64) ([]models.BookMeta, error)
	SuggestSourceTags(ctx context.Context, prefix string) ([]string, error)
}

// LookupOptions holds the dropdown choices for a filter.
type LookupOptions struct {
	Series []models.SeriesMeta
	Books  []models.BookMeta
}

// LookupService serves filter dropdown data. Its failures never touch the
// review queue.
type LookupService struct {
	repo   lookupRepository
	cache  *CacheService
	ttl    time.Duration
	logger *zap.Logger
	group  singleflight.Group
}

// NewLookupService constructs a lookup service. cache may be nil.
func NewLookupService(repo lookupRepository, cache *CacheService, ttl time.Duration, logger *zap.Logger) *LookupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LookupService{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

// Series lists every series.
func (s *LookupService) Series(ctx context.Context) ([]models.SeriesMeta, error) {
	return cachedLookup(ctx, s, lookupSeriesKey, s.repo.ListSeries)
}

// Books lists the books of seriesID, or every book when it is nil.
func (s *LookupService) Books(ctx context.Context, seriesID *int64) ([]models.BookMeta, error) {
	key := lookupBooksKey + "all"
	if seriesID != nil {
		key = lookupBooksKey + strconv.FormatInt(*seriesID, 10)
	}
	return cachedLookup(ctx, s, key, func(ctx context.Context) ([]models.BookMeta, error) {
		return s.repo.ListBooks(ctx, seriesID)
	})
}

// Options loads series and the books narrowed by f concurrently.
func (s *LookupService) Options(ctx context.Context, f models.FilterState) (*LookupOptions, error) {
	out := &LookupOptions{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		series, err := s.Series(gctx)
		out.Series = series
		return err
	})
	g.Go(func() error {
		books, err := s.Books(gctx, f.SeriesID)
		out.Books = books
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("load lookup options failed", zap.Error(err))
		return nil, err
	}
	return out, nil
}

// SuggestSourceTags completes a source tag prefix. Suggestions are not cached.
func (s *LookupService) SuggestSourceTags(ctx context.Context, prefix string) ([]string, error) {
	prefix = strings.TrimSpace(prefix)
	v, err, _ := s.group.Do("tags:"+strings.ToLower(prefix), func() (interface{}, error) {
		return s.repo.SuggestSourceTags(ctx, prefix)
	})
	if err != nil {
		return nil, err
	}
	return append([]string(nil), v.([]string)...), nil
}

// Invalidate forgets cached lookups.
func (s *LookupService) Invalidate(ctx context.Context) error {
	return s.cache.Invalidate(ctx, lookupKeyPattern)
}

// cachedLookup reads key from cache, else loads it once for all concurrent
// callers and stores the result.
func cachedLookup[T any](ctx context.Context, s *LookupService, key string, load func(context.Context) ([]T, error)) ([]T, error) {
	var cached []T
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, nil
	}
	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		res, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if res == nil {
			res = []T{}
		}
		_ = s.cache.Set(ctx, key, res, s.ttl)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("lookup load shared", zap.String("key", key))
	}
	return append([]T(nil), v.([]T)...), nil
}
