package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tm-inbox-console/internal/models"
	"github.com/noah-isme/tm-inbox-console/internal/repository"
)

type lookupRepoStub struct {
	seriesCalls atomic.Int32
	bookCalls   atomic.Int32
	delay       time.Duration
	err         error
}

func (s *lookupRepoStub) ListSeries(context.Context) ([]models.SeriesMeta, error) {
	s.seriesCalls.Add(1)
	time.Sleep(s.delay)
	if s.err != nil {
		return nil, s.err
	}
	return []models.SeriesMeta{{ID: 1, Name: "The Silver Road"}, {ID: 2, Name: "Harbor Lights"}}, nil
}

func (s *lookupRepoStub) ListBooks(_ context.Context, seriesID *int64) ([]models.BookMeta, error) {
	s.bookCalls.Add(1)
	if seriesID != nil && *seriesID == 2 {
		return []models.BookMeta{{ID: 21, Title: "Tidewater"}}, nil
	}
	return []models.BookMeta{{ID: 11, Title: "Ashes of Morning"}, {ID: 21, Title: "Tidewater"}}, nil
}

func (s *lookupRepoStub) SuggestSourceTags(_ context.Context, prefix string) ([]string, error) {
	return []string{prefix + "-import"}, nil
}

func newCachedLookup(repo *lookupRepoStub) *LookupService {
	cache := NewCacheService(repository.NewMemoryCacheRepository(), nil, time.Minute, nil, true)
	return NewLookupService(repo, cache, time.Minute, nil)
}

func TestLookupSeriesIsCached(t *testing.T) {
	repo := &lookupRepoStub{}
	svc := newCachedLookup(repo)

	for i := 0; i < 3; i++ {
		series, err := svc.Series(context.Background())
		require.NoError(t, err)
		assert.Len(t, series, 2)
	}
	assert.Equal(t, int32(1), repo.seriesCalls.Load())

	require.NoError(t, svc.Invalidate(context.Background()))
	_, err := svc.Series(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), repo.seriesCalls.Load())
}

func TestLookupCollapsesConcurrentLoads(t *testing.T) {
	repo := &lookupRepoStub{delay: 50 * time.Millisecond}
	svc := NewLookupService(repo, nil, 0, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Series(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Less(t, repo.seriesCalls.Load(), int32(5))
}

func TestLookupOptionsNarrowBooksBySeries(t *testing.T) {
	repo := &lookupRepoStub{}
	svc := newCachedLookup(repo)

	f, err := models.DefaultFilter().Apply(models.SetSeries(models.Ref(int64(2))))
	require.NoError(t, err)
	opts, err := svc.Options(context.Background(), f)
	require.NoError(t, err)
	assert.Len(t, opts.Series, 2)
	assert.Equal(t, []models.BookMeta{{ID: 21, Title: "Tidewater"}}, opts.Books)

	all, err := svc.Books(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, int32(2), repo.bookCalls.Load())
}

func TestLookupFailureIsReturned(t *testing.T) {
	repo := &lookupRepoStub{err: errors.New("down")}
	svc := newCachedLookup(repo)
	_, err := svc.Options(context.Background(), models.DefaultFilter())
	require.Error(t, err)
}

func TestSuggestSourceTags(t *testing.T) {
	svc := NewLookupService(&lookupRepoStub{}, nil, 0, nil)
	tags, err := svc.SuggestSourceTags(context.Background(), "  epub ")
	require.NoError(t, err)
	assert.Equal(t, []string{"epub-import"}, tags)
}
