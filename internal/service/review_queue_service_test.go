package service

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tm-inbox-console/internal/dto"
	"github.com/noah-isme/tm-inbox-console/internal/models"
	appErrors "github.com/noah-isme/tm-inbox-console/pkg/errors"
)

type listCall struct {
	filter models.FilterState
	reply  chan listReply
}

type listReply struct {
	page *models.Page[models.ReviewItem]
	err  error
}

type reviewReply struct {
	res *models.ReviewResult
	err error
}

// queueRepoStub answers list calls from pages, or hands them to the test
// through calls when gated is set.
type queueRepoStub struct {
	mu      sync.Mutex
	pages   []*models.Page[models.ReviewItem]
	listErr error
	lists   []models.FilterState
	gated   bool
	calls   chan listCall

	reviewGate chan reviewReply
	reviews    []dto.ReviewRequest
	reviewErr  error
}

func newQueueRepo(pages ...*models.Page[models.ReviewItem]) *queueRepoStub {
	return &queueRepoStub{pages: pages, calls: make(chan listCall, 8)}
}

func (s *queueRepoStub) List(_ context.Context, f models.FilterState) (*models.Page[models.ReviewItem], error) {
	s.mu.Lock()
	s.lists = append(s.lists, f)
	if s.gated {
		s.mu.Unlock()
		call := listCall{filter: f, reply: make(chan listReply, 1)}
		s.calls <- call
		r := <-call.reply
		return r.page, r.err
	}
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	if len(s.pages) == 0 {
		return &models.Page[models.ReviewItem]{Page: f.Page, Size: f.Size}, nil
	}
	p := s.pages[0]
	if len(s.pages) > 1 {
		s.pages = s.pages[1:]
	}
	cp := models.ClonePage(*p)
	return &cp, nil
}

func (s *queueRepoStub) listCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lists)
}

func (s *queueRepoStub) review(id int64, target models.ReviewStatus, req dto.ReviewRequest) (*models.ReviewResult, error) {
	s.mu.Lock()
	s.reviews = append(s.reviews, req)
	gate := s.reviewGate
	err := s.reviewErr
	s.mu.Unlock()
	if gate != nil {
		r := <-gate
		return r.res, r.err
	}
	if err != nil {
		return nil, err
	}
	return &models.ReviewResult{OK: true, ID: id, NewStatus: target, ReviewedAt: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}, nil
}

func (s *queueRepoStub) Approve(_ context.Context, id int64, req dto.ReviewRequest) (*models.ReviewResult, error) {
	return s.review(id, models.ReviewStatusApproved, req)
}

func (s *queueRepoStub) Reject(_ context.Context, id int64, req dto.ReviewRequest) (*models.ReviewResult, error) {
	return s.review(id, models.ReviewStatusRejected, req)
}

type queueMetricsStub struct {
	mu        sync.Mutex
	stale     int
	mutations map[string]int
}

func (m *queueMetricsStub) RecordStaleResponse() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stale++
}

func (m *queueMetricsStub) RecordMutation(action, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mutations == nil {
		m.mutations = map[string]int{}
	}
	m.mutations[action+":"+outcome]++
}

func queueItem(id int64, status models.ReviewStatus) models.ReviewItem {
	q := 0.8
	return models.ReviewItem{
		ID: id, Src: "The dragon slept beneath the hill.", Tgt: "O dragão dormia sob a colina.",
		LangSrc: "en", LangTgt: "pt", Quality: &q, Status: status,
		SourceTag: models.Ref("epub-import"),
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func pageOf(total int64, items ...models.ReviewItem) *models.Page[models.ReviewItem] {
	return &models.Page[models.ReviewItem]{Items: items, Page: 1, Size: 20, TotalItems: total, TotalPages: int((total + 19) / 20)}
}

func TestRefreshLoadsPage(t *testing.T) {
	repo := newQueueRepo(pageOf(2, queueItem(1, models.ReviewStatusPending), queueItem(2, models.ReviewStatusPending)))
	q := NewReviewQueue(repo)
	assert.Equal(t, QueueIdle, q.Snapshot().Status)

	require.NoError(t, q.Refresh(context.Background()))
	snap := q.Snapshot()
	assert.Equal(t, QueueLoaded, snap.Status)
	assert.True(t, snap.HasPage)
	assert.Equal(t, []int64{1, 2}, models.ItemIDs(snap.Page.Items))
}

func TestSnapshotsDoNotAliasState(t *testing.T) {
	repo := newQueueRepo(pageOf(1, queueItem(1, models.ReviewStatusPending)))
	q := NewReviewQueue(repo)
	require.NoError(t, q.Refresh(context.Background()))

	snap := q.Snapshot()
	snap.Page.Items[0].Src = "mutated"
	*snap.Page.Items[0].Quality = 0
	item, ok := q.Item(1)
	require.True(t, ok)
	assert.Equal(t, "The dragon slept beneath the hill.", item.Src)
	assert.Equal(t, 0.8, *item.Quality)
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	repo := newQueueRepo()
	repo.gated = true
	metrics := &queueMetricsStub{}
	q := NewReviewQueue(repo, WithQueueMetrics(metrics))

	firstDone := make(chan error, 1)
	go func() { firstDone <- q.Update(context.Background(), models.SetQuery("dr")) }()
	first := <-repo.calls

	secondDone := make(chan error, 1)
	go func() { secondDone <- q.Update(context.Background(), models.SetQuery("dra")) }()
	second := <-repo.calls

	second.reply <- listReply{page: pageOf(1, queueItem(2, models.ReviewStatusPending))}
	require.NoError(t, <-secondDone)
	first.reply <- listReply{page: pageOf(1, queueItem(1, models.ReviewStatusPending))}
	require.NoError(t, <-firstDone)

	snap := q.Snapshot()
	assert.Equal(t, "dra", snap.Filter.Query)
	assert.Equal(t, []int64{2}, models.ItemIDs(snap.Page.Items))
	assert.Equal(t, QueueLoaded, snap.Status)
	assert.Equal(t, 1, metrics.stale)
}

func TestStaleErrorIsDiscarded(t *testing.T) {
	repo := newQueueRepo()
	repo.gated = true
	q := NewReviewQueue(repo)

	firstDone := make(chan error, 1)
	go func() { firstDone <- q.Update(context.Background(), models.SetStatus(models.ReviewStatusApproved)) }()
	first := <-repo.calls
	secondDone := make(chan error, 1)
	go func() { secondDone <- q.Update(context.Background(), models.SetStatus(models.ReviewStatusRejected)) }()
	second := <-repo.calls

	first.reply <- listReply{err: appErrors.NewRequestError(http.StatusInternalServerError, "boom", nil)}
	require.NoError(t, <-firstDone)
	assert.Equal(t, QueueLoading, q.Snapshot().Status)

	second.reply <- listReply{page: pageOf(0)}
	require.NoError(t, <-secondDone)
	snap := q.Snapshot()
	assert.Equal(t, QueueLoaded, snap.Status)
	assert.Empty(t, snap.Err)
}

func TestListErrorKeepsPreviousPage(t *testing.T) {
	repo := newQueueRepo(pageOf(1, queueItem(1, models.ReviewStatusPending)))
	q := NewReviewQueue(repo)
	require.NoError(t, q.Refresh(context.Background()))

	repo.listErr = appErrors.NewRequestError(http.StatusBadRequest, "qualityMin out of range", nil)
	err := q.Update(context.Background(), models.SetQuery("x"))
	require.Error(t, err)

	snap := q.Snapshot()
	assert.Equal(t, QueueError, snap.Status)
	assert.Equal(t, "qualityMin out of range", snap.Err)
	assert.Equal(t, []int64{1}, models.ItemIDs(snap.Page.Items))
}

func TestInvalidUpdateIssuesNoRequest(t *testing.T) {
	repo := newQueueRepo()
	q := NewReviewQueue(repo)
	err := q.Update(context.Background(), models.SetSize(25))
	require.Error(t, err)
	assert.True(t, appErrors.IsValidation(err))
	assert.Zero(t, repo.listCount())
	assert.Equal(t, 20, q.Filter().Size)
}

func TestConcurrentUpdatesCompose(t *testing.T) {
	for run := 0; run < 200; run++ {
		q := NewReviewQueue(newQueueRepo())
		require.NoError(t, q.Refresh(context.Background()))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, q.Update(context.Background(), models.SetQuery("dra")))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, q.Update(context.Background(), models.SetStatus(models.ReviewStatusApproved)))
		}()
		wg.Wait()

		f := q.Filter()
		require.Equal(t, "dra", f.Query, "run %d", run)
		require.Equal(t, models.ReviewStatusApproved, f.Status, "run %d", run)
	}
}

func TestFilterChangeResetsPage(t *testing.T) {
	repo := newQueueRepo()
	q := NewReviewQueue(repo)
	require.NoError(t, q.Update(context.Background(), models.SetPage(3)))
	assert.Equal(t, 3, q.Filter().Page)

	require.NoError(t, q.Update(context.Background(), models.SetSourceTag("epub-import")))
	f := q.Filter()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, "epub-import", f.SourceTag)
}

func TestNavigateAdoptsLink(t *testing.T) {
	repo := newQueueRepo()
	q := NewReviewQueue(repo)

	link, err := dto.ParseFilterQuery("?status=approved&sort=quality,ASC&page=2&size=50&qualityMin=0.7")
	require.NoError(t, err)
	require.NoError(t, q.Navigate(context.Background(), link))
	f := q.Filter()
	assert.Equal(t, models.ReviewStatusApproved, f.Status)
	assert.Equal(t, 2, f.Page)
	assert.Equal(t, 50, f.Size)
	assert.Equal(t, 0.7, *f.QualityMin)
	assert.Equal(t, link.String(), q.Link().String())

	err = q.Navigate(context.Background(), dto.FilterQuery{"size": "7"})
	require.Error(t, err)
	assert.True(t, appErrors.IsValidation(err))
	assert.Equal(t, 50, q.Filter().Size)
}

func TestSelectionIsPrunedOnNewPage(t *testing.T) {
	repo := newQueueRepo(
		pageOf(3, queueItem(3, models.ReviewStatusPending), queueItem(5, models.ReviewStatusPending), queueItem(9, models.ReviewStatusPending)),
		pageOf(3, queueItem(5, models.ReviewStatusPending), queueItem(9, models.ReviewStatusPending), queueItem(12, models.ReviewStatusPending)),
	)
	q := NewReviewQueue(repo)
	require.NoError(t, q.Refresh(context.Background()))
	q.Select(3, 5, 9, 42)
	assert.Equal(t, []int64{3, 5, 9}, q.Selected())

	require.NoError(t, q.Refresh(context.Background()))
	assert.Equal(t, []int64{5, 9}, q.Selected())
}

func TestToggleAndSelectAll(t *testing.T) {
	repo := newQueueRepo(pageOf(2, queueItem(1, models.ReviewStatusPending), queueItem(2, models.ReviewStatusPending)))
	q := NewReviewQueue(repo)
	require.NoError(t, q.Refresh(context.Background()))

	assert.True(t, q.Toggle(1))
	assert.False(t, q.Toggle(1))
	assert.False(t, q.Toggle(99))
	assert.Empty(t, q.Selected())

	q.SelectAll()
	assert.Equal(t, []int64{1, 2}, q.Selected())
	q.SelectAll()
	assert.Empty(t, q.Selected())
}

func TestCloseDiscardsLateResponses(t *testing.T) {
	repo := newQueueRepo()
	repo.gated = true
	metrics := &queueMetricsStub{}
	q := NewReviewQueue(repo, WithQueueMetrics(metrics))

	done := make(chan error, 1)
	go func() { done <- q.Refresh(context.Background()) }()
	call := <-repo.calls
	q.Close()
	call.reply <- listReply{page: pageOf(1, queueItem(1, models.ReviewStatusPending))}
	require.NoError(t, <-done)

	assert.False(t, q.Snapshot().HasPage)
	assert.Equal(t, 1, metrics.stale)
	assert.ErrorIs(t, q.Refresh(context.Background()), appErrors.ErrViewClosed)
}

func TestSubscribersSeeIncreasingVersions(t *testing.T) {
	repo := newQueueRepo(pageOf(1, queueItem(1, models.ReviewStatusPending)))
	q := NewReviewQueue(repo)

	var seen []QueueSnapshot
	unsubscribe := q.Subscribe(func(s QueueSnapshot) { seen = append(seen, s) })
	require.NoError(t, q.Refresh(context.Background()))
	unsubscribe()
	q.Toggle(1)

	require.Len(t, seen, 2)
	assert.Equal(t, QueueLoading, seen[0].Status)
	assert.Equal(t, QueueLoaded, seen[1].Status)
	assert.Less(t, seen[0].Version, seen[1].Version)
}

func TestResetKeepsPageSize(t *testing.T) {
	repo := newQueueRepo()
	q := NewReviewQueue(repo)
	require.NoError(t, q.Update(context.Background(), models.SetSize(50), models.SetQuery("dragon")))
	require.NoError(t, q.Reset(context.Background()))
	f := q.Filter()
	assert.Equal(t, 50, f.Size)
	assert.Empty(t, f.Query)
	assert.Equal(t, models.ReviewStatusPending, f.Status)
}
