package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tm-inbox-console/internal/dto"
	"github.com/noah-isme/tm-inbox-console/internal/inboxtest"
	"github.com/noah-isme/tm-inbox-console/internal/models"
	"github.com/noah-isme/tm-inbox-console/internal/repository"
	appErrors "github.com/noah-isme/tm-inbox-console/pkg/errors"
)

type bulkRepoStub struct {
	requests []dto.BulkReviewRequest
	count    int
	err      error
	gate     chan struct{}
}

func (s *bulkRepoStub) BulkApprove(_ context.Context, req dto.BulkReviewRequest) (*models.BulkResult, error) {
	return s.do(req)
}

func (s *bulkRepoStub) BulkReject(_ context.Context, req dto.BulkReviewRequest) (*models.BulkResult, error) {
	return s.do(req)
}

func (s *bulkRepoStub) do(req dto.BulkReviewRequest) (*models.BulkResult, error) {
	s.requests = append(s.requests, req)
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return nil, s.err
	}
	return &models.BulkResult{OK: true, Count: s.count}, nil
}

type bulkMetricsStub struct{ outcomes []string }

func (m *bulkMetricsStub) RecordBulk(action, outcome string, _, _ int) {
	m.outcomes = append(m.outcomes, action+":"+outcome)
}

func selectedQueue(t *testing.T, ids ...int64) (*ReviewQueue, *queueRepoStub) {
	t.Helper()
	items := make([]models.ReviewItem, len(ids))
	for i, id := range ids {
		items[i] = queueItem(id, models.ReviewStatusPending)
	}
	repo := newQueueRepo(pageOf(int64(len(ids)), items...))
	q := NewReviewQueue(repo)
	require.NoError(t, q.Refresh(context.Background()))
	q.Select(ids...)
	return q, repo
}

func TestBulkApproveClearsSelectionAndRefetchesOnce(t *testing.T) {
	q, queueRepo := selectedQueue(t, 3, 5, 9)
	bulkRepo := &bulkRepoStub{count: 3}
	notices := NewNoticeBuffer()
	metrics := &bulkMetricsStub{}
	b := NewBulkCoordinator(bulkRepo, q, WithBulkNotifier(notices), WithBulkMetrics(metrics), WithBulkReviewer("ana"))

	require.NoError(t, b.Open(BulkApprove))
	require.NoError(t, b.SetNote("batch A"))
	listsBefore := queueRepo.listCount()

	res, err := b.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)

	require.Len(t, bulkRepo.requests, 1)
	assert.Equal(t, []int64{3, 5, 9}, bulkRepo.requests[0].IDs)
	assert.Equal(t, "batch A", bulkRepo.requests[0].Note)
	assert.Equal(t, "ana", bulkRepo.requests[0].Reviewer)

	assert.Empty(t, q.Selected())
	assert.Equal(t, BulkClosed, b.State().Phase)
	assert.Equal(t, listsBefore+1, queueRepo.listCount())
	assert.Equal(t, []string{"approve:succeeded"}, metrics.outcomes)

	got := notices.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, "Bulk approve complete", got[0].Title)
	assert.Equal(t, "3 of 3 items approved.", got[0].Detail)
}

func TestBulkReportsSkippedItems(t *testing.T) {
	q, _ := selectedQueue(t, 3, 5, 9)
	notices := NewNoticeBuffer()
	b := NewBulkCoordinator(&bulkRepoStub{count: 2}, q, WithBulkNotifier(notices))

	require.NoError(t, b.Open(BulkReject))
	res, err := b.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped())
	assert.Equal(t, "2 of 3 items rejected. 1 skipped (already reviewed).", notices.Drain()[0].Detail)
}

func TestBulkFailureKeepsSelection(t *testing.T) {
	q, queueRepo := selectedQueue(t, 3, 5)
	bulkRepo := &bulkRepoStub{err: appErrors.NewRequestError(http.StatusBadGateway, "upstream down", nil)}
	notices := NewNoticeBuffer()
	b := NewBulkCoordinator(bulkRepo, q, WithBulkNotifier(notices))
	listsBefore := queueRepo.listCount()

	require.NoError(t, b.Open(BulkApprove))
	_, err := b.Confirm(context.Background())
	require.Error(t, err)

	assert.Equal(t, []int64{3, 5}, q.Selected())
	state := b.State()
	assert.Equal(t, BulkClosed, state.Phase)
	assert.Equal(t, "upstream down", state.LastError)
	assert.Equal(t, listsBefore, queueRepo.listCount())
	got := notices.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, NoticeError, got[0].Kind)
	assert.Equal(t, "Bulk approve failed", got[0].Title)
}

func TestBulkRequiresSelection(t *testing.T) {
	q, _ := selectedQueue(t, 3)
	q.ClearSelection()
	b := NewBulkCoordinator(&bulkRepoStub{}, q)
	assert.ErrorIs(t, b.Open(BulkApprove), appErrors.ErrEmptySelection)
	_, err := b.Confirm(context.Background())
	assert.ErrorIs(t, err, appErrors.ErrBulkNotOpen)
	assert.True(t, appErrors.IsValidation(b.Open("archive")))
}

func TestBulkDialogIsLockedWhileSubmitting(t *testing.T) {
	q, _ := selectedQueue(t, 3, 5)
	bulkRepo := &bulkRepoStub{count: 2, gate: make(chan struct{})}
	b := NewBulkCoordinator(bulkRepo, q)
	require.NoError(t, b.Open(BulkApprove))

	done := make(chan error, 1)
	go func() {
		_, err := b.Confirm(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return b.State().Busy() }, time.Second, time.Millisecond)

	assert.ErrorIs(t, b.Cancel(), appErrors.ErrBulkInFlight)
	assert.ErrorIs(t, b.SetNote("late"), appErrors.ErrBulkInFlight)
	_, err := b.Confirm(context.Background())
	assert.ErrorIs(t, err, appErrors.ErrBulkInFlight)

	close(bulkRepo.gate)
	require.NoError(t, <-done)
	assert.Len(t, bulkRepo.requests, 1)
}

func TestBulkSuccessKeepsIdsSelectedDuringSubmit(t *testing.T) {
	q, _ := selectedQueue(t, 3, 5, 9)
	q.Deselect(9)
	bulkRepo := &bulkRepoStub{count: 2, gate: make(chan struct{})}
	b := NewBulkCoordinator(bulkRepo, q)
	require.NoError(t, b.Open(BulkApprove))

	done := make(chan error, 1)
	go func() {
		_, err := b.Confirm(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return b.State().Busy() }, time.Second, time.Millisecond)
	q.Select(9)

	close(bulkRepo.gate)
	require.NoError(t, <-done)
	assert.Equal(t, []int64{3, 5}, bulkRepo.requests[0].IDs)
	assert.Equal(t, []int64{9}, q.Selected())
}

func TestBulkCancelClosesDialog(t *testing.T) {
	q, _ := selectedQueue(t, 3)
	b := NewBulkCoordinator(&bulkRepoStub{}, q)
	require.NoError(t, b.Open(BulkReject))
	require.NoError(t, b.SetNote("typo"))
	require.NoError(t, b.Cancel())
	state := b.State()
	assert.Equal(t, BulkClosed, state.Phase)
	assert.Empty(t, state.Note)
	assert.Equal(t, []int64{3}, q.Selected())
}

func TestBulkAgainstInboxService(t *testing.T) {
	gin.SetMode(gin.TestMode)
	fake := inboxtest.New()
	srv := httptest.NewServer(fake.Handler())
	defer srv.Close()
	fake.Seed(queueItem(3, models.ReviewStatusPending), queueItem(5, models.ReviewStatusPending), queueItem(9, models.ReviewStatusPending))

	repo := repository.NewInboxRepository(repository.InboxRepositoryConfig{BaseURL: srv.URL})
	q := NewReviewQueue(repo)
	require.NoError(t, q.Refresh(context.Background()))
	q.Select(3, 9)

	b := NewBulkCoordinator(repo, q)
	require.NoError(t, b.Open(BulkApprove))
	require.NoError(t, b.SetNote("batch A"))
	_, err := b.Confirm(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{5}, models.ItemIDs(q.Snapshot().Page.Items))
	assert.Equal(t, 1, fake.Calls(inboxtest.EndpointBulkApprove))
	assert.Equal(t, 2, fake.Calls(inboxtest.EndpointList))
	stored, _ := fake.Item(9)
	assert.Equal(t, models.ReviewStatusApproved, stored.Status)
}
