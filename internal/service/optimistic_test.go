package service

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tm-inbox-console/internal/models"
	appErrors "github.com/noah-isme/tm-inbox-console/pkg/errors"
)

var reviewClock = time.Date(2026, 4, 30, 8, 0, 0, 0, time.UTC)

func loadedQueue(t *testing.T, repo *queueRepoStub, opts ...QueueOption) *ReviewQueue {
	t.Helper()
	opts = append([]QueueOption{WithClock(func() time.Time { return reviewClock })}, opts...)
	q := NewReviewQueue(repo, opts...)
	if len(repo.pages) > 0 {
		f := q.Filter()
		f.Status = repo.pages[0].Items[0].Status
		require.NoError(t, q.SetFilter(context.Background(), f))
	}
	return q
}

func TestApproveUnderPendingFilterRemovesItem(t *testing.T) {
	repo := newQueueRepo(pageOf(3, queueItem(3, models.ReviewStatusPending), queueItem(5, models.ReviewStatusPending), queueItem(9, models.ReviewStatusPending)))
	notices := NewNoticeBuffer()
	metrics := &queueMetricsStub{}
	q := loadedQueue(t, repo, WithNotifier(notices), WithQueueMetrics(metrics), WithReviewer("ana"))
	q.Select(5, 9)

	res, err := q.Approve(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusApproved, res.NewStatus)

	snap := q.Snapshot()
	assert.Equal(t, []int64{3, 9}, models.ItemIDs(snap.Page.Items))
	assert.Equal(t, int64(2), snap.Page.TotalItems)
	assert.Equal(t, []int64{9}, snap.Selected)
	assert.Empty(t, snap.InFlight)
	assert.Equal(t, "ana", repo.reviews[0].Reviewer)

	got := notices.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, NoticeSuccess, got[0].Kind)
	assert.Equal(t, "Approved", got[0].Title)
	assert.Equal(t, "Item #5 approved.", got[0].Detail)
	assert.Equal(t, 1, metrics.mutations["approve:committed"])
}

func TestApproveUnderApprovedFilterKeepsItem(t *testing.T) {
	repo := newQueueRepo(pageOf(1, queueItem(7, models.ReviewStatusPending)))
	q := NewReviewQueue(repo, WithReviewer("ana"))
	f := q.Filter()
	f.Status = models.ReviewStatusApproved
	require.NoError(t, q.SetFilter(context.Background(), f))

	_, err := q.Approve(context.Background(), 7)
	require.NoError(t, err)
	item, ok := q.Item(7)
	require.True(t, ok)
	assert.Equal(t, models.ReviewStatusApproved, item.Status)
	require.NotNil(t, item.ReviewedAt)
	assert.Equal(t, time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC), *item.ReviewedAt)
	assert.Equal(t, "ana", *item.Reviewer)
}

func TestOptimisticCopyIsVisibleBeforeResponse(t *testing.T) {
	repo := newQueueRepo(pageOf(1, queueItem(7, models.ReviewStatusPending)))
	repo.reviewGate = make(chan reviewReply)
	q := loadedQueue(t, repo)

	done := make(chan error, 1)
	go func() {
		_, err := q.Reject(context.Background(), 7)
		done <- err
	}()

	require.Eventually(t, func() bool { return q.Snapshot().IsInFlight(7) }, time.Second, time.Millisecond)
	item, _ := q.Item(7)
	assert.Equal(t, models.ReviewStatusRejected, item.Status)
	assert.Equal(t, DefaultReviewer, *item.Reviewer)
	assert.Equal(t, reviewClock, *item.ReviewedAt)

	_, err := q.Reject(context.Background(), 7)
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrMutationInFlight.Code))

	repo.reviewGate <- reviewReply{res: &models.ReviewResult{OK: true, ID: 7, NewStatus: models.ReviewStatusRejected}}
	require.NoError(t, <-done)
	assert.False(t, q.Snapshot().IsInFlight(7))
	assert.Len(t, repo.reviews, 1)
}

func TestFailedReviewRestoresExactItem(t *testing.T) {
	original := queueItem(7, models.ReviewStatusPending)
	repo := newQueueRepo(pageOf(1, original))
	repo.reviewErr = appErrors.NewRequestError(http.StatusConflict, "Bookpair 7 is already approved", nil)
	notices := NewNoticeBuffer()
	metrics := &queueMetricsStub{}
	q := loadedQueue(t, repo, WithNotifier(notices), WithQueueMetrics(metrics))

	before, err := json.Marshal(q.Snapshot().Page.Items[0])
	require.NoError(t, err)

	_, err = q.Approve(context.Background(), 7)
	require.Error(t, err)

	after, err := json.Marshal(q.Snapshot().Page.Items[0])
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
	assert.Empty(t, q.Snapshot().InFlight)

	got := notices.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, NoticeError, got[0].Kind)
	assert.Equal(t, "Approve failed", got[0].Title)
	assert.Equal(t, "Bookpair 7 is already approved", got[0].Detail)
	assert.Equal(t, 1, metrics.mutations["approve:rolled_back"])
}

func TestReviewRefusals(t *testing.T) {
	repo := newQueueRepo(pageOf(1, queueItem(7, models.ReviewStatusApproved)))
	metrics := &queueMetricsStub{}
	q := loadedQueue(t, repo, WithQueueMetrics(metrics))

	_, err := q.Reject(context.Background(), 7)
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrInvalidTransition.Code))

	_, err = q.Approve(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrNotFound.Code))

	assert.Empty(t, repo.reviews)
	assert.Equal(t, 1, metrics.mutations["reject:refused"])
	assert.Equal(t, 1, metrics.mutations["approve:refused"])
}

func TestRefreshDuringReviewKeepsOverlay(t *testing.T) {
	repo := newQueueRepo(
		pageOf(2, queueItem(7, models.ReviewStatusPending), queueItem(8, models.ReviewStatusPending)),
	)
	repo.reviewGate = make(chan reviewReply)
	q := loadedQueue(t, repo)

	done := make(chan error, 1)
	go func() {
		_, err := q.Approve(context.Background(), 7)
		done <- err
	}()
	require.Eventually(t, func() bool { return q.Snapshot().IsInFlight(7) }, time.Second, time.Millisecond)

	require.NoError(t, q.Refresh(context.Background()))
	item, _ := q.Item(7)
	assert.Equal(t, models.ReviewStatusApproved, item.Status)

	repo.reviewGate <- reviewReply{err: appErrors.NewRequestError(0, "inbox service unreachable", nil)}
	require.Error(t, <-done)
	item, _ = q.Item(7)
	assert.Equal(t, models.ReviewStatusPending, item.Status)
	assert.Nil(t, item.Reviewer)
}

func TestRollbackLeavesNewerServerCopyAlone(t *testing.T) {
	repo := newQueueRepo(
		pageOf(1, queueItem(7, models.ReviewStatusPending)),
	)
	repo.reviewGate = make(chan reviewReply)
	q := NewReviewQueue(repo)
	f := q.Filter()
	f.Status = models.ReviewStatusApproved
	require.NoError(t, q.SetFilter(context.Background(), f))

	done := make(chan error, 1)
	go func() {
		_, err := q.Approve(context.Background(), 7)
		done <- err
	}()
	require.Eventually(t, func() bool { return q.Snapshot().IsInFlight(7) }, time.Second, time.Millisecond)

	// Someone else rejected the item meanwhile.
	repo.mu.Lock()
	repo.pages = []*models.Page[models.ReviewItem]{pageOf(1, queueItem(7, models.ReviewStatusRejected))}
	repo.mu.Unlock()
	require.NoError(t, q.Refresh(context.Background()))

	repo.reviewGate <- reviewReply{err: appErrors.NewRequestError(http.StatusConflict, "Bookpair 7 is already rejected", nil)}
	require.Error(t, <-done)
	item, _ := q.Item(7)
	assert.Equal(t, models.ReviewStatusRejected, item.Status)
}

func TestReviewAfterCloseIsRefused(t *testing.T) {
	repo := newQueueRepo(pageOf(1, queueItem(7, models.ReviewStatusPending)))
	q := loadedQueue(t, repo)
	q.Close()
	_, err := q.Approve(context.Background(), 7)
	assert.ErrorIs(t, err, appErrors.ErrViewClosed)
}
