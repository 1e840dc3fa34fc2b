package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	assert.True(t, ReviewStatusPending.CanTransitionTo(ReviewStatusApproved))
	assert.True(t, ReviewStatusPending.CanTransitionTo(ReviewStatusRejected))
	assert.False(t, ReviewStatusPending.CanTransitionTo(ReviewStatusPending))
	assert.False(t, ReviewStatusApproved.CanTransitionTo(ReviewStatusRejected))
	assert.False(t, ReviewStatusRejected.CanTransitionTo(ReviewStatusPending))
}

func TestReviewItemCloneIsDeep(t *testing.T) {
	now := time.Now()
	item := ReviewItem{ID: 1, Quality: Ref(0.4), Reviewer: Ref("ana"), ReviewedAt: &now}
	c := item.Clone()
	*c.Quality = 0.9
	*c.Reviewer = "bo"
	assert.Equal(t, 0.4, *item.Quality)
	assert.Equal(t, "ana", *item.Reviewer)
	assert.Equal(t, item.ReviewedAt, &now)
}

func TestSortIDs(t *testing.T) {
	assert.Equal(t, []int64{1, 3, 9}, SortIDs([]int64{9, 3, 1, 3}))
}

func TestBulkResultSkipped(t *testing.T) {
	assert.Equal(t, 2, BulkResult{Count: 1, Requested: 3}.Skipped())
	assert.Zero(t, BulkResult{Count: 3, Requested: 3}.Skipped())
}
