package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tm-inbox-console/internal/dto"
	"github.com/noah-isme/tm-inbox-console/internal/models"
	appErrors "github.com/noah-isme/tm-inbox-console/pkg/errors"
)

// PendingMutation is one optimistic single-item review awaiting the server.
type PendingMutation struct {
	ID        int64
	Target    models.ReviewStatus
	Before    models.ReviewItem
	After     models.ReviewItem
	Note      string
	StartedAt time.Time
}

// overlay applies the provisional review to item.
func (p *PendingMutation) overlay(item models.ReviewItem) models.ReviewItem {
	out := item.Clone()
	out.Status = p.Target
	out.Reviewer = p.After.Reviewer
	out.ReviewedAt = p.After.ReviewedAt
	return out.Clone()
}

// Approve optimistically approves a visible item.
func (q *ReviewQueue) Approve(ctx context.Context, id int64) (*models.ReviewResult, error) {
	return q.Review(ctx, id, models.ReviewStatusApproved, "")
}

// Reject optimistically rejects a visible item.
func (q *ReviewQueue) Reject(ctx context.Context, id int64) (*models.ReviewResult, error) {
	return q.Review(ctx, id, models.ReviewStatusRejected, "")
}

// Review applies target to the local copy of item id immediately, then asks
// the server. Exactly one of commit or rollback runs per call. A second
// review of the same item is refused while the first is in flight.
func (q *ReviewQueue) Review(ctx context.Context, id int64, target models.ReviewStatus, note string) (*models.ReviewResult, error) {
	action := actionName(target)

	p, err := q.begin(id, target, note)
	if err != nil {
		if q.metrics != nil {
			q.metrics.RecordMutation(action, "refused")
		}
		return nil, err
	}

	settled := false
	defer func() {
		if !settled {
			q.rollback(p, appErrors.Clone(appErrors.ErrInternal, "review aborted"))
		}
	}()

	req := dto.ReviewRequest{Reviewer: q.reviewer, Note: note}
	var res *models.ReviewResult
	if target == models.ReviewStatusApproved {
		res, err = q.repo.Approve(ctx, id, req)
	} else {
		res, err = q.repo.Reject(ctx, id, req)
	}
	settled = true

	if err != nil {
		q.rollback(p, err)
		return nil, err
	}
	q.commit(p, res)
	return res, nil
}

func (q *ReviewQueue) begin(id int64, target models.ReviewStatus, note string) (*PendingMutation, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, appErrors.ErrViewClosed
	}
	if _, busy := q.inFlight[id]; busy {
		q.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrMutationInFlight, fmt.Sprintf("%s already has a pending review", itemLabel(id)))
	}
	idx := q.indexLocked(id)
	if idx < 0 {
		q.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s is not on the current page", itemLabel(id)))
	}
	current := q.page.Items[idx]
	if !current.Status.CanTransitionTo(target) {
		q.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("%s is already %s", itemLabel(id), current.Status))
	}

	reviewer := q.reviewer
	if reviewer == "" {
		reviewer = DefaultReviewer
	}
	now := q.now()
	after := current.Clone()
	after.Status = target
	after.Reviewer = &reviewer
	after.ReviewedAt = &now

	p := &PendingMutation{
		ID:        id,
		Target:    target,
		Before:    current.Clone(),
		After:     after,
		Note:      note,
		StartedAt: now,
	}
	q.page.Items[idx] = after.Clone()
	q.inFlight[id] = p
	emit := q.changedLocked()
	q.mu.Unlock()
	emit()
	return p, nil
}

// commit adopts the server outcome. An item whose new status no longer
// matches the status filter leaves the page.
func (q *ReviewQueue) commit(p *PendingMutation, res *models.ReviewResult) {
	action := actionName(p.Target)

	q.mu.Lock()
	delete(q.inFlight, p.ID)
	if q.closed {
		q.mu.Unlock()
		q.logger.Debug("review resolved after close", zap.Int64("id", p.ID), zap.String("action", action))
		return
	}
	if idx := q.indexLocked(p.ID); idx >= 0 {
		item := q.page.Items[idx].Clone()
		item.Status = p.Target
		if res.NewStatus.Valid() {
			item.Status = res.NewStatus
		}
		item.Reviewer = p.After.Reviewer
		reviewedAt := *p.After.ReviewedAt
		if !res.ReviewedAt.IsZero() {
			reviewedAt = res.ReviewedAt
		}
		item.ReviewedAt = &reviewedAt

		if q.filter.Matches(item.Status) {
			q.page.Items[idx] = item
		} else {
			q.removeLocked(idx)
		}
	}
	emit := q.changedLocked()
	q.mu.Unlock()
	emit()

	if q.metrics != nil {
		q.metrics.RecordMutation(action, "committed")
	}
	q.notifier.Notify(NoticeSuccess, pastTense(p.Target), fmt.Sprintf("%s %s.", itemLabel(p.ID), p.Target))
}

// rollback restores the snapshot while the page still holds the optimistic
// copy. A page fetched since then is authoritative and left alone.
func (q *ReviewQueue) rollback(p *PendingMutation, cause error) {
	action := actionName(p.Target)

	q.mu.Lock()
	delete(q.inFlight, p.ID)
	if q.closed {
		q.mu.Unlock()
		q.logger.Debug("review failed after close", zap.Int64("id", p.ID), zap.Error(cause))
		return
	}
	if idx := q.indexLocked(p.ID); idx >= 0 && q.page.Items[idx].Status == p.Target {
		q.page.Items[idx] = p.Before.Clone()
	}
	emit := q.changedLocked()
	q.mu.Unlock()
	emit()

	if q.metrics != nil {
		q.metrics.RecordMutation(action, "rolled_back")
	}
	q.logger.Warn("review rolled back", zap.Int64("id", p.ID), zap.String("action", action), zap.Error(cause))
	q.notifier.Notify(NoticeError, failedTitle(p.Target), appErrors.Message(cause))
}

func actionName(target models.ReviewStatus) string {
	if target == models.ReviewStatusApproved {
		return "approve"
	}
	return "reject"
}

func pastTense(target models.ReviewStatus) string {
	if target == models.ReviewStatusApproved {
		return "Approved"
	}
	return "Rejected"
}

func failedTitle(target models.ReviewStatus) string {
	if target == models.ReviewStatusApproved {
		return "Approve failed"
	}
	return "Reject failed"
}
