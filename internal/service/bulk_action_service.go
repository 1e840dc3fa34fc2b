package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/tm-inbox-console/internal/dto"
	"github.com/noah-isme/tm-inbox-console/internal/models"
	appErrors "github.com/noah-isme/tm-inbox-console/pkg/errors"
)

// BulkAction is the operation a bulk dialog will dispatch.
type BulkAction string

const (
	BulkApprove BulkAction = "approve"
	BulkReject  BulkAction = "reject"
)

// BulkPhase tracks the confirmation dialog.
type BulkPhase string

const (
	BulkClosed     BulkPhase = "closed"
	BulkConfirming BulkPhase = "confirming"
	BulkSubmitting BulkPhase = "submitting"
)

// BulkState is a copy of the dialog state.
type BulkState struct {
	Phase      BulkPhase
	Action     BulkAction
	Note       string
	LastResult *models.BulkResult
	LastError  string
}

// Busy reports whether confirm and cancel are disabled.
func (s BulkState) Busy() bool {
	return s.Phase == BulkSubmitting
}

type bulkRepository interface {
	BulkApprove(ctx context.Context, req dto.BulkReviewRequest) (*models.BulkResult, error)
	BulkReject(ctx context.Context, req dto.BulkReviewRequest) (*models.BulkResult, error)
}

type bulkQueue interface {
	Selected() []int64
	Deselect(ids ...int64)
	Refresh(ctx context.Context) error
}

type bulkMetrics interface {
	RecordBulk(action, outcome string, requested, transitioned int)
}

// BulkCoordinator runs bulk reviews behind an explicit confirmation step.
// Results are never patched into the page; the queue is refetched instead.
type BulkCoordinator struct {
	repo     bulkRepository
	queue    bulkQueue
	notifier Notifier
	metrics  bulkMetrics
	logger   *zap.Logger
	reviewer string

	mu    sync.Mutex
	state BulkState
}

// BulkOption customises a BulkCoordinator.
type BulkOption func(*BulkCoordinator)

// WithBulkNotifier sets the sink for outcomes.
func WithBulkNotifier(n Notifier) BulkOption {
	return func(b *BulkCoordinator) { b.notifier = notifierOrNop(n) }
}

// WithBulkMetrics records bulk outcomes.
func WithBulkMetrics(m bulkMetrics) BulkOption {
	return func(b *BulkCoordinator) { b.metrics = m }
}

// WithBulkLogger sets the logger.
func WithBulkLogger(logger *zap.Logger) BulkOption {
	return func(b *BulkCoordinator) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBulkReviewer sets the reviewer sent with bulk calls.
func WithBulkReviewer(reviewer string) BulkOption {
	return func(b *BulkCoordinator) { b.reviewer = reviewer }
}

// NewBulkCoordinator constructs a coordinator over the queue's selection.
func NewBulkCoordinator(repo bulkRepository, queue bulkQueue, opts ...BulkOption) *BulkCoordinator {
	b := &BulkCoordinator{
		repo:     repo,
		queue:    queue,
		notifier: notifierOrNop(nil),
		logger:   zap.NewNop(),
		state:    BulkState{Phase: BulkClosed},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns a copy of the dialog state.
func (b *BulkCoordinator) State() BulkState {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.state
	if s.LastResult != nil {
		r := *s.LastResult
		s.LastResult = &r
	}
	return s
}

// Open starts the confirmation step for action. The selection must not be empty.
func (b *BulkCoordinator) Open(action BulkAction) error {
	if action != BulkApprove && action != BulkReject {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown bulk action %q", action))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Phase == BulkSubmitting {
		return appErrors.ErrBulkInFlight
	}
	if len(b.queue.Selected()) == 0 {
		return appErrors.ErrEmptySelection
	}
	b.state.Phase = BulkConfirming
	b.state.Action = action
	b.state.Note = ""
	return nil
}

// SetNote attaches a free-text note to the pending bulk action.
func (b *BulkCoordinator) SetNote(note string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state.Phase {
	case BulkSubmitting:
		return appErrors.ErrBulkInFlight
	case BulkClosed:
		return appErrors.ErrBulkNotOpen
	}
	b.state.Note = note
	return nil
}

// Cancel closes the dialog. It is refused while the request is in flight.
func (b *BulkCoordinator) Cancel() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Phase == BulkSubmitting {
		return appErrors.ErrBulkInFlight
	}
	b.state.Phase = BulkClosed
	b.state.Note = ""
	return nil
}

// Confirm dispatches the action for the whole current selection. On success
// the dispatched ids are deselected, the dialog closes and the queue is refetched
// exactly once. On failure the selection is kept and the dialog closes.
func (b *BulkCoordinator) Confirm(ctx context.Context) (*models.BulkResult, error) {
	b.mu.Lock()
	switch b.state.Phase {
	case BulkSubmitting:
		b.mu.Unlock()
		return nil, appErrors.ErrBulkInFlight
	case BulkClosed:
		b.mu.Unlock()
		return nil, appErrors.ErrBulkNotOpen
	}
	ids := b.queue.Selected()
	if len(ids) == 0 {
		b.state.Phase = BulkClosed
		b.mu.Unlock()
		return nil, appErrors.ErrEmptySelection
	}
	action := b.state.Action
	req := dto.BulkReviewRequest{IDs: ids, Reviewer: b.reviewer, Note: b.state.Note}
	b.state.Phase = BulkSubmitting
	b.mu.Unlock()

	var res *models.BulkResult
	var err error
	if action == BulkApprove {
		res, err = b.repo.BulkApprove(ctx, req)
	} else {
		res, err = b.repo.BulkReject(ctx, req)
	}

	b.mu.Lock()
	b.state.Phase = BulkClosed
	b.state.Note = ""
	if err != nil {
		b.state.LastError = appErrors.Message(err)
		b.state.LastResult = nil
		b.mu.Unlock()

		if b.metrics != nil {
			b.metrics.RecordBulk(string(action), "failed", len(ids), 0)
		}
		b.logger.Warn("bulk review failed", zap.String("action", string(action)), zap.Int("ids", len(ids)), zap.Error(err))
		b.notifier.Notify(NoticeError, bulkFailedTitle(action), appErrors.Message(err))
		return nil, err
	}
	if res.Requested == 0 {
		res.Requested = len(ids)
	}
	result := *res
	b.state.LastError = ""
	b.state.LastResult = &result
	b.mu.Unlock()

	// Ids selected while the request was in flight stay selected.
	b.queue.Deselect(ids...)
	if b.metrics != nil {
		b.metrics.RecordBulk(string(action), "succeeded", res.Requested, res.Count)
	}
	b.logger.Info("bulk review completed",
		zap.String("action", string(action)),
		zap.Int("requested", res.Requested),
		zap.Int("count", res.Count))
	b.notifier.Notify(NoticeSuccess, bulkDoneTitle(action), bulkDetail(action, res))

	if err := b.queue.Refresh(ctx); err != nil {
		b.logger.Warn("refresh after bulk review failed", zap.Error(err))
	}
	return res, nil
}

func bulkDoneTitle(action BulkAction) string {
	if action == BulkApprove {
		return "Bulk approve complete"
	}
	return "Bulk reject complete"
}

func bulkFailedTitle(action BulkAction) string {
	if action == BulkApprove {
		return "Bulk approve failed"
	}
	return "Bulk reject failed"
}

func bulkDetail(action BulkAction, res *models.BulkResult) string {
	verb := "approved"
	if action == BulkReject {
		verb = "rejected"
	}
	detail := fmt.Sprintf("%d of %d items %s.", res.Count, res.Requested, verb)
	if skipped := res.Skipped(); skipped > 0 {
		detail += fmt.Sprintf(" %d skipped (already reviewed).", skipped)
	}
	return detail
}
