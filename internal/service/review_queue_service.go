package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tm-inbox-console/internal/dto"
	"github.com/noah-isme/tm-inbox-console/internal/models"
	appErrors "github.com/noah-isme/tm-inbox-console/pkg/errors"
)

// DefaultReviewer is shown on optimistic copies when no reviewer is configured.
const DefaultReviewer = "you"

// QueueStatus is the state of the review queue view.
type QueueStatus string

const (
	QueueIdle    QueueStatus = "idle"
	QueueLoading QueueStatus = "loading"
	QueueLoaded  QueueStatus = "loaded"
	QueueError   QueueStatus = "error"
)

type queueRepository interface {
	List(ctx context.Context, filter models.FilterState) (*models.Page[models.ReviewItem], error)
	Approve(ctx context.Context, id int64, req dto.ReviewRequest) (*models.ReviewResult, error)
	Reject(ctx context.Context, id int64, req dto.ReviewRequest) (*models.ReviewResult, error)
}

type queueMetrics interface {
	RecordStaleResponse()
	RecordMutation(action, outcome string)
}

// QueueSnapshot is an immutable copy of the view state.
type QueueSnapshot struct {
	Status   QueueStatus
	Filter   models.FilterState
	Page     models.Page[models.ReviewItem]
	HasPage  bool
	Selected []int64
	InFlight []int64
	Err      string
	Version  uint64
}

// Link is the shareable query for the snapshot's filter.
func (s QueueSnapshot) Link() dto.FilterQuery {
	return dto.EncodeFilter(s.Filter)
}

// IsSelected reports whether id is in the selection.
func (s QueueSnapshot) IsSelected(id int64) bool {
	return containsID(s.Selected, id)
}

// IsInFlight reports whether id has a pending review.
func (s QueueSnapshot) IsInFlight(id int64) bool {
	return containsID(s.InFlight, id)
}

type listener struct {
	id int
	fn func(QueueSnapshot)
}

// ReviewQueue is the view model of the review inbox: the current page, the
// filter that produced it, the selection and the loading state. Only the
// response to the most recent list request may change the page.
type ReviewQueue struct {
	repo     queueRepository
	notifier Notifier
	metrics  queueMetrics
	logger   *zap.Logger
	reviewer string
	now      func() time.Time

	mu           sync.Mutex
	status       QueueStatus
	filter       models.FilterState
	page         models.Page[models.ReviewItem]
	hasPage      bool
	selected     map[int64]struct{}
	inFlight     map[int64]*PendingMutation
	errMsg       string
	seq          uint64
	version      uint64
	closed       bool
	listeners    []listener
	nextListener int
}

// QueueOption customises a ReviewQueue.
type QueueOption func(*ReviewQueue)

// WithNotifier sets the sink for transient outcomes.
func WithNotifier(n Notifier) QueueOption {
	return func(q *ReviewQueue) { q.notifier = notifierOrNop(n) }
}

// WithQueueMetrics records stale responses and mutation outcomes.
func WithQueueMetrics(m queueMetrics) QueueOption {
	return func(q *ReviewQueue) { q.metrics = m }
}

// WithQueueLogger sets the logger.
func WithQueueLogger(logger *zap.Logger) QueueOption {
	return func(q *ReviewQueue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithReviewer sets the reviewer identity sent with single-item reviews.
func WithReviewer(reviewer string) QueueOption {
	return func(q *ReviewQueue) { q.reviewer = reviewer }
}

// WithClock overrides the optimistic review timestamp source.
func WithClock(now func() time.Time) QueueOption {
	return func(q *ReviewQueue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithInitialFilter starts the queue on f instead of the default filter.
func WithInitialFilter(f models.FilterState) QueueOption {
	return func(q *ReviewQueue) { q.filter = f.Clone() }
}

// NewReviewQueue constructs an idle queue. Nothing is fetched until a filter
// is set or Refresh is called.
func NewReviewQueue(repo queueRepository, opts ...QueueOption) *ReviewQueue {
	q := &ReviewQueue{
		repo:     repo,
		notifier: notifierOrNop(nil),
		logger:   zap.NewNop(),
		now:      time.Now,
		status:   QueueIdle,
		filter:   models.DefaultFilter(),
		selected: make(map[int64]struct{}),
		inFlight: make(map[int64]*PendingMutation),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Snapshot returns a deep copy of the current state.
func (q *ReviewQueue) Snapshot() QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Subscribe registers fn for every state change and returns its
// unsubscribe function. fn runs outside the queue lock; snapshots may arrive
// out of order across goroutines, so consumers should compare Version.
func (q *ReviewQueue) Subscribe(fn func(QueueSnapshot)) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextListener++
	id := q.nextListener
	q.listeners = append(q.listeners, listener{id: id, fn: fn})
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		for i, l := range q.listeners {
			if l.id == id {
				q.listeners = append(q.listeners[:i], q.listeners[i+1:]...)
				return
			}
		}
	}
}

// Filter returns the active filter.
func (q *ReviewQueue) Filter() models.FilterState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.filter.Clone()
}

// Link is the shareable query for the active filter.
func (q *ReviewQueue) Link() dto.FilterQuery {
	return dto.EncodeFilter(q.Filter())
}

// Item returns a copy of a visible item.
func (q *ReviewQueue) Item(id int64) (models.ReviewItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.indexLocked(id)
	if idx < 0 {
		return models.ReviewItem{}, false
	}
	return q.page.Items[idx].Clone(), true
}

// SetFilter replaces the filter and fetches its first response. Setting the
// active filter again is a no-op once a page has been requested.
func (q *ReviewQueue) SetFilter(ctx context.Context, f models.FilterState) error {
	if err := f.Validate(); err != nil {
		return err
	}
	q.mu.Lock()
	changed, err := q.setFilterLocked(f)
	q.mu.Unlock()
	if err != nil || !changed {
		return err
	}
	return q.fetch(ctx)
}

// Update applies filter changes to the active filter and refetches. Reading
// and storing the filter happen in one critical section so concurrent
// updates compose. Invalid changes leave the view untouched.
func (q *ReviewQueue) Update(ctx context.Context, changes ...models.FilterChange) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return appErrors.ErrViewClosed
	}
	next, err := q.filter.Apply(changes...)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	changed, err := q.setFilterLocked(next)
	q.mu.Unlock()
	if err != nil || !changed {
		return err
	}
	return q.fetch(ctx)
}

// setFilterLocked stores f and reports whether a fetch is needed.
func (q *ReviewQueue) setFilterLocked(f models.FilterState) (bool, error) {
	if q.closed {
		return false, appErrors.ErrViewClosed
	}
	if q.status != QueueIdle && q.filter.Equal(f) {
		return false, nil
	}
	q.filter = f.Clone()
	return true, nil
}

// Navigate adopts a shared link. Malformed links are rejected.
func (q *ReviewQueue) Navigate(ctx context.Context, query dto.FilterQuery) error {
	f, err := dto.DecodeFilterStrict(query)
	if err != nil {
		return err
	}
	return q.SetFilter(ctx, f)
}

// Reset returns to the default filter, keeping the page size.
func (q *ReviewQueue) Reset(ctx context.Context) error {
	q.mu.Lock()
	changed, err := q.setFilterLocked(q.filter.Reset())
	q.mu.Unlock()
	if err != nil || !changed {
		return err
	}
	return q.fetch(ctx)
}

// Refresh refetches the active filter.
func (q *ReviewQueue) Refresh(ctx context.Context) error {
	return q.fetch(ctx)
}

// Close detaches the view. Late responses are discarded and further
// operations fail with ErrViewClosed.
func (q *ReviewQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.listeners = nil
}

// Toggle flips the selection of a visible item and reports whether it is
// now selected. Ids not on the page are ignored.
func (q *ReviewQueue) Toggle(id int64) bool {
	q.mu.Lock()
	if q.closed || q.indexLocked(id) < 0 {
		q.mu.Unlock()
		return false
	}
	_, was := q.selected[id]
	if was {
		delete(q.selected, id)
	} else {
		q.selected[id] = struct{}{}
	}
	emit := q.changedLocked()
	q.mu.Unlock()
	emit()
	return !was
}

// Select adds visible ids to the selection.
func (q *ReviewQueue) Select(ids ...int64) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	for _, id := range ids {
		if q.indexLocked(id) >= 0 {
			q.selected[id] = struct{}{}
		}
	}
	emit := q.changedLocked()
	q.mu.Unlock()
	emit()
}

// SelectAll selects every visible item, or clears the selection when all
// of them are already selected.
func (q *ReviewQueue) SelectAll() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	all := len(q.page.Items) > 0 && len(q.selected) == len(q.page.Items)
	q.selected = make(map[int64]struct{}, len(q.page.Items))
	if !all {
		for _, item := range q.page.Items {
			q.selected[item.ID] = struct{}{}
		}
	}
	emit := q.changedLocked()
	q.mu.Unlock()
	emit()
}

// Deselect removes ids from the selection.
func (q *ReviewQueue) Deselect(ids ...int64) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	for _, id := range ids {
		delete(q.selected, id)
	}
	emit := q.changedLocked()
	q.mu.Unlock()
	emit()
}

// ClearSelection empties the selection.
func (q *ReviewQueue) ClearSelection() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.selected = make(map[int64]struct{})
	emit := q.changedLocked()
	q.mu.Unlock()
	emit()
}

// Selected returns the selected ids in ascending order.
func (q *ReviewQueue) Selected() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.selectedLocked()
}

// fetch issues a list request for the active filter. A response is applied
// only if no newer request was issued meanwhile and the view is still open.
func (q *ReviewQueue) fetch(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return appErrors.ErrViewClosed
	}
	q.seq++
	seq := q.seq
	filter := q.filter.Clone()
	q.status = QueueLoading
	emit := q.changedLocked()
	q.mu.Unlock()
	emit()

	page, err := q.repo.List(ctx, filter)

	q.mu.Lock()
	if q.closed || seq != q.seq {
		latest := q.seq
		q.mu.Unlock()
		if q.metrics != nil {
			q.metrics.RecordStaleResponse()
		}
		q.logger.Debug("discarding stale list response",
			zap.Uint64("seq", seq),
			zap.Uint64("latest", latest),
			zap.Error(err))
		return nil
	}

	if err != nil {
		q.status = QueueError
		q.errMsg = appErrors.Message(err)
		emit = q.changedLocked()
		q.mu.Unlock()
		emit()
		q.logger.Warn("list review items failed", zap.Error(err))
		return err
	}

	q.replacePageLocked(models.ClonePage(*page))
	q.status = QueueLoaded
	q.errMsg = ""
	emit = q.changedLocked()
	q.mu.Unlock()
	emit()
	return nil
}

// replacePageLocked installs a fetched page, prunes the selection to its ids
// and keeps optimistic overlays for items still under review.
func (q *ReviewQueue) replacePageLocked(page models.Page[models.ReviewItem]) {
	visible := make(map[int64]struct{}, len(page.Items))
	for i := range page.Items {
		item := &page.Items[i]
		visible[item.ID] = struct{}{}
		if p, ok := q.inFlight[item.ID]; ok {
			p.Before = item.Clone()
			if item.Status.CanTransitionTo(p.Target) {
				*item = p.overlay(*item)
			}
		}
	}
	pruned := 0
	for id := range q.selected {
		if _, ok := visible[id]; !ok {
			delete(q.selected, id)
			pruned++
		}
	}
	if pruned > 0 {
		q.logger.Debug("dropped stale selection", zap.Int("count", pruned))
	}
	q.page = page
	q.hasPage = true
}

func (q *ReviewQueue) indexLocked(id int64) int {
	for i, item := range q.page.Items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// removeLocked drops an item that left the view and adjusts the totals.
func (q *ReviewQueue) removeLocked(idx int) {
	id := q.page.Items[idx].ID
	q.page.Items = append(q.page.Items[:idx], q.page.Items[idx+1:]...)
	delete(q.selected, id)
	if q.page.TotalItems > 0 {
		q.page.TotalItems--
	}
	if q.page.Size > 0 {
		q.page.TotalPages = int((q.page.TotalItems + int64(q.page.Size) - 1) / int64(q.page.Size))
	}
}

func (q *ReviewQueue) selectedLocked() []int64 {
	ids := make([]int64, 0, len(q.selected))
	for id := range q.selected {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}

func (q *ReviewQueue) snapshotLocked() QueueSnapshot {
	inFlight := make([]int64, 0, len(q.inFlight))
	for id := range q.inFlight {
		inFlight = append(inFlight, id)
	}
	sort.Slice(inFlight, func(a, b int) bool { return inFlight[a] < inFlight[b] })

	return QueueSnapshot{
		Status:   q.status,
		Filter:   q.filter.Clone(),
		Page:     models.ClonePage(q.page),
		HasPage:  q.hasPage,
		Selected: q.selectedLocked(),
		InFlight: inFlight,
		Err:      q.errMsg,
		Version:  q.version,
	}
}

// changedLocked bumps the version and returns a function that delivers the
// new snapshot to listeners. Call it after releasing the lock.
func (q *ReviewQueue) changedLocked() func() {
	q.version++
	if len(q.listeners) == 0 {
		return func() {}
	}
	snap := q.snapshotLocked()
	fns := make([]func(QueueSnapshot), len(q.listeners))
	for i, l := range q.listeners {
		fns[i] = l.fn
	}
	return func() {
		for _, fn := range fns {
			fn(snap)
		}
	}
}

func containsID(ids []int64, id int64) bool {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	return i < len(ids) && ids[i] == id
}

func itemLabel(id int64) string {
	return fmt.Sprintf("Item #%d", id)
}
