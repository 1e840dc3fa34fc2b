package models

import (
	"sort"
	"time"
)

// ReviewStatus captures workflow states for bookpair review.
type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusApproved ReviewStatus = "approved"
	ReviewStatusRejected ReviewStatus = "rejected"
)

// ReviewStatuses lists statuses in tab order.
var ReviewStatuses = []ReviewStatus{ReviewStatusPending, ReviewStatusApproved, ReviewStatusRejected}

// Valid reports whether s is a known status.
func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewStatusPending, ReviewStatusApproved, ReviewStatusRejected:
		return true
	default:
		return false
	}
}

// ParseReviewStatus converts raw into a status.
func ParseReviewStatus(raw string) (ReviewStatus, bool) {
	s := ReviewStatus(raw)
	return s, s.Valid()
}

// CanTransitionTo mirrors the server workflow: only pending items are reviewed,
// and re-review goes through an administrative path outside the console.
func (s ReviewStatus) CanTransitionTo(target ReviewStatus) bool {
	if s != ReviewStatusPending {
		return false
	}
	return target == ReviewStatusApproved || target == ReviewStatusRejected
}

// ReviewItem is one candidate translation pair awaiting or past review.
type ReviewItem struct {
	ID         int64        `json:"id"`
	Src        string       `json:"src"`
	Tgt        string       `json:"tgt"`
	LangSrc    string       `json:"langSrc"`
	LangTgt    string       `json:"langTgt"`
	Quality    *float64     `json:"quality"`
	SeriesID   *int64       `json:"seriesId,omitempty"`
	BookID     *int64       `json:"bookId,omitempty"`
	Chapter    *string      `json:"chapter,omitempty"`
	Location   *string      `json:"location,omitempty"`
	SourceTag  *string      `json:"sourceTag,omitempty"`
	Status     ReviewStatus `json:"status"`
	Reviewer   *string      `json:"reviewer,omitempty"`
	ReviewedAt *time.Time   `json:"reviewedAt,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// Clone returns a deep copy so snapshots never alias the live page.
func (i ReviewItem) Clone() ReviewItem {
	c := i
	c.Quality = clonePtr(i.Quality)
	c.SeriesID = clonePtr(i.SeriesID)
	c.BookID = clonePtr(i.BookID)
	c.Chapter = clonePtr(i.Chapter)
	c.Location = clonePtr(i.Location)
	c.SourceTag = clonePtr(i.SourceTag)
	c.Reviewer = clonePtr(i.Reviewer)
	c.ReviewedAt = clonePtr(i.ReviewedAt)
	return c
}

// Reviewed reports whether reviewer metadata is present.
func (i ReviewItem) Reviewed() bool {
	return i.Reviewer != nil && i.ReviewedAt != nil
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Page is the server envelope for a paginated listing.
type Page[T any] struct {
	Items      []T   `json:"items"`
	Page       int   `json:"page"`
	Size       int   `json:"size"`
	TotalItems int64 `json:"totalItems"`
	TotalPages int   `json:"totalPages"`
}

// ClonePage deep copies a page of review items.
func ClonePage(p Page[ReviewItem]) Page[ReviewItem] {
	out := p
	out.Items = make([]ReviewItem, len(p.Items))
	for i, item := range p.Items {
		out.Items[i] = item.Clone()
	}
	return out
}

// ItemIDs returns the identifiers of items in page order.
func ItemIDs(items []ReviewItem) []int64 {
	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}

// SortIDs returns ids in ascending order without duplicates.
func SortIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// ReviewResult is the server acknowledgement of a single review.
type ReviewResult struct {
	OK         bool         `json:"ok"`
	ID         int64        `json:"id"`
	NewStatus  ReviewStatus `json:"newStatus"`
	ReviewedAt time.Time    `json:"reviewedAt"`
}

// BulkResult reports how many items a bulk review transitioned.
type BulkResult struct {
	OK        bool `json:"ok"`
	Count     int  `json:"count"`
	Requested int  `json:"-"`
}

// Skipped counts requested items the server left untouched, usually
// because another reviewer got there first.
func (r BulkResult) Skipped() int {
	if r.Requested <= r.Count {
		return 0
	}
	return r.Requested - r.Count
}

// ConsolidateResult counts the effects of promoting approved pairs.
type ConsolidateResult struct {
	OK          bool `json:"ok"`
	TMUpserts   int  `json:"tmUpserts"`
	OccInserted int  `json:"occInserted"`
	EmbUpserts  int  `json:"embUpserts"`
}

// Empty reports whether nothing qualified for consolidation.
func (r ConsolidateResult) Empty() bool {
	return r.TMUpserts == 0 && r.OccInserted == 0 && r.EmbUpserts == 0
}

// SeriesMeta is a series option for the filter dropdown.
type SeriesMeta struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// BookMeta is a book option for the filter dropdown.
type BookMeta struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}
