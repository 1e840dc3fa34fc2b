package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	appErrors "github.com/noah-isme/tm-inbox-console/pkg/errors"
)

const (
	DefaultPage      = 1
	DefaultPageSize  = 20
	DefaultSortField = "createdAt"
)

// AllowedPageSizes are the only page sizes a filter may carry.
var AllowedPageSizes = []int{10, 20, 50, 100}

// SortableFields are the listing columns the inbox service can order by.
var SortableFields = []string{"createdAt", "quality", "id", "reviewedAt"}

// IsAllowedPageSize reports whether size is an offered page size.
func IsAllowedPageSize(size int) bool {
	for _, allowed := range AllowedPageSizes {
		if size == allowed {
			return true
		}
	}
	return false
}

// IsSortableField reports whether field can be sorted on.
func IsSortableField(field string) bool {
	for _, f := range SortableFields {
		if f == field {
			return true
		}
	}
	return false
}

// SortDirection orders a listing.
type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

// SortSpec is a field plus direction, encoded as "field,DIR".
type SortSpec struct {
	Field     string        `validate:"sort_field"`
	Direction SortDirection `validate:"oneof=ASC DESC"`
}

// DefaultSort orders newest first.
func DefaultSort() SortSpec {
	return SortSpec{Field: DefaultSortField, Direction: SortDesc}
}

// ParseSort reads "field,DIR". A missing direction means DESC.
func ParseSort(raw string) (SortSpec, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), ",", 2)
	spec := SortSpec{Field: strings.TrimSpace(parts[0]), Direction: SortDesc}
	if len(parts) == 2 {
		spec.Direction = SortDirection(strings.ToUpper(strings.TrimSpace(parts[1])))
	}
	if !IsSortableField(spec.Field) {
		return SortSpec{}, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("invalid filter: sort field must be one of %v, got %q", SortableFields, spec.Field))
	}
	if spec.Direction != SortAsc && spec.Direction != SortDesc {
		return SortSpec{}, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("invalid filter: sort direction must be ASC or DESC, got %q", spec.Direction))
	}
	return spec, nil
}

func (s SortSpec) String() string {
	return s.Field + "," + string(s.Direction)
}

// Toggle selects field descending, or flips the direction when field is
// already the sort key.
func (s SortSpec) Toggle(field string) SortSpec {
	if s.Field != field {
		return SortSpec{Field: field, Direction: SortDesc}
	}
	if s.Direction == SortDesc {
		return SortSpec{Field: field, Direction: SortAsc}
	}
	return SortSpec{Field: field, Direction: SortDesc}
}

// FilterState holds the view parameters of the review queue. Optional
// numeric filters are pointers: nil is unset, a pointer to zero is a real
// bound. Empty strings are unset for the text filters.
type FilterState struct {
	Status     ReviewStatus `validate:"review_status"`
	SeriesID   *int64       `validate:"omitempty,gt=0"`
	BookID     *int64       `validate:"omitempty,gt=0"`
	SourceTag  string
	Query      string
	QualityMin *float64 `validate:"omitempty,quality"`
	QualityMax *float64 `validate:"omitempty,quality"`
	Page       int      `validate:"gte=1"`
	Size       int      `validate:"page_size"`
	Sort       SortSpec
}

// DefaultFilter is the filter used when nothing else is known.
func DefaultFilter() FilterState {
	return FilterState{
		Status: ReviewStatusPending,
		Page:   DefaultPage,
		Size:   DefaultPageSize,
		Sort:   DefaultSort(),
	}
}

// Clone deep copies the optional fields.
func (f FilterState) Clone() FilterState {
	c := f
	c.SeriesID = clonePtr(f.SeriesID)
	c.BookID = clonePtr(f.BookID)
	c.QualityMin = clonePtr(f.QualityMin)
	c.QualityMax = clonePtr(f.QualityMax)
	return c
}

// Equal compares filters by value.
func (f FilterState) Equal(o FilterState) bool {
	return f.Status == o.Status &&
		ptrEqual(f.SeriesID, o.SeriesID) &&
		ptrEqual(f.BookID, o.BookID) &&
		f.SourceTag == o.SourceTag &&
		f.Query == o.Query &&
		ptrEqual(f.QualityMin, o.QualityMin) &&
		ptrEqual(f.QualityMax, o.QualityMax) &&
		f.Page == o.Page &&
		f.Size == o.Size &&
		f.Sort == o.Sort
}

// Matches reports whether an item with status s belongs in this view.
func (f FilterState) Matches(s ReviewStatus) bool {
	return f.Status == s
}

// Validate rejects malformed filters before any request is issued.
func (f FilterState) Validate() error {
	if err := filterValidator().Struct(f); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, describeValidation(err))
	}
	if f.QualityMin != nil && f.QualityMax != nil && *f.QualityMin > *f.QualityMax {
		return appErrors.Clone(appErrors.ErrValidation, "invalid filter: qualityMin must not exceed qualityMax")
	}
	return nil
}

// FilterChange is one edit to a FilterState.
type FilterChange struct {
	field string
	apply func(*FilterState)
}

// Field names the dimension the change touches.
func (c FilterChange) Field() string {
	return c.field
}

// SetStatus switches the status tab.
func SetStatus(s ReviewStatus) FilterChange {
	return FilterChange{field: "status", apply: func(f *FilterState) { f.Status = s }}
}

// SetSeries selects a series and clears the book, which belongs to the old series.
func SetSeries(id *int64) FilterChange {
	return FilterChange{field: "seriesId", apply: func(f *FilterState) {
		f.SeriesID = clonePtr(id)
		f.BookID = nil
	}}
}

// SetBook selects a book.
func SetBook(id *int64) FilterChange {
	return FilterChange{field: "bookId", apply: func(f *FilterState) { f.BookID = clonePtr(id) }}
}

// SetSourceTag sets the provenance substring filter.
func SetSourceTag(tag string) FilterChange {
	return FilterChange{field: "sourceTag", apply: func(f *FilterState) { f.SourceTag = tag }}
}

// SetQuery sets the free-text filter.
func SetQuery(q string) FilterChange {
	return FilterChange{field: "q", apply: func(f *FilterState) { f.Query = q }}
}

// SetQualityMin sets or clears the lower quality bound.
func SetQualityMin(v *float64) FilterChange {
	return FilterChange{field: "qualityMin", apply: func(f *FilterState) { f.QualityMin = clonePtr(v) }}
}

// SetQualityMax sets or clears the upper quality bound.
func SetQualityMax(v *float64) FilterChange {
	return FilterChange{field: "qualityMax", apply: func(f *FilterState) { f.QualityMax = clonePtr(v) }}
}

// SetPage moves to page n.
func SetPage(n int) FilterChange {
	return FilterChange{field: "page", apply: func(f *FilterState) { f.Page = n }}
}

// SetSize changes the page size.
func SetSize(n int) FilterChange {
	return FilterChange{field: "size", apply: func(f *FilterState) { f.Size = n }}
}

// SetSort replaces the sort specification.
func SetSort(s SortSpec) FilterChange {
	return FilterChange{field: "sort", apply: func(f *FilterState) { f.Sort = s }}
}

// ToggleSort toggles the sort on field.
func ToggleSort(field string) FilterChange {
	return FilterChange{field: "sort", apply: func(f *FilterState) { f.Sort = f.Sort.Toggle(field) }}
}

// Apply returns f with changes applied. Any change other than the page
// resets the page to 1, even when a page change is part of the same batch.
// The result is validated; on error f is returned untouched.
func (f FilterState) Apply(changes ...FilterChange) (FilterState, error) {
	next := f.Clone()
	resetPage := false
	for _, change := range changes {
		if change.apply == nil {
			continue
		}
		change.apply(&next)
		if change.field != "page" {
			resetPage = true
		}
	}
	if resetPage {
		next.Page = DefaultPage
	}
	if err := next.Validate(); err != nil {
		return f, err
	}
	return next, nil
}

// Ref returns a pointer to v, handy for optional filter values.
func Ref[T any](v T) *T {
	return &v
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func filterValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("review_status", func(fl validator.FieldLevel) bool {
			return ReviewStatus(fl.Field().String()).Valid()
		})
		_ = validate.RegisterValidation("page_size", func(fl validator.FieldLevel) bool {
			return IsAllowedPageSize(int(fl.Field().Int()))
		})
		_ = validate.RegisterValidation("sort_field", func(fl validator.FieldLevel) bool {
			return IsSortableField(fl.Field().String())
		})
		_ = validate.RegisterValidation("quality", func(fl validator.FieldLevel) bool {
			v := fl.Field().Float()
			return !math.IsNaN(v) && v >= 0 && v <= 1
		})
	})
	return validate
}

func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "invalid filter"
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "page_size":
			parts = append(parts, fmt.Sprintf("size must be one of %v", AllowedPageSizes))
		case "review_status":
			parts = append(parts, "status must be pending, approved or rejected")
		case "sort_field":
			parts = append(parts, fmt.Sprintf("sort field must be one of %v", SortableFields))
		case "quality":
			parts = append(parts, fmt.Sprintf("%s must be between 0 and 1", lowerFirst(fe.Field())))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", lowerFirst(fe.Field()), fe.Tag()))
		}
	}
	return "invalid filter: " + strings.Join(parts, "; ")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// Reset returns the default filter keeping the page size.
func (f FilterState) Reset() FilterState {
	d := DefaultFilter()
	d.Size = f.Size
	if !IsAllowedPageSize(d.Size) {
		d.Size = DefaultPageSize
	}
	return d
}
