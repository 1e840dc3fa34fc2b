package dto

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/noah-isme/tm-inbox-console/internal/models"
	appErrors "github.com/noah-isme/tm-inbox-console/pkg/errors"
)

// Query keys of the shareable filter representation.
const (
	KeyStatus     = "status"
	KeySeriesID   = "seriesId"
	KeyBookID     = "bookId"
	KeySourceTag  = "sourceTag"
	KeyQuery      = "q"
	KeyQualityMin = "qualityMin"
	KeyQualityMax = "qualityMax"
	KeyPage       = "page"
	KeySize       = "size"
	KeySort       = "sort"
)

// FilterKeys lists every key the codec understands.
var FilterKeys = []string{
	KeyStatus, KeySeriesID, KeyBookID, KeySourceTag, KeyQuery,
	KeyQualityMin, KeyQualityMax, KeyPage, KeySize, KeySort,
}

// FilterQuery is the flat string form of a FilterState. A missing key means
// "use the default", never "explicitly cleared".
type FilterQuery map[string]string

// EncodeFilter writes f as a flat query. Unset optional filters are omitted.
func EncodeFilter(f models.FilterState) FilterQuery {
	q := FilterQuery{
		KeyStatus: string(f.Status),
		KeyPage:   strconv.Itoa(f.Page),
		KeySize:   strconv.Itoa(f.Size),
		KeySort:   f.Sort.String(),
	}
	if f.SeriesID != nil {
		q[KeySeriesID] = strconv.FormatInt(*f.SeriesID, 10)
	}
	if f.BookID != nil {
		q[KeyBookID] = strconv.FormatInt(*f.BookID, 10)
	}
	if f.SourceTag != "" {
		q[KeySourceTag] = f.SourceTag
	}
	if f.Query != "" {
		q[KeyQuery] = f.Query
	}
	if f.QualityMin != nil {
		q[KeyQualityMin] = formatQuality(*f.QualityMin)
	}
	if f.QualityMax != nil {
		q[KeyQualityMax] = formatQuality(*f.QualityMax)
	}
	return q
}

// DecodeFilter reads q onto the default filter. It never fails: malformed
// entries fall back to the key's default and unknown keys are ignored.
func DecodeFilter(q FilterQuery) models.FilterState {
	f, _ := decode(q, models.DefaultFilter())
	return f
}

// DecodeFilterWith is DecodeFilter with caller-supplied defaults.
func DecodeFilterWith(q FilterQuery, defaults models.FilterState) models.FilterState {
	f, _ := decode(q, defaults)
	return f
}

// DecodeFilterStrict decodes q and reports malformed keys as a validation
// error instead of silently defaulting them.
func DecodeFilterStrict(q FilterQuery) (models.FilterState, error) {
	f, bad := decode(q, models.DefaultFilter())
	if len(bad) > 0 {
		sort.Strings(bad)
		return f, appErrors.Clone(appErrors.ErrValidation, "invalid filter query: "+strings.Join(bad, ", "))
	}
	if err := f.Validate(); err != nil {
		return f, err
	}
	return f, nil
}

func decode(q FilterQuery, defaults models.FilterState) (models.FilterState, []string) {
	f := defaults.Clone()
	var bad []string
	reject := func(key, raw string) {
		bad = append(bad, fmt.Sprintf("%s=%q", key, raw))
	}

	if raw, ok := q.get(KeyStatus); ok {
		if s, valid := models.ParseReviewStatus(raw); valid {
			f.Status = s
		} else {
			reject(KeyStatus, raw)
		}
	}
	if raw, ok := q.get(KeySeriesID); ok {
		if id, valid := parseID(raw); valid {
			f.SeriesID = &id
		} else {
			reject(KeySeriesID, raw)
		}
	}
	if raw, ok := q.get(KeyBookID); ok {
		if id, valid := parseID(raw); valid {
			f.BookID = &id
		} else {
			reject(KeyBookID, raw)
		}
	}
	if raw, ok := q.get(KeySourceTag); ok {
		f.SourceTag = raw
	}
	if raw, ok := q.get(KeyQuery); ok {
		f.Query = raw
	}
	if raw, ok := q.get(KeyQualityMin); ok {
		if v, valid := parseQuality(raw); valid {
			f.QualityMin = &v
		} else {
			reject(KeyQualityMin, raw)
		}
	}
	if raw, ok := q.get(KeyQualityMax); ok {
		if v, valid := parseQuality(raw); valid {
			f.QualityMax = &v
		} else {
			reject(KeyQualityMax, raw)
		}
	}
	if raw, ok := q.get(KeyPage); ok {
		if n, err := strconv.Atoi(raw); err == nil && n >= 1 {
			f.Page = n
		} else {
			reject(KeyPage, raw)
		}
	}
	if raw, ok := q.get(KeySize); ok {
		if n, err := strconv.Atoi(raw); err == nil && models.IsAllowedPageSize(n) {
			f.Size = n
		} else {
			reject(KeySize, raw)
		}
	}
	if raw, ok := q.get(KeySort); ok {
		if s, err := models.ParseSort(raw); err == nil {
			f.Sort = s
		} else {
			reject(KeySort, raw)
		}
	}
	return f, bad
}

// get treats absent and empty values alike.
func (q FilterQuery) get(key string) (string, bool) {
	raw, ok := q[key]
	if !ok || raw == "" {
		return "", false
	}
	return raw, true
}

// Values converts q to url.Values.
func (q FilterQuery) Values() url.Values {
	v := make(url.Values, len(q))
	for key, val := range q {
		v.Set(key, val)
	}
	return v
}

// String renders q as a URL query string with keys sorted.
func (q FilterQuery) String() string {
	return q.Values().Encode()
}

// ParseFilterQuery accepts a bare query ("status=approved&page=2"), one with
// a leading "?", or a full URL. The first value of a repeated key wins.
func ParseFilterQuery(raw string) (FilterQuery, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid link")
		}
		raw = u.RawQuery
	}
	raw = strings.TrimPrefix(raw, "?")
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid filter query")
	}
	q := make(FilterQuery, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			q[key] = vals[0]
		}
	}
	return q, nil
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parseQuality(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || v < 0 || v > 1 {
		return 0, false
	}
	return v, true
}

// formatQuality uses the shortest representation that parses back to v.
func formatQuality(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
