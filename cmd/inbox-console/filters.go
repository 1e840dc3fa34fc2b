package main

import (
	"github.com/spf13/cobra"

	"github.com/noah-isme/tm-inbox-console/internal/dto"
	"github.com/noah-isme/tm-inbox-console/internal/models"
)

// filterFlags binds the filter fields to command flags. Flags override the
// fields of --link; unset flags leave them alone.
type filterFlags struct {
	link       string
	status     string
	seriesID   int64
	bookID     int64
	sourceTag  string
	query      string
	qualityMin float64
	qualityMax float64
	page       int
	size       int
	sort       string
}

func addFilterFlags(cmd *cobra.Command) *filterFlags {
	f := &filterFlags{}
	fs := cmd.Flags()
	fs.StringVar(&f.link, "link", "", "shared filter link (query string or URL)")
	fs.StringVar(&f.status, "status", "", "pending, approved or rejected")
	fs.Int64Var(&f.seriesID, "series", 0, "series id")
	fs.Int64Var(&f.bookID, "book", 0, "book id")
	fs.StringVar(&f.sourceTag, "tag", "", "source tag")
	fs.StringVarP(&f.query, "query", "q", "", "free-text search")
	fs.Float64Var(&f.qualityMin, "quality-min", 0, "minimum quality (0..1)")
	fs.Float64Var(&f.qualityMax, "quality-max", 0, "maximum quality (0..1)")
	fs.IntVar(&f.page, "page", 0, "page number")
	fs.IntVar(&f.size, "size", 0, "page size (10, 20, 50 or 100)")
	fs.StringVar(&f.sort, "sort", "", "sort as field,DIR")
	return f
}

func (f *filterFlags) build(cmd *cobra.Command, defaultSize int) (models.FilterState, error) {
	base := models.DefaultFilter()
	if models.IsAllowedPageSize(defaultSize) {
		base.Size = defaultSize
	}
	if f.link != "" {
		q, err := dto.ParseFilterQuery(f.link)
		if err != nil {
			return models.FilterState{}, err
		}
		if base, err = dto.DecodeFilterStrict(q); err != nil {
			return models.FilterState{}, err
		}
	}

	fs := cmd.Flags()
	var changes []models.FilterChange
	if fs.Changed("status") {
		status, ok := models.ParseReviewStatus(f.status)
		if !ok {
			status = models.ReviewStatus(f.status)
		}
		changes = append(changes, models.SetStatus(status))
	}
	if fs.Changed("series") {
		changes = append(changes, models.SetSeries(optionalID(f.seriesID)))
	}
	if fs.Changed("book") {
		changes = append(changes, models.SetBook(optionalID(f.bookID)))
	}
	if fs.Changed("tag") {
		changes = append(changes, models.SetSourceTag(f.sourceTag))
	}
	if fs.Changed("query") {
		changes = append(changes, models.SetQuery(f.query))
	}
	if fs.Changed("quality-min") {
		changes = append(changes, models.SetQualityMin(models.Ref(f.qualityMin)))
	}
	if fs.Changed("quality-max") {
		changes = append(changes, models.SetQualityMax(models.Ref(f.qualityMax)))
	}
	if fs.Changed("size") {
		changes = append(changes, models.SetSize(f.size))
	}
	if fs.Changed("sort") {
		spec, err := models.ParseSort(f.sort)
		if err != nil {
			return models.FilterState{}, err
		}
		changes = append(changes, models.SetSort(spec))
	}
	next, err := base.Apply(changes...)
	if err != nil {
		return models.FilterState{}, err
	}
	// Applied on its own so the explicit page survives the reset.
	if fs.Changed("page") {
		return next.Apply(models.SetPage(f.page))
	}
	return next, nil
}

func optionalID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return models.Ref(id)
}
