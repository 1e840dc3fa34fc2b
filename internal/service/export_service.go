package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tm-inbox-console/internal/dto"
	"github.com/noah-isme/tm-inbox-console/internal/models"
	appErrors "github.com/noah-isme/tm-inbox-console/pkg/errors"
	"github.com/noah-isme/tm-inbox-console/pkg/export"
)

// ExportFormat selects the rendered file type.
type ExportFormat string

const (
	ExportCSV ExportFormat = "csv"
	ExportPDF ExportFormat = "pdf"
)

// ParseExportFormat accepts csv or pdf in any case.
func ParseExportFormat(raw string) (ExportFormat, error) {
	switch ExportFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case ExportCSV:
		return ExportCSV, nil
	case ExportPDF:
		return ExportPDF, nil
	}
	return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", raw))
}

var exportHeaders = []string{"ID", "Status", "Quality", "Source", "Target", "Languages", "Series", "Book", "Chapter", "Location", "Source Tag", "Reviewer", "Reviewed At", "Created At"}

var exportWeights = map[string]float64{"ID": 0.5, "Status": 0.8, "Quality": 0.6, "Source": 3, "Target": 3, "Languages": 0.8, "Series": 0.5, "Book": 0.5}

type exportLister interface {
	List(ctx context.Context, filter models.FilterState) (*models.Page[models.ReviewItem], error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	// MaxPages caps how many pages a full export walks.
	MaxPages int
}

// ExportResult is a rendered export.
type ExportResult struct {
	Filename string
	Format   ExportFormat
	Rows     int
	Payload  []byte
}

// ExportService renders review items matching a filter as CSV or PDF.
type ExportService struct {
	lister exportLister
	csv    csvRenderer
	pdf    pdfRenderer
	logger *zap.Logger
	cfg    ExportConfig
	now    func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(lister exportLister, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	return &ExportService{
		lister: lister,
		csv:    export.NewCSVExporter(),
		pdf:    &export.PDFExporter{Weights: exportWeights},
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// ExportPage renders items that are already loaded, such as the visible page.
func (s *ExportService) ExportPage(filter models.FilterState, items []models.ReviewItem, format ExportFormat) (*ExportResult, error) {
	return s.render(filter, items, format)
}

// Export walks every page of filter, starting at page 1, and renders the
// matching items.
func (s *ExportService) Export(ctx context.Context, filter models.FilterState, format ExportFormat) (*ExportResult, error) {
	if _, err := ParseExportFormat(string(format)); err != nil {
		return nil, err
	}
	f := filter.Clone()
	f.Page = models.DefaultPage

	var items []models.ReviewItem
	for {
		page, err := s.lister.List(ctx, f)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
		if f.Page >= page.TotalPages || len(page.Items) == 0 {
			break
		}
		if f.Page >= s.cfg.MaxPages {
			s.logger.Warn("export truncated", zap.Int("pages", f.Page), zap.Int64("total_items", page.TotalItems))
			break
		}
		f.Page++
	}
	return s.render(filter, items, format)
}

func (s *ExportService) render(filter models.FilterState, items []models.ReviewItem, format ExportFormat) (*ExportResult, error) {
	dataset := s.buildDataset(filter, items)

	var payload []byte
	var err error
	switch format {
	case ExportCSV:
		payload, err = s.csv.Render(dataset)
	case ExportPDF:
		payload, err = s.pdf.Render(dataset)
	default:
		_, err = ParseExportFormat(string(format))
	}
	if err != nil {
		return nil, err
	}

	return &ExportResult{
		Filename: s.buildFilename(filter, format),
		Format:   format,
		Rows:     len(items),
		Payload:  payload,
	}, nil
}

func (s *ExportService) buildDataset(filter models.FilterState, items []models.ReviewItem) export.Dataset {
	rows := make([]map[string]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, map[string]string{
			"ID":          strconv.FormatInt(item.ID, 10),
			"Status":      string(item.Status),
			"Quality":     formatQualityCell(item.Quality),
			"Source":      item.Src,
			"Target":      item.Tgt,
			"Languages":   item.LangSrc + "->" + item.LangTgt,
			"Series":      formatIDCell(item.SeriesID),
			"Book":        formatIDCell(item.BookID),
			"Chapter":     deref(item.Chapter),
			"Location":    deref(item.Location),
			"Source Tag":  deref(item.SourceTag),
			"Reviewer":    deref(item.Reviewer),
			"Reviewed At": formatReportTime(item.ReviewedAt),
			"Created At":  formatReportTime(&item.CreatedAt),
		})
	}
	return export.Dataset{
		Title:    fmt.Sprintf("Review inbox: %s", filter.Status),
		Subtitle: fmt.Sprintf("%s · %d items · generated %s", dto.EncodeFilter(filter).String(), len(items), s.now().UTC().Format(time.RFC3339)),
		Headers:  exportHeaders,
		Rows:     rows,
	}
}

func (s *ExportService) buildFilename(filter models.FilterState, format ExportFormat) string {
	timestamp := s.now().UTC().Format("20060102_150405")
	return fmt.Sprintf("inbox_%s_%s.%s", sanitizeFilename(string(filter.Status)), timestamp, format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func formatReportTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatQualityCell(q *float64) string {
	if q == nil {
		return ""
	}
	return strconv.FormatFloat(*q, 'f', 2, 64)
}

func formatIDCell(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}
