package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tm-inbox-console/internal/models"
	appErrors "github.com/noah-isme/tm-inbox-console/pkg/errors"
)

type pagedListerStub struct {
	items []models.ReviewItem
	pages []int
}

func (s *pagedListerStub) List(_ context.Context, f models.FilterState) (*models.Page[models.ReviewItem], error) {
	s.pages = append(s.pages, f.Page)
	start := (f.Page - 1) * f.Size
	end := start + f.Size
	if start > len(s.items) {
		start = len(s.items)
	}
	if end > len(s.items) {
		end = len(s.items)
	}
	total := len(s.items)
	return &models.Page[models.ReviewItem]{
		Items:      s.items[start:end],
		Page:       f.Page,
		Size:       f.Size,
		TotalItems: int64(total),
		TotalPages: (total + f.Size - 1) / f.Size,
	}, nil
}

func exportItems(n int) []models.ReviewItem {
	items := make([]models.ReviewItem, n)
	for i := range items {
		q := 0.5
		items[i] = models.ReviewItem{ID: int64(i + 1), Src: "Nobody answered.", Tgt: "Ninguém respondeu.", LangSrc: "en", LangTgt: "pt", Quality: &q, Status: models.ReviewStatusPending}
	}
	return items
}

func TestExportWalksEveryPage(t *testing.T) {
	lister := &pagedListerStub{items: exportItems(25)}
	svc := NewExportService(lister, ExportConfig{}, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	f, err := models.DefaultFilter().Apply(models.SetSize(10), models.SetPage(2))
	require.NoError(t, err)
	res, err := svc.Export(context.Background(), f, ExportCSV)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, lister.pages)
	assert.Equal(t, 25, res.Rows)
	assert.Equal(t, "inbox_pending_20260301_120000.csv", res.Filename)

	records, err := csv.NewReader(bytes.NewReader(res.Payload)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 26)
	assert.Equal(t, "ID", records[0][0])
	assert.Equal(t, "0.50", records[1][2])
	assert.Equal(t, "Ninguém respondeu.", records[1][4])
}

func TestExportStopsAtMaxPages(t *testing.T) {
	lister := &pagedListerStub{items: exportItems(50)}
	svc := NewExportService(lister, ExportConfig{MaxPages: 2}, nil)
	f, err := models.DefaultFilter().Apply(models.SetSize(10))
	require.NoError(t, err)

	res, err := svc.Export(context.Background(), f, ExportCSV)
	require.NoError(t, err)
	assert.Equal(t, 20, res.Rows)
}

func TestExportPageRendersPDF(t *testing.T) {
	svc := NewExportService(&pagedListerStub{}, ExportConfig{}, nil)
	res, err := svc.ExportPage(models.DefaultFilter(), exportItems(3), ExportPDF)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(res.Payload, []byte("%PDF")))
	assert.Equal(t, 3, res.Rows)
}

func TestParseExportFormat(t *testing.T) {
	f, err := ParseExportFormat(" PDF ")
	require.NoError(t, err)
	assert.Equal(t, ExportPDF, f)

	_, err = ParseExportFormat("xlsx")
	require.Error(t, err)
	assert.True(t, appErrors.IsValidation(err))
}
