package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

const (
	pdfPageWidth = 277.0
	pdfRowHeight = 6.0
)

// PDFExporter renders datasets as a landscape A4 table. Column widths are
// relative weights keyed by header; unknown headers weigh 1.
type PDFExporter struct {
	Weights map[string]float64
}

// NewPDFExporter constructs a PDF exporter with equal column widths.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF document with the dataset title, subtitle and body.
// Cells wider than their column are truncated with an ellipsis.
func (e *PDFExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 12)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	widths := e.widths(data.Headers)

	header := func() {
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(230, 230, 230)
		for i, h := range data.Headers {
			pdf.CellFormat(widths[i], pdfRowHeight+1, tr(h), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 8)
	}
	pdf.SetHeaderFunc(func() {
		if pdf.PageNo() > 1 {
			header()
		}
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-10)
		pdf.SetFont("Arial", "I", 7)
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "R", false, 0, "")
	})
	pdf.AliasNbPages("")
	pdf.AddPage()

	if data.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 9, tr(data.Title), "", 1, "L", false, 0, "")
	}
	if data.Subtitle != "" {
		pdf.SetFont("Arial", "", 9)
		pdf.CellFormat(0, 6, tr(data.Subtitle), "", 1, "L", false, 0, "")
	}
	pdf.Ln(3)
	header()

	for i := range data.Rows {
		for j, value := range data.Record(i) {
			pdf.CellFormat(widths[j], pdfRowHeight, fit(pdf, tr(value), widths[j]-2), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *PDFExporter) widths(headers []string) []float64 {
	weights := make([]float64, len(headers))
	var total float64
	for i, h := range headers {
		w := 1.0
		if v, ok := e.Weights[h]; ok && v > 0 {
			w = v
		}
		weights[i] = w
		total += w
	}
	for i := range weights {
		weights[i] = pdfPageWidth * weights[i] / total
	}
	return weights
}

// fit shortens s until it renders within width millimetres. s is already
// translated to the single-byte core font encoding.
func fit(pdf *gofpdf.Fpdf, s string, width float64) string {
	if pdf.GetStringWidth(s) <= width {
		return s
	}
	b := []byte(s)
	for len(b) > 0 && pdf.GetStringWidth(string(b)+"...") > width {
		b = b[:len(b)-1]
	}
	return string(b) + "..."
}
