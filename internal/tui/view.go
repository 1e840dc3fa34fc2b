package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/noah-isme/tm-inbox-console/internal/models"
	"github.com/noah-isme/tm-inbox-console/internal/service"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	tabStyle       = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("245"))
	activeTabStyle = lipgloss.NewStyle().Padding(0, 1).Bold(true).Foreground(lipgloss.Color("231")).Background(lipgloss.Color("63"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	cursorStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	infoStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	dialogStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)

	statusStyles = map[models.ReviewStatus]lipgloss.Style{
		models.ReviewStatusPending:  lipgloss.NewStyle().Foreground(lipgloss.Color("221")),
		models.ReviewStatusApproved: successStyle,
		models.ReviewStatusRejected: errorStyle,
	}
)

const helpLine = "j/k move · space select · a all · enter/A approve · R reject · b/x bulk · / search · 1/2/3 status · v series · B book · t tag · n/p page · +/- size · s/S sort · r refresh · c consolidate · y link · q quit"

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	sections := []string{m.viewHeader(), m.viewFilter(), m.viewRows(), m.viewFooter()}
	if m.mode == modeNote && m.deps.Bulk != nil {
		sections = append(sections, m.viewDialog())
	}
	if toasts := m.viewNotices(); toasts != "" {
		sections = append(sections, toasts)
	}
	sections = append(sections, mutedStyle.Render(helpLine))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) viewHeader() string {
	tabs := []string{titleStyle.Render("Bookpair inbox")}
	for i, status := range []models.ReviewStatus{models.ReviewStatusPending, models.ReviewStatusApproved, models.ReviewStatusRejected} {
		label := fmt.Sprintf("%d %s", i+1, status)
		if m.snap.Filter.Status == status {
			tabs = append(tabs, activeTabStyle.Render(label))
		} else {
			tabs = append(tabs, tabStyle.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m *Model) viewFilter() string {
	f := m.snap.Filter
	parts := []string{"sort " + f.Sort.String(), "size " + strconv.Itoa(f.Size)}
	if f.SeriesID != nil {
		parts = append(parts, "series "+m.seriesName(*f.SeriesID))
	}
	if f.BookID != nil {
		parts = append(parts, "book "+m.bookTitle(*f.BookID))
	}
	if f.SourceTag != "" {
		parts = append(parts, "tag "+f.SourceTag)
	}
	if f.QualityMin != nil || f.QualityMax != nil {
		parts = append(parts, "quality "+formatBound(f.QualityMin)+".."+formatBound(f.QualityMax))
	}
	search := "search: " + m.query
	if m.mode == modeSearch {
		search = cursorStyle.Render("search: " + m.query + "▏")
	}
	line := search + mutedStyle.Render("  "+strings.Join(parts, " · "))
	if m.mode == modeTag {
		line += "\n" + cursorStyle.Render("tag: "+m.tag+"▏")
		if len(m.tagHints) > 0 {
			line += mutedStyle.Render("  " + strings.Join(m.tagHints, " · ") + "  (tab completes)")
		}
	}
	return line
}

func (m *Model) viewRows() string {
	if !m.snap.HasPage {
		if m.snap.Status == service.QueueError {
			return errorStyle.Render("Could not load items: " + m.snap.Err)
		}
		return mutedStyle.Render("Loading…")
	}
	if len(m.snap.Page.Items) == 0 {
		return mutedStyle.Render("No items match this filter.")
	}
	textWidth := (m.width - 40) / 2
	if textWidth < 12 {
		textWidth = 12
	}
	lines := make([]string, 0, len(m.snap.Page.Items))
	for i, item := range m.snap.Page.Items {
		pointer := "  "
		if i == m.cursor {
			pointer = cursorStyle.Render("> ")
		}
		box := "[ ]"
		if m.snap.IsSelected(item.ID) {
			box = "[x]"
		}
		status := statusStyles[item.Status].Render(fmt.Sprintf("%-8s", item.Status))
		if m.snap.IsInFlight(item.ID) {
			status += mutedStyle.Render("…")
		} else {
			status += " "
		}
		lines = append(lines, fmt.Sprintf("%s%s %6d %s %5s  %s → %s",
			pointer, box, item.ID, status, formatBound(item.Quality),
			truncate(item.Src, textWidth), truncate(item.Tgt, textWidth)))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) viewFooter() string {
	p := m.snap.Page
	footer := fmt.Sprintf("page %d/%d · %d items", p.Page, max(p.TotalPages, 1), p.TotalItems)
	if n := len(m.snap.Selected); n > 0 {
		footer += fmt.Sprintf(" · %d selected", n)
	}
	switch m.snap.Status {
	case service.QueueLoading:
		footer += " · loading…"
	case service.QueueError:
		if m.snap.HasPage {
			footer += " · " + errorStyle.Render(m.snap.Err)
		}
	}
	if m.showLink {
		footer += "\nlink: ?" + m.snap.Link().String()
	}
	return mutedStyle.Render(footer)
}

func (m *Model) viewDialog() string {
	state := m.deps.Bulk.State()
	verb := "Approve"
	if state.Action == service.BulkReject {
		verb = "Reject"
	}
	body := fmt.Sprintf("%s %d selected items?\nnote: %s", verb, len(m.snap.Selected), m.note)
	if state.Busy() {
		body += "\n" + mutedStyle.Render("submitting…")
	} else {
		body += "\n" + mutedStyle.Render("enter confirm · esc cancel")
	}
	return dialogStyle.Render(body)
}

func (m *Model) viewNotices() string {
	lines := make([]string, 0, len(m.notices))
	for _, n := range m.notices {
		style := infoStyle
		switch n.Kind {
		case service.NoticeSuccess:
			style = successStyle
		case service.NoticeError:
			style = errorStyle
		}
		line := style.Render(n.Title)
		if n.Detail != "" {
			line += " " + n.Detail
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m *Model) seriesName(id int64) string {
	for _, s := range m.series {
		if s.ID == id {
			return s.Name
		}
	}
	return strconv.FormatInt(id, 10)
}

func (m *Model) bookTitle(id int64) string {
	for _, b := range m.books {
		if b.ID == id {
			return b.Title
		}
	}
	return strconv.FormatInt(id, 10)
}

func formatBound(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s + strings.Repeat(" ", width-len(r))
	}
	return string(r[:width-1]) + "…"
}
