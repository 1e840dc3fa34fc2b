package tui

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/noah-isme/tm-inbox-console/internal/models"
	"github.com/noah-isme/tm-inbox-console/internal/service"
	appErrors "github.com/noah-isme/tm-inbox-console/pkg/errors"
)

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, m.shutdown()
	}
	switch m.mode {
	case modeSearch:
		return m.handleSearchKey(msg)
	case modeNote:
		return m.handleNoteKey(msg)
	case modeTag:
		return m.handleTagKey(msg)
	}
	return m.handleBrowseKey(msg)
}

func (m *Model) handleBrowseKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	f := m.snap.Filter
	switch msg.String() {
	case "q":
		return m, m.shutdown()
	case "j", "down":
		if m.cursor < len(m.snap.Page.Items)-1 {
			m.cursor++
		}
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
	case "1":
		return m, m.update(models.SetStatus(models.ReviewStatusPending))
	case "2":
		return m, m.update(models.SetStatus(models.ReviewStatusApproved))
	case "3":
		return m, m.update(models.SetStatus(models.ReviewStatusRejected))
	case " ":
		if item, ok := m.current(); ok {
			m.deps.Queue.Toggle(item.ID)
			m.adopt(m.deps.Queue.Snapshot())
		}
	case "a":
		m.deps.Queue.SelectAll()
		m.adopt(m.deps.Queue.Snapshot())
	case "enter", "A":
		return m, m.review(models.ReviewStatusApproved)
	case "R":
		return m, m.review(models.ReviewStatusRejected)
	case "b":
		m.openBulk(service.BulkApprove)
	case "x":
		m.openBulk(service.BulkReject)
	case "/":
		m.mode = modeSearch
	case "n":
		if f.Page < m.snap.Page.TotalPages {
			return m, m.update(models.SetPage(f.Page + 1))
		}
	case "p":
		if f.Page > 1 {
			return m, m.update(models.SetPage(f.Page - 1))
		}
	case "+", "=":
		return m, m.resize(stepSize(f.Size, 1))
	case "-":
		return m, m.resize(stepSize(f.Size, -1))
	case "s":
		return m, m.update(models.ToggleSort(nextSortField(f.Sort.Field)))
	case "S":
		return m, m.update(models.ToggleSort(f.Sort.Field))
	case "v":
		series := m.nextSeries(f.SeriesID)
		return m, m.run("series", func(ctx context.Context) error {
			return m.deps.Queue.Update(ctx, models.SetSeries(series))
		})
	case "B":
		return m, m.update(models.SetBook(m.nextBook(f.BookID)))
	case "t":
		m.mode = modeTag
		m.tag = f.SourceTag
		m.tagHints = nil
		return m, m.suggestTags(m.tag)
	case "r":
		return m, m.refresh()
	case "c":
		return m, m.consolidate()
	case "y":
		m.showLink = !m.showLink
	case "esc":
		if len(m.snap.Selected) > 0 {
			m.deps.Queue.ClearSelection()
			m.adopt(m.deps.Queue.Snapshot())
		}
	}
	return m, nil
}

func (m *Model) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.mode = modeBrowse
		m.search.Flush()
		return m, nil
	case tea.KeyEsc:
		m.mode = modeBrowse
		return m, nil
	case tea.KeyBackspace:
		if r := []rune(m.query); len(r) > 0 {
			m.query = string(r[:len(r)-1])
			m.search.Push(m.query)
		}
	case tea.KeyRunes:
		m.query += string(msg.Runes)
		m.search.Push(m.query)
	case tea.KeySpace:
		m.query += " "
		m.search.Push(m.query)
	}
	return m, nil
}

func (m *Model) handleTagKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.mode = modeBrowse
		m.tagHints = nil
		tag := strings.TrimSpace(m.tag)
		if tag == m.snap.Filter.SourceTag {
			return m, nil
		}
		return m, m.update(models.SetSourceTag(tag))
	case tea.KeyEsc:
		m.mode = modeBrowse
		m.tagHints = nil
		return m, nil
	case tea.KeyTab:
		if len(m.tagHints) == 0 || m.tagHints[0] == m.tag {
			return m, nil
		}
		m.tag = m.tagHints[0]
	case tea.KeyBackspace:
		r := []rune(m.tag)
		if len(r) == 0 {
			return m, nil
		}
		m.tag = string(r[:len(r)-1])
	case tea.KeyRunes:
		m.tag += string(msg.Runes)
	case tea.KeySpace:
		m.tag += " "
	default:
		return m, nil
	}
	return m, m.suggestTags(m.tag)
}

func (m *Model) handleNoteKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.deps.Bulk.State().Busy() {
		return m, nil
	}
	switch msg.Type {
	case tea.KeyEnter:
		return m, m.confirmBulk()
	case tea.KeyEsc:
		if err := m.deps.Bulk.Cancel(); err == nil {
			m.mode = modeBrowse
			m.note = ""
		}
		return m, nil
	case tea.KeyBackspace:
		if r := []rune(m.note); len(r) > 0 {
			m.note = string(r[:len(r)-1])
		}
	case tea.KeyRunes:
		m.note += string(msg.Runes)
	case tea.KeySpace:
		m.note += " "
	}
	_ = m.deps.Bulk.SetNote(m.note)
	return m, nil
}

func (m *Model) review(target models.ReviewStatus) tea.Cmd {
	item, ok := m.current()
	if !ok {
		return nil
	}
	op := "approve"
	if target == models.ReviewStatusRejected {
		op = "reject"
	}
	id := item.ID
	return m.run(op, func(ctx context.Context) error {
		_, err := m.deps.Queue.Review(ctx, id, target, "")
		return err
	})
}

func (m *Model) openBulk(action service.BulkAction) {
	if m.deps.Bulk == nil {
		return
	}
	if err := m.deps.Bulk.Open(action); err != nil {
		m.toast(service.NoticeInfo, "Nothing selected", appErrors.Message(err))
		return
	}
	m.mode = modeNote
	m.note = ""
}

func (m *Model) confirmBulk() tea.Cmd {
	bulk := m.deps.Bulk
	return m.run("bulk", func(ctx context.Context) error {
		_, err := bulk.Confirm(ctx)
		return err
	})
}

func (m *Model) consolidate() tea.Cmd {
	if m.deps.Consolidation == nil {
		return nil
	}
	svc := m.deps.Consolidation
	return m.run("consolidate", func(ctx context.Context) error {
		_, err := svc.Consolidate(ctx)
		return err
	})
}

// nextSeries cycles all → first series → ... → last series → all.
func (m *Model) nextSeries(current *int64) *int64 {
	if len(m.series) == 0 {
		return nil
	}
	if current == nil {
		return models.Ref(m.series[0].ID)
	}
	for i, s := range m.series {
		if s.ID == *current && i+1 < len(m.series) {
			return models.Ref(m.series[i+1].ID)
		}
	}
	return nil
}

// resize is a no-op at either end of the size list, so the page is kept.
func (m *Model) resize(size int) tea.Cmd {
	if size == m.snap.Filter.Size {
		return nil
	}
	return m.update(models.SetSize(size))
}

// nextBook cycles all → first book → ... → last book → all over the books of
// the selected series.
func (m *Model) nextBook(current *int64) *int64 {
	if len(m.books) == 0 {
		return nil
	}
	if current == nil {
		return models.Ref(m.books[0].ID)
	}
	for i, b := range m.books {
		if b.ID == *current && i+1 < len(m.books) {
			return models.Ref(m.books[i+1].ID)
		}
	}
	return nil
}

func stepSize(current, step int) int {
	sizes := models.AllowedPageSizes
	for i, s := range sizes {
		if s == current {
			j := i + step
			if j < 0 || j >= len(sizes) {
				return current
			}
			return sizes[j]
		}
	}
	return models.DefaultPageSize
}

func nextSortField(current string) string {
	fields := models.SortableFields
	for i, f := range fields {
		if f == current {
			return fields[(i+1)%len(fields)]
		}
	}
	return models.DefaultSortField
}
