package tui

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tm-inbox-console/internal/inboxtest"
	"github.com/noah-isme/tm-inbox-console/internal/models"
	"github.com/noah-isme/tm-inbox-console/internal/repository"
	"github.com/noah-isme/tm-inbox-console/internal/service"
)

type harness struct {
	m     *Model
	fake  *inboxtest.Server
	queue *service.ReviewQueue
}

func newHarness(t *testing.T, items ...models.ReviewItem) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fake := inboxtest.New()
	srv := httptest.NewServer(fake.Handler())
	t.Cleanup(srv.Close)
	fake.Seed(items...)
	fake.AddSeries(models.SeriesMeta{ID: 1, Name: "The Silver Road"})

	repo := repository.NewInboxRepository(repository.InboxRepositoryConfig{BaseURL: srv.URL})
	notices := service.NewNoticeBuffer()
	queue := service.NewReviewQueue(repo, service.WithNotifier(notices))
	deps := Deps{
		Queue:         queue,
		Bulk:          service.NewBulkCoordinator(repo, queue, service.WithBulkNotifier(notices)),
		Consolidation: service.NewConsolidationService(repo, service.ConsolidationConfig{}, service.WithConsolidationNotifier(notices)),
		Lookups:       service.NewLookupService(repo, nil, 0, nil),
		Notices:       notices,
		Debounce:      30 * time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := &harness{m: New(ctx, deps), fake: fake, queue: queue}
	h.exec(h.m.refresh())
	h.exec(h.m.loadLookups())
	return h
}

// exec runs a command synchronously and feeds its message back.
func (h *harness) exec(cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	msg := cmd()
	if msg == nil {
		return
	}
	_, next := h.m.Update(msg)
	h.exec(next)
}

func (h *harness) key(s string) {
	var msg tea.KeyMsg
	switch s {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	case " ":
		msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "tab":
		msg = tea.KeyMsg{Type: tea.KeyTab}
	case "backspace":
		msg = tea.KeyMsg{Type: tea.KeyBackspace}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
	_, cmd := h.m.Update(msg)
	h.exec(cmd)
}

func (h *harness) typeText(s string) {
	for _, r := range s {
		h.key(string(r))
	}
}

func pending(id int64, src string) models.ReviewItem {
	q := 0.9
	return models.ReviewItem{ID: id, Src: src, Tgt: "alvo", LangSrc: "en", LangTgt: "pt", Quality: &q}
}

func TestApproveUnderCursorRemovesItem(t *testing.T) {
	h := newHarness(t, pending(1, "one"), pending(2, "two"))
	assert.Len(t, h.m.snap.Page.Items, 2)

	h.key("j")
	h.key("enter")

	assert.Equal(t, []int64{1}, models.ItemIDs(h.m.snap.Page.Items))
	stored, _ := h.fake.Item(2)
	assert.Equal(t, models.ReviewStatusApproved, stored.Status)
	assert.Equal(t, 0, h.m.cursor)
}

func TestBulkDialogFlow(t *testing.T) {
	h := newHarness(t, pending(1, "one"), pending(2, "two"), pending(3, "three"))
	h.key("a")
	assert.Equal(t, []int64{1, 2, 3}, h.m.snap.Selected)

	h.key("x")
	require.Equal(t, modeNote, h.m.mode)
	h.typeText("batch A")
	assert.Equal(t, "batch A", h.m.deps.Bulk.State().Note)
	assert.Contains(t, h.m.View(), "Reject 3 selected items?")

	h.key("enter")
	assert.Equal(t, modeBrowse, h.m.mode)
	assert.Empty(t, h.m.snap.Selected)
	assert.Empty(t, h.m.snap.Page.Items)
	assert.Equal(t, 1, h.fake.Calls(inboxtest.EndpointBulkReject))
}

func TestBulkWithoutSelectionStaysInBrowseMode(t *testing.T) {
	h := newHarness(t, pending(1, "one"))
	h.key("b")
	assert.Equal(t, modeBrowse, h.m.mode)
	h.m.pullNotices(time.Now())
	require.NotEmpty(t, h.m.notices)
	assert.Equal(t, "Nothing selected", h.m.notices[0].Title)
}

func TestSearchIsDebounced(t *testing.T) {
	h := newHarness(t, pending(1, "the dragon"), pending(2, "the door"))
	listsBefore := h.fake.Calls(inboxtest.EndpointList)

	h.key("/")
	h.typeText("dra")
	require.Eventually(t, func() bool { return h.queue.Filter().Query == "dra" }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.queue.Snapshot().Status == service.QueueLoaded }, time.Second, 5*time.Millisecond)
	assert.Equal(t, listsBefore+1, h.fake.Calls(inboxtest.EndpointList))

	h.key("enter")
	h.m.adopt(h.queue.Snapshot())
	assert.Equal(t, []int64{1}, models.ItemIDs(h.m.snap.Page.Items))
}

func TestStatusTabsAndPaging(t *testing.T) {
	h := newHarness(t, pending(1, "one"))
	h.key("2")
	assert.Equal(t, models.ReviewStatusApproved, h.m.snap.Filter.Status)
	h.key("+")
	assert.Equal(t, 50, h.m.snap.Filter.Size)
	h.key("s")
	assert.Equal(t, "quality", h.m.snap.Filter.Sort.Field)
	h.key("S")
	assert.Equal(t, models.SortAsc, h.m.snap.Filter.Sort.Direction)
	h.key("v")
	require.NotNil(t, h.m.snap.Filter.SeriesID)
	assert.Equal(t, int64(1), *h.m.snap.Filter.SeriesID)
	h.key("v")
	assert.Nil(t, h.m.snap.Filter.SeriesID)
}

func TestQuitClosesQueue(t *testing.T) {
	h := newHarness(t, pending(1, "one"))
	_, cmd := h.m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.True(t, h.m.quitting)
	assert.Error(t, h.queue.Refresh(context.Background()))
}

func TestSizeStepAtLimitKeepsPage(t *testing.T) {
	items := make([]models.ReviewItem, 0, 25)
	for i := int64(1); i <= 25; i++ {
		items = append(items, pending(i, "line"))
	}
	h := newHarness(t, items...)
	h.key("-")
	require.Equal(t, 10, h.m.snap.Filter.Size)
	h.key("n")
	require.Equal(t, 2, h.m.snap.Filter.Page)
	lists := h.fake.Calls(inboxtest.EndpointList)

	h.key("-")
	assert.Equal(t, 2, h.m.snap.Filter.Page)
	assert.Equal(t, lists, h.fake.Calls(inboxtest.EndpointList))
}

func TestBookCyclingFollowsSeries(t *testing.T) {
	h := newHarness(t, pending(1, "one"))
	h.fake.AddSeries(models.SeriesMeta{ID: 2, Name: "Ashes"})
	h.fake.AddBook(1, models.BookMeta{ID: 10, Title: "The Long Ford"})
	h.fake.AddBook(2, models.BookMeta{ID: 20, Title: "Cinder"})

	h.key("v")
	require.NotNil(t, h.m.snap.Filter.SeriesID)
	assert.Equal(t, []models.BookMeta{{ID: 10, Title: "The Long Ford"}}, h.m.books)

	h.key("B")
	require.NotNil(t, h.m.snap.Filter.BookID)
	assert.Equal(t, int64(10), *h.m.snap.Filter.BookID)
	assert.Contains(t, h.m.View(), "book The Long Ford")

	h.key("B")
	assert.Nil(t, h.m.snap.Filter.BookID)
}

func TestTagModeCompletesAndApplies(t *testing.T) {
	tagged := func(id int64, tag string) models.ReviewItem {
		item := pending(id, "line")
		item.SourceTag = models.Ref(tag)
		return item
	}
	h := newHarness(t, tagged(1, "epub-import"), tagged(2, "epub-manual"), tagged(3, "pdf-scan"))

	h.key("t")
	require.Equal(t, modeTag, h.m.mode)
	h.typeText("ep")
	assert.Equal(t, []string{"epub-import", "epub-manual"}, h.m.tagHints)
	assert.Contains(t, h.m.View(), "tab completes")

	h.key("tab")
	assert.Equal(t, "epub-import", h.m.tag)
	h.key("enter")
	assert.Equal(t, modeBrowse, h.m.mode)
	assert.Equal(t, "epub-import", h.m.snap.Filter.SourceTag)
	assert.Equal(t, []int64{1}, models.ItemIDs(h.m.snap.Page.Items))
}

func TestTagModeEscapeKeepsFilter(t *testing.T) {
	h := newHarness(t, pending(1, "one"))
	h.key("t")
	h.typeText("zz")
	h.key("backspace")
	assert.Equal(t, "z", h.m.tag)
	h.key("esc")
	assert.Equal(t, modeBrowse, h.m.mode)
	assert.Empty(t, h.m.snap.Filter.SourceTag)
}
