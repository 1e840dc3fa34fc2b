package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/noah-isme/tm-inbox-console/internal/models"
	"github.com/noah-isme/tm-inbox-console/internal/service"
	"github.com/noah-isme/tm-inbox-console/pkg/debounce"
	appErrors "github.com/noah-isme/tm-inbox-console/pkg/errors"
)

const (
	noticeTTL    = 4 * time.Second
	tickInterval = 250 * time.Millisecond
)

type mode int

const (
	modeBrowse mode = iota
	modeSearch
	modeNote
	modeTag
)

// Deps are the services the console drives.
type Deps struct {
	Queue         *service.ReviewQueue
	Bulk          *service.BulkCoordinator
	Consolidation *service.ConsolidationService
	Lookups       *service.LookupService
	Notices       *service.NoticeBuffer
	Debounce      time.Duration
	Logger        *zap.Logger
}

type snapshotMsg struct{ snap service.QueueSnapshot }

type opDoneMsg struct {
	op  string
	err error
}

type lookupMsg struct {
	opts *service.LookupOptions
	err  error
}

type tagSuggestMsg struct {
	prefix string
	tags   []string
	err    error
}

type tickMsg time.Time

// Model is the bubbletea model of the review console.
type Model struct {
	ctx    context.Context
	deps   Deps
	logger *zap.Logger

	snap     service.QueueSnapshot
	updates  chan service.QueueSnapshot
	unsub    func()
	search   *debounce.Debouncer[string]
	cursor   int
	mode     mode
	query    string
	note     string
	notices  []service.Notice
	series   []models.SeriesMeta
	books    []models.BookMeta
	tag      string
	tagHints []string
	showLink bool
	width    int
	quitting bool
}

// New wires a console model to the queue. The queue is not fetched until Init.
func New(ctx context.Context, deps Deps) *Model {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Notices == nil {
		deps.Notices = service.NewNoticeBuffer()
	}
	m := &Model{
		ctx:     ctx,
		deps:    deps,
		logger:  deps.Logger,
		updates: make(chan service.QueueSnapshot, 1),
		width:   100,
	}
	m.snap = deps.Queue.Snapshot()
	m.query = m.snap.Filter.Query
	m.search = debounce.New(deps.Debounce, m.query, func(q string) {
		if err := deps.Queue.Update(ctx, models.SetQuery(q)); err != nil && !appErrors.IsRequestError(err) {
			deps.Notices.Notify(service.NoticeError, "Search failed", appErrors.Message(err))
		}
	})
	m.unsub = deps.Queue.Subscribe(m.publish)
	return m
}

// publish keeps only the latest snapshot for the UI goroutine.
func (m *Model) publish(snap service.QueueSnapshot) {
	for {
		select {
		case m.updates <- snap:
			return
		default:
		}
		select {
		case old := <-m.updates:
			if old.Version > snap.Version {
				snap = old
			}
		default:
		}
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.waitForSnapshot(), tick(), m.refresh(), m.loadLookups())
}

func (m *Model) waitForSnapshot() tea.Cmd {
	return func() tea.Msg {
		select {
		case snap := <-m.updates:
			return snapshotMsg{snap: snap}
		case <-m.ctx.Done():
			return nil
		}
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		m.adopt(msg.snap)
		return m, m.waitForSnapshot()
	case opDoneMsg:
		m.adopt(m.deps.Queue.Snapshot())
		if msg.op == "bulk" {
			m.mode = modeBrowse
			m.note = ""
		}
		// Remote failures are already reported by the services.
		if msg.err != nil && !appErrors.IsRequestError(msg.err) {
			m.toast(service.NoticeError, failureTitle(msg.op), appErrors.Message(msg.err))
		}
		if msg.op == "series" && msg.err == nil {
			return m, m.loadLookups()
		}
		return m, nil
	case lookupMsg:
		if msg.err != nil {
			m.logger.Warn("lookups unavailable", zap.Error(msg.err))
			return m, nil
		}
		m.series = msg.opts.Series
		m.books = msg.opts.Books
		return m, nil
	case tagSuggestMsg:
		if m.mode != modeTag || msg.prefix != m.tag {
			return m, nil
		}
		if msg.err != nil {
			m.logger.Warn("source tag suggestions unavailable", zap.Error(msg.err))
			m.tagHints = nil
			return m, nil
		}
		m.tagHints = msg.tags
		return m, nil
	case tickMsg:
		m.pullNotices(time.Time(msg))
		return m, tick()
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// adopt installs snap unless a newer one is already shown.
func (m *Model) adopt(snap service.QueueSnapshot) {
	if snap.Version < m.snap.Version {
		return
	}
	m.snap = snap
	if n := len(snap.Page.Items); m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	if m.mode != modeSearch && snap.Filter.Query != m.query {
		m.query = snap.Filter.Query
		m.search.Sync(m.query)
	}
}

func (m *Model) pullNotices(now time.Time) {
	m.notices = append(m.notices, m.deps.Notices.Drain()...)
	kept := m.notices[:0]
	for _, n := range m.notices {
		if now.Sub(n.At) < noticeTTL {
			kept = append(kept, n)
		}
	}
	m.notices = kept
}

func (m *Model) toast(kind service.NoticeKind, title, detail string) {
	m.deps.Notices.Notify(kind, title, detail)
	m.pullNotices(time.Now())
}

func (m *Model) current() (models.ReviewItem, bool) {
	items := m.snap.Page.Items
	if m.cursor < 0 || m.cursor >= len(items) {
		return models.ReviewItem{}, false
	}
	return items[m.cursor], true
}

func (m *Model) shutdown() tea.Cmd {
	m.quitting = true
	m.search.Stop()
	if m.unsub != nil {
		m.unsub()
	}
	m.deps.Queue.Close()
	return tea.Quit
}

func (m *Model) run(op string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return opDoneMsg{op: op, err: fn(ctx)}
	}
}

func (m *Model) refresh() tea.Cmd {
	return m.run("refresh", m.deps.Queue.Refresh)
}

func (m *Model) update(changes ...models.FilterChange) tea.Cmd {
	return m.run("filter", func(ctx context.Context) error {
		return m.deps.Queue.Update(ctx, changes...)
	})
}

func (m *Model) loadLookups() tea.Cmd {
	if m.deps.Lookups == nil {
		return nil
	}
	lookups, ctx, queue := m.deps.Lookups, m.ctx, m.deps.Queue
	return func() tea.Msg {
		opts, err := lookups.Options(ctx, queue.Filter())
		return lookupMsg{opts: opts, err: err}
	}
}

// suggestTags completes prefix; replies for an outdated prefix are dropped.
func (m *Model) suggestTags(prefix string) tea.Cmd {
	if m.deps.Lookups == nil {
		return nil
	}
	lookups, ctx := m.deps.Lookups, m.ctx
	return func() tea.Msg {
		tags, err := lookups.SuggestSourceTags(ctx, prefix)
		return tagSuggestMsg{prefix: prefix, tags: tags, err: err}
	}
}

func failureTitle(op string) string {
	switch op {
	case "approve":
		return "Approve failed"
	case "reject":
		return "Reject failed"
	case "bulk":
		return "Bulk action failed"
	case "consolidate":
		return "Consolidation failed"
	case "filter", "series":
		return "Invalid filter"
	default:
		return "Action failed"
	}
}

// Run drives the console on the terminal until the user quits.
func Run(ctx context.Context, deps Deps) error {
	m := New(ctx, deps)
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if !m.quitting {
		m.shutdown()
	}
	return err
}
