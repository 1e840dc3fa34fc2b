package service

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// NoticeKind classifies a user-facing outcome.
type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
	NoticeInfo    NoticeKind = "info"
)

// Notifier surfaces transient outcomes without knowing how they are shown.
type Notifier interface {
	Notify(kind NoticeKind, title, detail string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(kind NoticeKind, title, detail string)

// Notify implements Notifier.
func (f NotifierFunc) Notify(kind NoticeKind, title, detail string) {
	f(kind, title, detail)
}

// Notice is one recorded outcome.
type Notice struct {
	Kind   NoticeKind
	Title  string
	Detail string
	At     time.Time
}

// LogNotifier writes notices to zap.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(kind NoticeKind, title, detail string) {
	fields := []zap.Field{zap.String("kind", string(kind)), zap.String("detail", detail)}
	if kind == NoticeError {
		n.logger.Warn(title, fields...)
		return
	}
	n.logger.Info(title, fields...)
}

// MultiNotifier fans a notice out to every member.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(kind NoticeKind, title, detail string) {
	for _, n := range m {
		if n != nil {
			n.Notify(kind, title, detail)
		}
	}
}

// NoticeBuffer keeps notices until they are drained.
type NoticeBuffer struct {
	mu      sync.Mutex
	notices []Notice
	now     func() time.Time
}

// NewNoticeBuffer constructs an empty buffer.
func NewNoticeBuffer() *NoticeBuffer {
	return &NoticeBuffer{now: time.Now}
}

// Notify implements Notifier.
func (b *NoticeBuffer) Notify(kind NoticeKind, title, detail string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, Notice{Kind: kind, Title: title, Detail: detail, At: b.now()})
}

// Drain returns and forgets every buffered notice.
func (b *NoticeBuffer) Drain() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.notices
	b.notices = nil
	return out
}


func notifierOrNop(n Notifier) Notifier {
	if n == nil {
		return NotifierFunc(func(NoticeKind, string, string) {})
	}
	return n
}
