package mediator

import (
	"log/slog"
	"sync"
)

// Notifier shows messages to the user.
type Notifier interface {
	ShowWarning(text string)
	ShowError(text string)
}

// Notification is one delivered message.
type Notification struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// LogNotifier shows notifications through the logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) ShowWarning(text string) {
	if n.Logger != nil {
		n.Logger.Warn(text)
	}
}

func (n LogNotifier) ShowError(text string) {
	if n.Logger != nil {
		n.Logger.Error(text)
	}
}

// NotificationFeed fans notifications out to listeners and keeps a bounded
// backlog for late readers.
type NotificationFeed struct {
	mu        sync.Mutex
	limit     int
	backlog   []Notification
	listeners []func(Notification)
}

// NewNotificationFeed keeps at most limit notifications.
func NewNotificationFeed(limit int) *NotificationFeed {
	if limit <= 0 {
		limit = 50
	}
	return &NotificationFeed{limit: limit}
}

// Listen registers fn for every future notification.
func (f *NotificationFeed) Listen(fn func(Notification)) {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

func (f *NotificationFeed) ShowWarning(text string) { f.push(Notification{Level: "warning", Text: text}) }
func (f *NotificationFeed) ShowError(text string)   { f.push(Notification{Level: "error", Text: text}) }

func (f *NotificationFeed) push(n Notification) {
	f.mu.Lock()
	f.backlog = append(f.backlog, n)
	if len(f.backlog) > f.limit {
		f.backlog = f.backlog[len(f.backlog)-f.limit:]
	}
	ls := append([]func(Notification){}, f.listeners...)
	f.mu.Unlock()
	for _, l := range ls {
		l(n)
	}
}

// Recent returns the backlog, oldest first.
func (f *NotificationFeed) Recent() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.backlog...)
}

// MultiNotifier delivers to every notifier in order.
type MultiNotifier []Notifier

func (m MultiNotifier) ShowWarning(text string) {
	for _, n := range m {
		n.ShowWarning(text)
	}
}

func (m MultiNotifier) ShowError(text string) {
	for _, n := range m {
		n.ShowError(text)
	}
}
