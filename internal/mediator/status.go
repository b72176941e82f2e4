package mediator

import (
	"log/slog"
	"sync"
)

// ApplicationStatus is a progress line shown by the host. An empty Status
// means idle.
type ApplicationStatus struct {
	Source string `json:"source"`
	Status string `json:"status"`
}

// StatusSink receives status transitions.
type StatusSink interface {
	StatusUpdate(status ApplicationStatus)
}

// StatusFunc adapts a function to StatusSink.
type StatusFunc func(ApplicationStatus)

func (f StatusFunc) StatusUpdate(s ApplicationStatus) { f(s) }

// StatusMediator fans status updates out to every registered sink and keeps
// the last status per source.
type StatusMediator struct {
	mu    sync.RWMutex
	sinks []StatusSink
	last  map[string]ApplicationStatus
}

// NewStatusMediator returns a mediator delivering to sinks.
func NewStatusMediator(sinks ...StatusSink) *StatusMediator {
	return &StatusMediator{sinks: sinks, last: make(map[string]ApplicationStatus)}
}

// Register adds a sink.
func (m *StatusMediator) Register(s StatusSink) {
	m.mu.Lock()
	m.sinks = append(m.sinks, s)
	m.mu.Unlock()
}

func (m *StatusMediator) StatusUpdate(s ApplicationStatus) {
	m.mu.Lock()
	if s.Status == "" {
		delete(m.last, s.Source)
	} else {
		m.last[s.Source] = s
	}
	sinks := append([]StatusSink(nil), m.sinks...)
	m.mu.Unlock()

	for _, sink := range sinks {
		sink.StatusUpdate(s)
	}
}

// Current returns every non-idle status.
func (m *StatusMediator) Current() []ApplicationStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ApplicationStatus, 0, len(m.last))
	for _, s := range m.last {
		out = append(out, s)
	}
	return out
}

// LogStatusSink writes status transitions at debug level.
type LogStatusSink struct {
	Logger *slog.Logger
}

func (l LogStatusSink) StatusUpdate(s ApplicationStatus) {
	if l.Logger == nil {
		return
	}
	if s.Status == "" {
		l.Logger.Debug("status idle", "source", s.Source)
		return
	}
	l.Logger.Debug("status", "source", s.Source, "status", s.Status)
}
