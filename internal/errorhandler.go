package internal

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrorReporter is the sink every failure of a shared value ends in.
// Report must never fail or panic.
type ErrorReporter interface {
	Report(sourceID int, err error)
}

// Report is one failure recorded by the ErrorHandler.
type Report struct {
	SourceID int
	Kind     Kind
	Err      error
	At       time.Time
}

// ErrorHandler keeps every reported error until drained and fans them out to catchers.
// It is unbounded: it is the only durable signal of a failed trigger.
type ErrorHandler struct {
	mu sync.Mutex

	reports  []Report
	catchers []func(Report)

	metrics *Metrics
}

func NewErrorHandler(metrics *Metrics) *ErrorHandler {
	return &ErrorHandler{
		reports: make([]Report, 0),
		metrics: metrics,
	}
}

func (h *ErrorHandler) Report(sourceID int, err error) {
	if err == nil {
		return
	}

	report := Report{
		SourceID: sourceID,
		Kind:     KindOf(err),
		Err:      err,
		At:       time.Now(),
	}

	h.mu.Lock()
	h.reports = append(h.reports, report)
	catchers := h.catchers
	h.mu.Unlock()

	h.metrics.reported(report.Kind)
	Logger().Warn("shared value error",
		zap.Int("source_id", sourceID),
		zap.String("kind", string(report.Kind)),
		zap.Error(err))

	for _, catcher := range catchers {
		h.notify(catcher, report)
	}
}

func (h *ErrorHandler) notify(catcher func(Report), report Report) {
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("error catcher panicked",
				zap.Int("source_id", report.SourceID),
				zap.Any("panic", r))
		}
	}()

	catcher(report)
}

// OnError adds a function called for every report, outside the handler's lock.
func (h *ErrorHandler) OnError(fn func(Report)) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// copy on write: Report iterates a snapshot without the lock
	catchers := make([]func(Report), len(h.catchers), len(h.catchers)+1)
	copy(catchers, h.catchers)
	h.catchers = append(catchers, fn)
}

// Reports returns a snapshot of the recorded reports, oldest first.
func (h *ErrorHandler) Reports() []Report {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Report, len(h.reports))
	copy(out, h.reports)
	return out
}

// Drain returns the recorded reports and forgets them.
func (h *ErrorHandler) Drain() []Report {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := h.reports
	h.reports = make([]Report, 0)
	return out
}

func (h *ErrorHandler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.reports)
}
