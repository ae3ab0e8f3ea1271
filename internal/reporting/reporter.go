package reporting

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultWindow = 30 * time.Second

// Notifier forwards an operator-facing failure, e.g. to live clients.
type Notifier interface {
	NotifyError(message string)
}

// Reporter logs failures and notifies the operator once per distinct message
// inside the quiet window, so a retry storm yields a single notification.
type Reporter struct {
	logger *zap.Logger
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	notifier Notifier
	seen     map[string]time.Time
}

func NewReporter(logger *zap.Logger, window time.Duration) *Reporter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Reporter{
		logger: logger,
		window: window,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// SetNotifier attaches the live notification channel. It may be called after
// components already hold the reporter.
func (r *Reporter) SetNotifier(n Notifier) {
	r.mu.Lock()
	r.notifier = n
	r.mu.Unlock()
}

func (r *Reporter) Report(message string) {
	r.mu.Lock()
	now := r.now()
	if last, ok := r.seen[message]; ok && now.Sub(last) < r.window {
		r.mu.Unlock()
		r.logger.Debug("Suppressed repeated error report", zap.String("message", message))
		return
	}
	r.seen[message] = now
	r.prune(now)
	notifier := r.notifier
	r.mu.Unlock()

	r.logger.Error("Error reported", zap.String("message", message))
	if notifier != nil {
		notifier.NotifyError(message)
	}
}

func (r *Reporter) prune(now time.Time) {
	for msg, at := range r.seen {
		if now.Sub(at) >= r.window {
			delete(r.seen, msg)
		}
	}
}
