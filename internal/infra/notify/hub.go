// Package notify delivers session notifications and navigation changes to
// the console's observers.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/yanqian/clinic-console/internal/domain/session"
)

const subscriberBuffer = 16

// Hub logs every notification and fans it out to subscribers. A subscriber
// that does not keep up loses notifications instead of blocking the session.
type Hub struct {
	logger *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]chan session.Notification
}

// NewHub builds an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger.With("component", "notify.hub"),
		subs:   make(map[int]chan session.Notification),
	}
}

// Notify implements session.Notifier.
func (h *Hub) Notify(n session.Notification) {
	h.logger.Log(context.Background(), levelOf(n.Level), n.Message, "kind", string(n.Kind))

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- n:
		default:
			h.logger.Warn("dropping notification for slow subscriber", "subscriber", id, "kind", string(n.Kind))
		}
	}
}

// Subscribe returns a notification stream and its cancel function.
func (h *Hub) Subscribe() (<-chan session.Notification, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan session.Notification, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

func levelOf(level string) slog.Level {
	switch level {
	case "error":
		return slog.LevelError
	case "warning":
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

var _ session.Notifier = (*Hub)(nil)
