package session

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/yanqian/clinic-console/pkg/clock"
	"github.com/yanqian/clinic-console/pkg/metrics"
)

const defaultExpiredFireDelay = 300 * time.Millisecond

// Timer counts down the lifetime of the current access token and fires a
// single callback when it runs out. The start timestamp is persisted so a
// restarted process can resume the countdown.
type Timer struct {
	kv           KeyValueStore
	clock        clock.Clock
	expiredDelay time.Duration
	notifier     Notifier
	metrics      *metrics.Session
	logger       *slog.Logger

	mu       sync.Mutex
	lifetime *TokenLifetime
	pending  clock.Timer
	gen      uint64
	active   bool
}

// NewTimer builds an idle Timer.
func NewTimer(cfg Config, kv KeyValueStore, clk clock.Clock, notifier Notifier, m *metrics.Session, logger *slog.Logger) *Timer {
	delay := cfg.ExpiredFireDelay
	if delay <= 0 {
		delay = defaultExpiredFireDelay
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Timer{
		kv:           kv,
		clock:        clk,
		expiredDelay: delay,
		notifier:     notifier,
		metrics:      m,
		logger:       logger.With("component", "session.timer"),
	}
}

// SetLifetime caches the access token lifetime used by every computation.
func (t *Timer) SetLifetime(lifetime TokenLifetime) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l := lifetime
	t.lifetime = &l
}

// Lifetime returns the cached lifetime, if any.
func (t *Timer) Lifetime() (TokenLifetime, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lifetime == nil {
		return TokenLifetime{}, false
	}
	return *t.lifetime, true
}

// SetStartTimestamp persists the moment the current token was issued.
func (t *Timer) SetStartTimestamp(ctx context.Context, at time.Time) error {
	return t.kv.Set(ctx, keyTimerStartedAt, strconv.FormatInt(at.UnixMilli(), 10))
}

// StartTimestamp reads the persisted start; ok is false when absent or unreadable.
func (t *Timer) StartTimestamp(ctx context.Context) (time.Time, bool, error) {
	raw, ok, err := t.kv.Get(ctx, keyTimerStartedAt)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// Start begins a fresh countdown from now. Without a lifetime it does nothing.
func (t *Timer) Start(ctx context.Context, callback func()) error {
	if _, ok := t.Lifetime(); !ok {
		t.logger.Debug("timer start skipped, lifetime unknown")
		return nil
	}
	now := t.clock.Now()
	if err := t.SetStartTimestamp(ctx, now); err != nil {
		return err
	}
	t.arm(now, callback)
	return nil
}

// Restore resumes the countdown from the persisted start timestamp. Without
// a timestamp or a lifetime it does nothing.
func (t *Timer) Restore(ctx context.Context, callback func()) error {
	start, ok, err := t.StartTimestamp(ctx)
	if err != nil {
		return err
	}
	if _, known := t.Lifetime(); !ok || !known {
		t.logger.Debug("timer restore skipped", "has_timestamp", ok, "has_lifetime", known)
		return nil
	}
	t.arm(start, callback)
	return nil
}

// SecondsRemaining reports whole seconds left, never negative. ok is false
// when either the start timestamp or the lifetime is unknown.
func (t *Timer) SecondsRemaining(ctx context.Context) (int, bool, error) {
	start, ok, err := t.StartTimestamp(ctx)
	if err != nil || !ok {
		return 0, false, err
	}
	lifetime, known := t.Lifetime()
	if !known {
		return 0, false, nil
	}
	elapsed := int(t.clock.Now().Sub(start) / time.Second)
	return max(lifetime.AccessTokenLifetimeSeconds-elapsed, 0), true, nil
}

// ClearAll cancels the pending callback and erases the persisted timestamp.
func (t *Timer) ClearAll(ctx context.Context) error {
	t.mu.Lock()
	t.cancelLocked()
	t.mu.Unlock()
	return t.kv.Delete(ctx, keyTimerStartedAt)
}

// Running reports whether an expiry callback is pending.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}

// SessionActive reports whether the user is considered authenticated.
func (t *Timer) SessionActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// SetSessionActive overrides the active flag.
func (t *Timer) SetSessionActive(active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = active
}

// markExpired flips the session inactive and emits the expiry notification,
// once per active session.
func (t *Timer) markExpired() bool {
	t.mu.Lock()
	wasActive := t.active
	t.active = false
	t.mu.Unlock()
	if !wasActive {
		return false
	}
	t.metrics.Expired()
	t.notifier.Notify(Notification{
		Kind:    NotificationExpired,
		Level:   "error",
		Message: "Your session has expired.",
		At:      t.clock.Now(),
	})
	return true
}

func (t *Timer) arm(start time.Time, callback func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = true

	remaining := t.lifetime.Duration() - t.clock.Now().Sub(start)
	delay := remaining
	if remaining <= 0 {
		delay = t.expiredDelay
	}

	t.cancelLocked()
	t.gen++
	gen := t.gen
	t.pending = t.clock.AfterFunc(delay, func() { t.fire(gen, callback) })
	t.logger.Debug("timer armed", "remaining", remaining.String(), "delay", delay.String())
}

func (t *Timer) fire(gen uint64, callback func()) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.pending = nil
	t.mu.Unlock()

	t.markExpired()
	if callback != nil {
		callback()
	}
}

func (t *Timer) cancelLocked() {
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
	t.gen++
}

// FormatRemaining renders seconds as M:SS.
func FormatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
