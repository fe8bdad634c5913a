package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yanqian/clinic-console/pkg/clock"
	"github.com/yanqian/clinic-console/pkg/metrics"
	"github.com/yanqian/clinic-console/pkg/observable"
)

// Remaining is a countdown reading. Known is false while no session timer
// is running.
type Remaining struct {
	Seconds   int    `json:"seconds"`
	Known     bool   `json:"known"`
	Formatted string `json:"formatted,omitempty"`
}

// Countdown polls the Timer once per tick, publishes the seconds left, warns
// when the token enters the refresh buffer and reports expiry.
type Countdown struct {
	timer    *Timer
	clock    clock.Clock
	notifier Notifier
	metrics  *metrics.Session
	buffer   int
	logger   *slog.Logger

	remaining *observable.Value[Remaining]
}

// NewCountdown builds a Countdown over timer.
func NewCountdown(cfg Config, timer *Timer, clk clock.Clock, notifier Notifier, m *metrics.Session, logger *slog.Logger) *Countdown {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Countdown{
		timer:     timer,
		clock:     clk,
		notifier:  notifier,
		metrics:   m,
		buffer:    int(cfg.ExpiryBuffer / time.Second),
		logger:    logger.With("component", "session.countdown"),
		remaining: observable.New(Remaining{}),
	}
}

// Current returns the last published reading.
func (c *Countdown) Current() Remaining {
	return c.remaining.Get()
}

// Subscribe streams readings as they change.
func (c *Countdown) Subscribe() (<-chan Remaining, func()) {
	return c.remaining.Subscribe()
}

// Tick evaluates the countdown once. Readings are only published when they
// change, so the warning fires once per crossing of the buffer.
func (c *Countdown) Tick(ctx context.Context) error {
	seconds, known, err := c.timer.SecondsRemaining(ctx)
	if err != nil {
		return err
	}
	next := Remaining{Seconds: seconds, Known: known}
	if known {
		next.Formatted = FormatRemaining(seconds)
	}
	if next == c.remaining.Get() {
		return nil
	}
	c.remaining.Set(next)
	if !known {
		return nil
	}
	c.metrics.SecondsRemaining(seconds)

	if seconds == c.buffer && c.buffer > 0 {
		c.notifier.Notify(Notification{
			Kind:    NotificationExpiring,
			Level:   "warning",
			Message: fmt.Sprintf("Your session will expire in %d seconds.", c.buffer),
			At:      c.clock.Now(),
		})
	}
	if seconds == 0 {
		c.timer.markExpired()
	}
	return nil
}

// Run ticks every interval until ctx is done.
func (c *Countdown) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Tick(ctx); err != nil {
				c.logger.Error("countdown tick failed", "error", err)
			}
		}
	}
}
