package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jgoulah/plugshare/pkg/models"
)

// DefaultSpec checks for overdue sessions once a minute
const DefaultSpec = "@every 1m"

// Store lists open sessions
type Store interface {
	ListActive(ctx context.Context) ([]models.ActiveDevice, error)
}

// Notifier is told about each session that ran past its estimated use time
type Notifier interface {
	SessionOverdue(ctx context.Context, view *models.ActiveDevice) error
}

// Counter counts overdue sessions
type Counter interface {
	Overdue()
}

// OverdueWatcher periodically looks for sessions still open after their estimated
// use time and notifies once per session
type OverdueWatcher struct {
	store    Store
	notifier Notifier
	counter  Counter
	spec     string
	now      func() time.Time

	mu       sync.Mutex
	notified map[int64]struct{}
}

// NewOverdueWatcher creates a watcher. counter may be nil.
func NewOverdueWatcher(store Store, notifier Notifier, counter Counter) *OverdueWatcher {
	return &OverdueWatcher{
		store:    store,
		notifier: notifier,
		counter:  counter,
		spec:     DefaultSpec,
		now:      time.Now,
		notified: map[int64]struct{}{},
	}
}

// WithSpec replaces the cron schedule
func (w *OverdueWatcher) WithSpec(spec string) *OverdueWatcher {
	w.spec = spec
	return w
}

// WithClock replaces the clock
func (w *OverdueWatcher) WithClock(now func() time.Time) *OverdueWatcher {
	w.now = now
	return w
}

// Check notifies about newly overdue sessions and returns how many it notified
func (w *OverdueWatcher) Check(ctx context.Context) (int, error) {
	active, err := w.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing active devices: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	open := make(map[int64]struct{}, len(active))
	sent := 0
	for i := range active {
		view := &active[i]
		open[view.UsageRecordID] = struct{}{}

		u := view.UsageRecord
		if u == nil || u.EstimatedUseTime == nil || !now.After(*u.EstimatedUseTime) {
			continue
		}
		if _, done := w.notified[view.UsageRecordID]; done {
			continue
		}

		if err := w.notifier.SessionOverdue(ctx, view); err != nil {
			// Retried on the next tick
			slog.Warn("notifying overdue session failed", "device_id", view.DeviceID, "error", err)
			continue
		}
		w.notified[view.UsageRecordID] = struct{}{}
		if w.counter != nil {
			w.counter.Overdue()
		}
		slog.Info("session overdue", "device_id", view.DeviceID, "user", u.UserEmail, "estimated_use_time", *u.EstimatedUseTime)
		sent++
	}

	// Forget sessions that have closed
	for id := range w.notified {
		if _, ok := open[id]; !ok {
			delete(w.notified, id)
		}
	}
	return sent, nil
}

// Run checks on the schedule until ctx is cancelled
func (w *OverdueWatcher) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(w.spec, func() {
		if _, err := w.Check(ctx); err != nil {
			slog.Error("overdue check failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling overdue check %q: %w", w.spec, err)
	}

	slog.Info("overdue watcher started", "schedule", w.spec)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	slog.Info("overdue watcher stopped")
	return nil
}
