package workers

import (
	"chat-hub/domain/event"
	"context"
	"log/slog"
	"time"
)

type Sweeper interface {
	Sweep(now time.Time) []event.PresenceChanged
}

// PresenceSweepWorker expires stale presence entries on a fixed interval.
type PresenceSweepWorker struct {
	log      *slog.Logger
	sweeper  Sweeper
	interval time.Duration
	now      func() time.Time
}

func NewPresenceSweepWorker(log *slog.Logger, sweeper Sweeper, interval time.Duration) *PresenceSweepWorker {
	return &PresenceSweepWorker{log: log, sweeper: sweeper, interval: interval, now: time.Now}
}

func (w *PresenceSweepWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sweeper.Sweep(w.now())
		}
	}
}
