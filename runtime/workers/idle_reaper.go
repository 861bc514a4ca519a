package workers

import (
	"chat-hub/domain"
	"context"
	"log/slog"
	"time"
)

type IdleLister interface {
	Idle(cutoff time.Time) []domain.ConnectionID
}

type Disconnector interface {
	ForceDisconnect(ctx context.Context, connectionID domain.ConnectionID) bool
}

// IdleReaperWorker closes connections that stayed silent longer than timeout.
type IdleReaperWorker struct {
	log          *slog.Logger
	lister       IdleLister
	disconnector Disconnector
	timeout      time.Duration
	interval     time.Duration
	now          func() time.Time
}

func NewIdleReaperWorker(log *slog.Logger, lister IdleLister, disconnector Disconnector,
	timeout, interval time.Duration) *IdleReaperWorker {
	return &IdleReaperWorker{
		log:          log,
		lister:       lister,
		disconnector: disconnector,
		timeout:      timeout,
		interval:     interval,
		now:          time.Now,
	}
}

func (w *IdleReaperWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Reap(ctx)
		}
	}
}

// Reap disconnects every idle connection and returns how many were closed.
func (w *IdleReaperWorker) Reap(ctx context.Context) int {
	closed := 0
	for _, id := range w.lister.Idle(w.now().Add(-w.timeout)) {
		if w.disconnector.ForceDisconnect(ctx, id) {
			closed++
		}
	}
	if closed > 0 {
		w.log.Info("Idle connections closed", "count", closed)
	}
	return closed
}
