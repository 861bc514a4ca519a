package workers

import (
	"chat-hub/domain/event"
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	sweeps atomic.Int32
}

func (s *countingSweeper) Sweep(time.Time) []event.PresenceChanged {
	s.sweeps.Add(1)
	return nil
}

func TestPresenceSweepWorker_Sweeps_Until_Canceled(t *testing.T) {
	req := require.New(t)
	sweeper := &countingSweeper{}
	worker := NewPresenceSweepWorker(logs.GetLoggerFromLevel(slog.LevelDebug), sweeper, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	req.Eventually(func() bool { return sweeper.sweeps.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	req.NoError(<-done)
}
