package workers

import (
	"chat-hub/domain/event"
	"context"
	"log/slog"
	"reflect"
	"time"
)

// Probe exposes the fill level of an internal queue.
type Probe struct {
	Name string
	Len  func() int
	Cap  func() int
}

// ChannelProbe builds a probe over any buffered channel.
func ChannelProbe(name string, channel any) Probe {
	v := reflect.ValueOf(channel)
	if v.Kind() != reflect.Chan {
		return Probe{Name: name, Len: func() int { return 0 }, Cap: func() int { return 0 }}
	}
	return Probe{Name: name, Len: v.Len, Cap: v.Cap}
}

// ChannelCapacityWorker periodically reports the length and capacity of the
// fan-out shards, the persistence queue and the event sink buffer.
// Sampling never blocks, a lost sample is fine.
type ChannelCapacityWorker struct {
	log            *slog.Logger
	probes         []Probe
	telemetryChan  chan event.Event
	metricInterval time.Duration
}

func NewChannelCapacityWorker(log *slog.Logger, probes []Probe,
	telemetryChan chan event.Event, metricInterval time.Duration) *ChannelCapacityWorker {
	return &ChannelCapacityWorker{
		log:            log,
		probes:         probes,
		telemetryChan:  telemetryChan,
		metricInterval: metricInterval,
	}
}

func (w ChannelCapacityWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, p := range w.probes {
				select {
				case w.telemetryChan <- event.New(event.ChannelCapacityType, event.ChannelCapacity{
					ChannelName: p.Name,
					Capacity:    p.Cap(),
					Length:      p.Len(),
				}):
				default:
					w.log.Debug("Observability telemetry event lost")
				}
			}
		}
	}
}
