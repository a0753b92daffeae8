package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-matchmaking/internal/models"
	"github.com/example/ride-matchmaking/internal/observability"
)

const defaultSinkTimeout = 2 * time.Second

// Sink delivers ride events to one transport.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev models.RideEvent) error
}

// Dispatcher fans ride status events out to every configured sink. One
// instance lives for the whole process.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func NewDispatcher(logger *slog.Logger, timeout time.Duration, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultSinkTimeout
	}
	return &Dispatcher{sinks: sinks, timeout: timeout, logger: logger, now: time.Now}
}

// Broadcast is fire-and-forget. A failing sink is logged and counted and
// never affects the others or the caller.
func (d *Dispatcher) Broadcast(ctx context.Context, rideID string, status models.Status) {
	ev := models.RideEvent{
		Event:  models.EventRideUpdate,
		RideID: rideID,
		Status: status,
		At:     d.now().UTC(),
	}
	for _, s := range d.sinks {
		sctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := s.Publish(sctx, ev)
		cancel()
		if err != nil {
			observability.BroadcastFailures.WithLabelValues(s.Name()).Inc()
			d.logger.Warn("ride update delivery failed", "sink", s.Name(), "ride_id", rideID, "status", status, "error", err)
		}
	}
}
