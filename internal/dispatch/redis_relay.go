package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-matchmaking/internal/models"
)

const maxRelayBackoff = 30 * time.Second

// RedisRelay publishes ride events on a Redis channel and feeds events
// received on that channel into the local hub, so subscribers connected to
// any instance see every update.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	hub     *Hub
	logger  *slog.Logger
}

func NewRedisRelay(client redis.UniversalClient, channel string, hub *Hub, logger *slog.Logger) *RedisRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{client: client, channel: channel, hub: hub, logger: logger}
}

func (r *RedisRelay) Name() string { return "redis" }

func (r *RedisRelay) Publish(ctx context.Context, ev models.RideEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, b).Err()
}

// Run relays channel messages into the hub until ctx is done, resubscribing
// with exponential backoff after failures.
func (r *RedisRelay) Run(ctx context.Context) {
	backoff := time.Second
	for {
		subscribed, err := r.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		if subscribed {
			backoff = time.Second
		}
		r.logger.Warn("ride update relay interrupted", "channel", r.channel, "error", err, "backoff", backoff.String())
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxRelayBackoff {
			backoff = maxRelayBackoff
		}
	}
}

func (r *RedisRelay) consume(ctx context.Context) (bool, error) {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return false, err
	}
	r.logger.Info("ride update relay subscribed", "channel", r.channel)
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return true, errors.New("subscription channel closed")
			}
			r.hub.Deliver([]byte(msg.Payload))
		}
	}
}
