package notify

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/reelrate/reelrate/internal/metrics"
)

// DefaultChannel is the redis pub/sub channel carrying frames.
const DefaultChannel = "reelrate:events"

// RedisRelay shares events between server instances. Broadcast publishes
// the frame on a redis channel and Run feeds every frame received on that
// channel, including this instance's own, into the local hub.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	hub     *Hub
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time

	ready chan struct{}
}

// NewRedisRelay creates a relay delivering into hub.
func NewRedisRelay(client redis.UniversalClient, channel string, hub *Hub, m *metrics.Metrics, logger zerolog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		hub:     hub,
		metrics: m,
		logger:  logger.With().Str("component", "notify-relay").Str("channel", channel).Logger(),
		now:     time.Now,
		ready:   make(chan struct{}),
	}
}

// Broadcast publishes the event to all instances. When redis is
// unreachable the event is still delivered to local subscribers.
func (r *RedisRelay) Broadcast(ctx context.Context, kind Kind, payload any) {
	msg, err := Encode(kind, payload, r.now())
	if err != nil {
		r.logger.Error().Err(err).Str("event", kind.String()).Msg("failed to encode event")
		return
	}
	r.metrics.RecordEventBroadcast(msg.Event)

	if err := r.client.Publish(ctx, r.channel, msg.Body).Err(); err != nil {
		r.logger.Warn().Err(err).Str("event", msg.Event).Msg("relay publish failed, delivering locally")
		r.hub.Publish(msg)
	}
}

// Ready is closed once the subscription is confirmed by redis.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Run subscribes to the channel and forwards frames to the hub until ctx
// is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for the subscription confirmation so no frame published after
	// Ready is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return err
	}
	close(r.ready)
	r.logger.Info().Msg("relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := Decode([]byte(m.Payload))
			if err != nil {
				r.logger.Warn().Err(err).Msg("discarding malformed relay frame")
				continue
			}
			r.hub.Publish(msg)
		}
	}
}

// Ensure RedisRelay implements Notifier.
var _ Notifier = (*RedisRelay)(nil)
