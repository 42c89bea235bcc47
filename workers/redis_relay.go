// workers/redis_relay.go
package workers

import (
	"context"
	"encoding/json"

	"rps-match-service/models"
	"rps-match-service/services"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

// RedisRelay forwards events published by any instance into the local hub,
// which serves this instance's SSE and WebSocket subscribers.
type RedisRelay struct {
	client *redis.Client
	hub    *services.Hub
	logger *log.Logger
}

func NewRedisRelay(client *redis.Client, hub *services.Hub, logger *log.Logger) *RedisRelay {
	return &RedisRelay{
		client: client,
		hub:    hub,
		logger: logger.WithPrefix("relay"),
	}
}

// Start blocks until ctx is done, relaying every match channel.
func (r *RedisRelay) Start(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, services.RedisChannelPrefix+"*")
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	r.logger.Info("Relaying match events from Redis", "pattern", services.RedisChannelPrefix+"*")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.Relay(ctx, msg.Channel, msg.Payload)
		}
	}
}

// Relay decodes one Redis message and publishes it locally. Malformed
// messages are logged and skipped.
func (r *RedisRelay) Relay(ctx context.Context, channel, payload string) {
	matchID, ok := services.MatchIDFromChannel(channel)
	if !ok {
		return
	}
	var ev models.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		r.logger.Warn("Dropping malformed event", "channel", channel, "error", err)
		return
	}
	if ev.MatchID != matchID {
		r.logger.Warn("Dropping event with mismatched match id", "channel", channel, "id", ev.MatchID)
		return
	}
	_ = r.hub.Publish(ctx, ev)
}
