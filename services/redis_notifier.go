// services/redis_notifier.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"rps-match-service/models"

	"github.com/redis/go-redis/v9"
)

// RedisChannelPrefix namespaces match topics on the shared Redis instance.
const RedisChannelPrefix = "rps:match:"

// RedisChannel returns the pub/sub channel for a match.
func RedisChannel(matchID string) string {
	return RedisChannelPrefix + matchID
}

// MatchIDFromChannel is the inverse of RedisChannel.
func MatchIDFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, RedisChannelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(channel, RedisChannelPrefix), true
}

// RedisNotifier publishes events to Redis so every instance's hub can fan
// them out to its own subscribers.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Publish(ctx context.Context, ev models.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := n.client.Publish(ctx, RedisChannel(ev.MatchID), payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", ev.Type, err)
	}
	return nil
}
