package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const DefaultChangeChannel = "frota:changes"

type changeMessage struct {
	AccountID  string     `json:"accountId"`
	Collection Collection `json:"collection"`
}

// RedisSignal publishes write notifications on a Redis channel and replays
// the ones it receives into the local Hub, so every API process refreshes
// its subscribers after any process writes.
type RedisSignal struct {
	rdb     *redis.Client
	channel string
	local   *Hub
}

func NewRedisSignal(rdb *redis.Client, channel string, local *Hub) *RedisSignal {
	if channel == "" {
		channel = DefaultChangeChannel
	}
	return &RedisSignal{rdb: rdb, channel: channel, local: local}
}

// NewRedisClient parses a redis:// URL and checks the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// Changed falls back to the local hub when Redis is unreachable so this
// process still sees its own writes.
func (r *RedisSignal) Changed(ctx context.Context, account string, c Collection) {
	data, err := json.Marshal(changeMessage{AccountID: account, Collection: c})
	if err != nil {
		r.local.Changed(ctx, account, c)
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := r.rdb.Publish(pubCtx, r.channel, data).Err(); err != nil {
		slog.WarnContext(ctx, "Change publish failed, notifying locally",
			"channel", r.channel,
			"collection", c,
			"error", err)
		r.local.Changed(ctx, account, c)
	}
}

// Run consumes the channel until ctx ends.
func (r *RedisSignal) Run(ctx context.Context) error {
	ps := r.rdb.Subscribe(ctx, r.channel)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	slog.InfoContext(ctx, "Listening for store changes", "channel", r.channel)

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("change channel closed")
			}
			var change changeMessage
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				slog.WarnContext(ctx, "Ignoring malformed change message", "error", err)
				continue
			}
			if !change.Collection.Valid() {
				continue
			}
			r.local.Changed(ctx, change.AccountID, change.Collection)
		}
	}
}
