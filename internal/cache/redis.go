package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "draftkit:invalidate"

type invalidationMessage struct {
	Keys []string `json:"keys"`
}

// RedisPublisher fans invalidations out to other instances over Redis pub/sub.
type RedisPublisher struct {
	logger  *slog.Logger
	rdb     *goredis.Client
	channel string
}

var _ Invalidator = (*RedisPublisher)(nil)

// NewRedisPublisher connects to addr and verifies the connection with PING.
func NewRedisPublisher(ctx context.Context, addr, channel string, logger *slog.Logger) (*RedisPublisher, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	if strings.TrimSpace(channel) == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisPublisher{
		logger:  logger.With(slog.String("component", "cache.redis")),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (p *RedisPublisher) Invalidate(ctx context.Context, keys ...Key) error {
	if len(keys) == 0 {
		return nil
	}
	msg := invalidationMessage{Keys: make([]string, len(keys))}
	for i, k := range keys {
		msg.Keys[i] = k.String()
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, p.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Listen subscribes to the channel and forwards every invalidation to h until
// ctx is done. It returns once the subscription is confirmed.
func (p *RedisPublisher) Listen(ctx context.Context, h Handler) error {
	if h == nil {
		return fmt.Errorf("handler required")
	}

	sub := p.rdb.Subscribe(ctx, p.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				keys, err := decodeMessage(m.Payload)
				if err != nil {
					p.logger.Warn("bad invalidation payload", slog.String("error", err.Error()))
					continue
				}
				h(ctx, keys)
			}
		}
	}()

	return nil
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

func decodeMessage(payload string) ([]Key, error) {
	var msg invalidationMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return nil, err
	}
	keys := make([]Key, 0, len(msg.Keys))
	for _, s := range msg.Keys {
		k, err := ParseKey(s)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}
