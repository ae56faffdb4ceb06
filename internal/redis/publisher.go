package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docintake/internal/session"

	redis "github.com/redis/go-redis/v9"
)

const committedKeyPrefix = "docintake:committed:"

// ErrNotCommitted means no snapshot is held for the session, either because
// it was never committed or because the snapshot expired.
var ErrNotCommitted = errors.New("no committed snapshot")

// CommittedKey is where the snapshot of a committed session is kept.
func CommittedKey(sessionID string) string {
	return committedKeyPrefix + sessionID
}

// Publisher hands committed sessions to downstream consumers: the snapshot is
// stored under CommittedKey for ttl and announced on channel.
type Publisher struct {
	client  *Client
	channel string
	ttl     time.Duration
	logger  *slog.Logger
}

func NewPublisher(client *Client, channel string, ttl time.Duration, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, channel: channel, ttl: ttl, logger: logger}
}

func (p *Publisher) PublishCommitted(ctx context.Context, view *session.View) error {
	if view == nil {
		return nil
	}
	raw := p.client.Raw()
	if raw == nil {
		return errNotInitialized
	}
	payload, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("marshal committed session: %w", err)
	}
	_, err = raw.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, CommittedKey(view.ID), payload, p.ttl)
		pipe.Publish(ctx, p.channel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish committed session %s: %w", view.ID, err)
	}
	p.logger.Info("committed session published", "session", view.ID, "channel", p.channel)
	return nil
}

// Subscribe delivers every committed session announced on the channel to
// handler until ctx is done.
func (p *Publisher) Subscribe(ctx context.Context, handler func(*session.View)) error {
	raw := p.client.Raw()
	if raw == nil {
		return errNotInitialized
	}
	pubsub := raw.Subscribe(ctx, p.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", p.channel, err)
	}
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var view session.View
				if err := json.Unmarshal([]byte(msg.Payload), &view); err != nil {
					p.logger.Warn("committed session decode failed", "err", err)
					continue
				}
				handler(&view)
			}
		}
	}()
	return nil
}

// Committed loads a previously published snapshot and how long it is kept.
func (p *Publisher) Committed(ctx context.Context, sessionID string) (*session.View, time.Duration, error) {
	raw := p.client.Raw()
	if raw == nil {
		return nil, 0, errNotInitialized
	}
	key := CommittedKey(sessionID)
	var (
		get *redis.StringCmd
		ttl *redis.DurationCmd
	)
	_, err := raw.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, key)
		ttl = pipe.TTL(ctx, key)
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, 0, fmt.Errorf("%w: session %s", ErrNotCommitted, sessionID)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load committed session %s: %w", sessionID, err)
	}
	var view session.View
	if err := json.Unmarshal([]byte(get.Val()), &view); err != nil {
		return nil, 0, fmt.Errorf("decode committed session: %w", err)
	}
	return &view, ttl.Val(), nil
}
