package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/eishaa-e/flowboard/domain"
)

// DefaultUpdatesChannel is the Redis channel board updates are published on.
const DefaultUpdatesChannel = "board-updates"

// BoardUpdate tells subscribers that a board's tasks changed.
type BoardUpdate struct {
	BoardID string `json:"boardId"`
	Type    string `json:"type"`
}

// Notifier publishes board updates over Redis pub/sub.
type Notifier struct {
	redis   *redis.Client
	channel string
}

// NewNotifier creates a Notifier. An empty channel selects
// DefaultUpdatesChannel.
func NewNotifier(client *redis.Client, channel string) *Notifier {
	if channel == "" {
		channel = DefaultUpdatesChannel
	}
	return &Notifier{redis: client, channel: channel}
}

// Publish sends one update per event that concerns a board.
func (n *Notifier) Publish(ctx context.Context, events ...domain.Event) error {
	for _, ev := range events {
		if ev.BoardID == "" {
			continue
		}
		data, err := sonic.Marshal(BoardUpdate{BoardID: ev.BoardID, Type: ev.Type})
		if err != nil {
			return err
		}
		if err := n.redis.Publish(ctx, n.channel, data).Err(); err != nil {
			return err
		}
	}
	return nil
}

// SubscribeUpdates listens for board updates and hands each one to fn until
// ctx is done. A closed subscription is re-established after a second.
func SubscribeUpdates(ctx context.Context, logger log.FieldLogger, rc *redis.Client, channel string, fn func(BoardUpdate)) {
	if channel == "" {
		channel = DefaultUpdatesChannel
	}
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	receive:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break receive
				}
				var upd BoardUpdate
				if err := sonic.UnmarshalString(msg.Payload, &upd); err != nil {
					logger.WithError(err).Error("unable to parse board update")
					continue
				}
				if upd.BoardID == "" {
					continue
				}
				fn(upd)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
