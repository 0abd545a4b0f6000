// Package notifications publishes storage request events on Redis and fans
// them out to websocket subscribers.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"

	"coldfront/internal/middleware"
	"coldfront/internal/observability"

	"github.com/redis/go-redis/v9"
)

// StorageEventsChannel carries every storage request event.
const StorageEventsChannel = "storage:requests:events"

// Notifier provides helpers to publish notifications into Redis channels
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
// A nil client turns publishing into a no-op.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Publish sends e to the events channel and to each recipient's channel.
func (n *Notifier) Publish(ctx context.Context, e Event) error {
	if n == nil || n.rdb == nil {
		observability.NotificationsPublished.WithLabelValues(string(e.Type), "skipped").Inc()
		return nil
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pipe := n.rdb.Pipeline()
	pipe.Publish(ctx, StorageEventsChannel, payload)
	for _, uid := range e.Recipients {
		pipe.Publish(ctx, UserChannel(uid), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		observability.NotificationsPublished.WithLabelValues(string(e.Type), "error").Inc()
		return fmt.Errorf("publish %s event for request %d: %w", e.Type, e.RequestID, err)
	}
	observability.NotificationsPublished.WithLabelValues(string(e.Type), "ok").Inc()
	return nil
}

// StartEventSubscriber subscribes to the events channel and calls onMessage
// for each payload until ctx is cancelled.
func (n *Notifier) StartEventSubscriber(ctx context.Context, onMessage func(channel, payload string)) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	sub := n.rdb.Subscribe(ctx, StorageEventsChannel)
	// Wait for the subscription so publishes right after this call are seen.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", StorageEventsChannel, err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							middleware.Logger.Error("panic in event subscriber",
								slog.Any("panic", r),
								slog.String("stack", string(debug.Stack())))
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()

	return nil
}

// UserChannel derives the Redis channel name for a user.
func UserChannel(userID uint) string {
	return "notifications:user:" + strconv.FormatUint(uint64(userID), 10)
}
