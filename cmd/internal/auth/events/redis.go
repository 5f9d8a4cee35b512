package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix is prepended to the device id to form the Pub/Sub channel.
const DefaultChannelPrefix = "healthydb:auth:events:"

// RedisBroker relays events through Redis Pub/Sub so every server process sees them.
//
// Publish only PUBLISHes; local delivery happens when the pattern subscription started by
// Start receives the message back, so every process uses the same path.
type RedisBroker struct {
	log    *slog.Logger
	rdb    redis.UniversalClient
	prefix string
	local  *MemoryBroker

	mu      sync.Mutex
	pubsub  *redis.PubSub
	stopped chan struct{}
}

// NewRedisBroker builds a RedisBroker. An empty prefix selects DefaultChannelPrefix.
func NewRedisBroker(log *slog.Logger, rdb redis.UniversalClient, prefix string, queueSize int) *RedisBroker {
	if log == nil {
		log = slog.Default()
	}
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisBroker{
		log:    log,
		rdb:    rdb,
		prefix: prefix,
		local:  NewMemoryBroker(log, queueSize),
	}
}

// Start subscribes to the channel pattern and relays messages until ctx ends or Close is called.
// It returns once the subscription is confirmed by Redis.
func (b *RedisBroker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub != nil {
		return nil
	}

	ps := b.rdb.PSubscribe(ctx, b.prefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("events: psubscribe: %w", err)
	}
	b.pubsub = ps
	b.stopped = make(chan struct{})

	go b.relay(ctx, ps, b.stopped)
	b.log.Info("events.redis.start", "pattern", b.prefix+"*")
	return nil
}

func (b *RedisBroker) relay(ctx context.Context, ps *redis.PubSub, stopped chan struct{}) {
	defer close(stopped)
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = ps.Close()
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn("events.redis.decode.fail", "channel", msg.Channel, "err", err)
				continue
			}
			if ev.DeviceID != strings.TrimPrefix(msg.Channel, b.prefix) {
				b.log.Warn("events.redis.device.mismatch", "channel", msg.Channel)
				continue
			}
			b.local.deliver(ev)
		}
	}
}

// Close stops the relay. Subscriptions stay registered but receive nothing further.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	ps, stopped := b.pubsub, b.stopped
	b.pubsub = nil
	b.mu.Unlock()

	if ps == nil {
		return nil
	}
	err := ps.Close()
	<-stopped
	return err
}

// Subscribe registers a local subscription for deviceID.
func (b *RedisBroker) Subscribe(deviceID string) *Subscription {
	return b.local.Subscribe(deviceID)
}

// Publish sends ev to every process subscribed to the device channel.
func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	if ev.DeviceID == "" {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.prefix+ev.DeviceID, payload).Err(); err != nil {
		return fmt.Errorf("events: publish: %w", err)
	}
	return nil
}
