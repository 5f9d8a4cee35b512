package events

import (
	"context"
	"log/slog"
	"sync"
)

// MemoryBroker fans events out to subscriptions in this process.
//
// Publish never blocks: a full subscriber queue drops the event.
type MemoryBroker struct {
	log       *slog.Logger
	queueSize int

	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
}

// NewMemoryBroker constructs a MemoryBroker. queueSize <= 0 selects DefaultQueueSize.
func NewMemoryBroker(log *slog.Logger, queueSize int) *MemoryBroker {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryBroker{
		log:       log,
		queueSize: queueSize,
		topics:    make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe registers a subscription for deviceID.
func (b *MemoryBroker) Subscribe(deviceID string) *Subscription {
	sub := newSubscription(deviceID, b.queueSize, b.leave)

	b.mu.Lock()
	set, ok := b.topics[deviceID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.topics[deviceID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

func (b *MemoryBroker) leave(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.topics[sub.deviceID]
	delete(set, sub)
	if len(set) == 0 {
		delete(b.topics, sub.deviceID)
	}
}

// Publish delivers ev to every subscription of ev.DeviceID.
func (b *MemoryBroker) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.deliver(ev)
	return nil
}

func (b *MemoryBroker) deliver(ev Event) {
	if ev.DeviceID == "" {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.topics[ev.DeviceID] {
		if !sub.offer(ev) {
			b.log.Warn("events.drop", "device_id", ev.DeviceID, "type", string(ev.Type))
		}
	}
}

// Subscribers returns the number of live subscriptions for deviceID.
func (b *MemoryBroker) Subscribers(deviceID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[deviceID])
}
