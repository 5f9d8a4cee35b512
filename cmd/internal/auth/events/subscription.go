package events

import "sync"

// DefaultQueueSize bounds each subscription queue.
const DefaultQueueSize = 16

// Subscription receives events for one device.
//
// C is never closed by the broker; use Done to observe Close.
type Subscription struct {
	C <-chan Event

	ch       chan Event
	deviceID string
	done     chan struct{}
	once     sync.Once
	detach   func(*Subscription)

	sendMu sync.Mutex
}

func newSubscription(deviceID string, size int, detach func(*Subscription)) *Subscription {
	if size <= 0 {
		size = DefaultQueueSize
	}
	ch := make(chan Event, size)
	return &Subscription{
		C:        ch,
		ch:       ch,
		deviceID: deviceID,
		done:     make(chan struct{}),
		detach:   detach,
	}
}

// DeviceID returns the device the subscription is scoped to.
func (s *Subscription) DeviceID() string { return s.deviceID }

// Done is closed once Close has been called.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close detaches the subscription. Safe to call multiple times.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		close(s.done)
		if s.detach != nil {
			s.detach(s)
		}
	})
}

// offer delivers without blocking. On a full queue the oldest pending event is discarded so
// the newest state always gets through. It reports false when an event was lost.
func (s *Subscription) offer(ev Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	select {
	case s.ch <- ev:
		return true
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- ev
	return false
}
