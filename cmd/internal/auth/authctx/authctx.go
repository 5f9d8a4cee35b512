// Package authctx holds the per-page Auth Context: an observable {User, Loading} cell that
// mirrors the Session Store for one browser device.
//
// A Context is created loading, mounted once against a Source, and unmounted when the page
// render or live connection that owns it ends. Only the initial session query and the
// change subscription write to it; whichever completes last wins.
package authctx

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"healthydb/cmd/internal/auth/events"
	"healthydb/cmd/internal/auth/provider"
)

// ErrAlreadyMounted is returned by a second Mount.
var ErrAlreadyMounted = errors.New("auth context already mounted")

// Source is the part of the Session Store an Auth Context reads.
type Source interface {
	GetSession(ctx context.Context, creds provider.Credentials) (*provider.Session, error)
	OnAuthStateChange(deviceID string, fn func(events.Event)) (unsubscribe func())
}

// State is a snapshot of the cell. User is only meaningful when Loading is false.
type State struct {
	User    *provider.User
	Loading bool
	Version uint64
}

// Authenticated reports whether the state carries a settled user.
func (s State) Authenticated() bool { return !s.Loading && s.User != nil }

// Context is the Auth Context. Safe for concurrent use.
type Context struct {
	log *slog.Logger

	mu       sync.Mutex
	state    State
	mounted  bool
	closed   bool
	cancel   context.CancelFunc
	unsub    func()
	watchers map[uint64]chan State
	nextW    uint64

	settled     chan struct{}
	settledOnce sync.Once
	done        chan struct{}
}

// New returns an unmounted Context in the loading state.
func New(log *slog.Logger) *Context {
	if log == nil {
		log = slog.Default()
	}
	return &Context{
		log:      log,
		state:    State{Loading: true},
		watchers: make(map[uint64]chan State),
		settled:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Mount subscribes to changes for deviceID and then starts the initial session query.
// The query runs on its own goroutine and is canceled by Unmount or by ctx.
func (c *Context) Mount(ctx context.Context, src Source, deviceID string, creds provider.Credentials) error {
	c.mu.Lock()
	if c.mounted || c.closed {
		c.mu.Unlock()
		return ErrAlreadyMounted
	}
	c.mounted = true
	qctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	// Subscribe before querying so no change between the two is lost.
	unsub := src.OnAuthStateChange(deviceID, c.onEvent)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		unsub()
		cancel()
		return nil
	}
	c.unsub = unsub
	c.mu.Unlock()

	go func() {
		s, err := src.GetSession(qctx, creds)
		c.onInitial(s, err)
	}()
	return nil
}

func (c *Context) onInitial(s *provider.Session, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	next := c.state
	next.Loading = false
	switch {
	case err == nil && s != nil:
		u := s.User
		next.User = &u
	case err == nil, errors.Is(err, provider.ErrNoSession):
		next.User = nil
	default:
		c.log.Error("authctx.initial_session.fail", "err", err)
	}
	c.setLocked(next)
}

func (c *Context) onEvent(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	next := c.state
	next.Loading = false
	if ev.Type == events.SignedOut || ev.User == nil {
		next.User = nil
	} else {
		u := *ev.User
		next.User = &u
	}
	c.setLocked(next)
}

func (c *Context) setLocked(next State) {
	next.Version = c.state.Version + 1
	c.state = next

	for _, ch := range c.watchers {
		offerLatest(ch, next)
	}
	if !next.Loading {
		c.settledOnce.Do(func() { close(c.settled) })
	}
}

// offerLatest replaces any pending value so the channel always holds the newest state.
func offerLatest(ch chan State, s State) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

// State returns a snapshot.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Watch returns a channel that always holds the latest state (starting with the current one)
// and a cancel func. The channel is closed by cancel or by Unmount.
func (c *Context) Watch() (<-chan State, func()) {
	ch := make(chan State, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextW
	c.nextW++
	c.watchers[id] = ch
	ch <- c.state
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if w, ok := c.watchers[id]; ok {
				delete(c.watchers, id)
				close(w)
			}
		})
	}
}

// Settled waits until Loading is false.
func (c *Context) Settled(ctx context.Context) (State, error) {
	select {
	case <-c.settled:
		return c.State(), nil
	default:
	}
	select {
	case <-c.settled:
		return c.State(), nil
	case <-c.done:
		return c.State(), context.Canceled
	case <-ctx.Done():
		return c.State(), ctx.Err()
	}
}

// Done is closed by Unmount.
func (c *Context) Done() <-chan struct{} { return c.done }

// Unmount cancels the subscription and the pending query. Idempotent.
func (c *Context) Unmount() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsub, cancel := c.unsub, c.cancel
	for id, w := range c.watchers {
		delete(c.watchers, id)
		close(w)
	}
	close(c.done)
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
}
