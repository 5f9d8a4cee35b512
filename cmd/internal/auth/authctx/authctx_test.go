package authctx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"healthydb/cmd/internal/auth/events"
	"healthydb/cmd/internal/auth/provider"
	"healthydb/cmd/internal/auth/provider/providertest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource lets a test decide when the initial query returns and push notifications.
type fakeSource struct {
	mu      sync.Mutex
	fn      func(events.Event)
	release chan struct{}
	sess    *provider.Session
	err     error
	queries atomic.Int32
	unsubs  atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{release: make(chan struct{})}
}

func (f *fakeSource) GetSession(ctx context.Context, _ provider.Credentials) (*provider.Session, error) {
	f.queries.Add(1)
	select {
	case <-f.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return f.sess, f.err
}

func (f *fakeSource) OnAuthStateChange(_ string, fn func(events.Event)) func() {
	f.mu.Lock()
	f.fn = fn
	f.mu.Unlock()
	return func() { f.unsubs.Add(1) }
}

func (f *fakeSource) notify(ev events.Event) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	fn(ev)
}

func settle(t *testing.T, c *Context) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := c.Settled(ctx)
	if err != nil {
		t.Fatalf("Settled: %v", err)
	}
	return st
}

func TestNew_StartsLoading(t *testing.T) {
	c := New(quietLogger())
	st := c.State()
	if !st.Loading || st.User != nil || st.Authenticated() {
		t.Fatalf("unexpected initial state: %+v", st)
	}
}

func TestMount_InitialQueryResolves(t *testing.T) {
	cases := []struct {
		name     string
		sess     *provider.Session
		err      error
		wantUser bool
	}{
		{"session", &provider.Session{User: provider.User{ID: "u1", Email: "a@example.com"}}, nil, true},
		{"no session", nil, provider.ErrNoSession, false},
		{"store failure", nil, errors.New("db down"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := newFakeSource()
			src.sess, src.err = tc.sess, tc.err
			c := New(quietLogger())
			defer c.Unmount()

			if err := c.Mount(context.Background(), src, "dev", provider.Credentials{}); err != nil {
				t.Fatalf("Mount: %v", err)
			}
			if !c.State().Loading {
				t.Fatalf("must stay loading until the query returns")
			}
			close(src.release)

			st := settle(t, c)
			if st.Loading {
				t.Fatalf("loading after settle")
			}
			if (st.User != nil) != tc.wantUser {
				t.Fatalf("user presence: got %+v want %v", st.User, tc.wantUser)
			}
		})
	}
}

func TestMount_FailureKeepsNotifiedUser(t *testing.T) {
	src := newFakeSource()
	src.err = errors.New("db down")
	c := New(quietLogger())
	defer c.Unmount()

	if err := c.Mount(context.Background(), src, "dev", provider.Credentials{}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	src.notify(events.Event{Type: events.SignedIn, DeviceID: "dev", User: &provider.User{ID: "u1"}})
	close(src.release)

	// Wait for the query to land.
	deadline := time.Now().Add(2 * time.Second)
	for c.State().Version < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("initial query never completed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	st := c.State()
	if st.Loading || st.User == nil || st.User.ID != "u1" {
		t.Fatalf("failed query must leave the user unchanged: %+v", st)
	}
}

func TestMount_LastWriteWins(t *testing.T) {
	src := newFakeSource()
	src.err = provider.ErrNoSession
	c := New(quietLogger())
	defer c.Unmount()

	if err := c.Mount(context.Background(), src, "dev", provider.Credentials{}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	src.notify(events.Event{Type: events.SignedIn, User: &provider.User{ID: "u1"}})
	if st := c.State(); st.User == nil || st.Loading {
		t.Fatalf("notification must settle the cell: %+v", st)
	}

	close(src.release)
	deadline := time.Now().Add(2 * time.Second)
	for c.State().Version < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("initial query never completed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st := c.State(); st.User != nil {
		t.Fatalf("later query result must win, got %+v", st)
	}
}

func TestNotifications(t *testing.T) {
	src := newFakeSource()
	close(src.release)
	src.err = provider.ErrNoSession
	c := New(quietLogger())
	defer c.Unmount()

	if err := c.Mount(context.Background(), src, "dev", provider.Credentials{}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	settle(t, c)

	sequence := []struct {
		ev   events.Event
		want string
	}{
		{events.Event{Type: events.SignedIn, User: &provider.User{ID: "u1"}}, "u1"},
		{events.Event{Type: events.TokenRefreshed, User: &provider.User{ID: "u1"}}, "u1"},
		{events.Event{Type: events.UserUpdated, User: &provider.User{ID: "u1", Email: "new@example.com"}}, "u1"},
		{events.Event{Type: events.SignedOut}, ""},
	}
	for i, step := range sequence {
		src.notify(step.ev)
		st := c.State()
		got := ""
		if st.User != nil {
			got = st.User.ID
		}
		if got != step.want || st.Loading {
			t.Fatalf("step %d (%s): got %+v", i, step.ev.Type, st)
		}
	}
}

func TestWatch_CoalescesAndCloses(t *testing.T) {
	src := newFakeSource()
	c := New(quietLogger())

	ch, cancel := c.Watch()
	defer cancel()
	if first := <-ch; !first.Loading {
		t.Fatalf("first watched state must be loading")
	}

	if err := c.Mount(context.Background(), src, "dev", provider.Credentials{}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	for i := 0; i < 5; i++ {
		src.notify(events.Event{Type: events.SignedIn, User: &provider.User{ID: "u1"}})
	}
	src.notify(events.Event{Type: events.SignedOut})

	latest := <-ch
	if latest.User != nil || latest.Version != 6 {
		t.Fatalf("expected the newest state only, got %+v", latest)
	}

	c.Unmount()
	if _, ok := <-ch; ok {
		t.Fatalf("watch channel must close on unmount")
	}
	cancel()
}

func TestUnmount_IgnoresLaterWritesAndIsIdempotent(t *testing.T) {
	src := newFakeSource()
	c := New(quietLogger())
	if err := c.Mount(context.Background(), src, "dev", provider.Credentials{}); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	c.Unmount()
	c.Unmount()
	if src.unsubs.Load() != 1 {
		t.Fatalf("expected exactly one unsubscribe, got %d", src.unsubs.Load())
	}

	src.notify(events.Event{Type: events.SignedIn, User: &provider.User{ID: "u1"}})
	if st := c.State(); st.User != nil || st.Version != 0 {
		t.Fatalf("writes after unmount must be ignored: %+v", st)
	}

	if _, err := c.Settled(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("Settled after unmount: got %v", err)
	}
	if err := c.Mount(context.Background(), src, "dev", provider.Credentials{}); !errors.Is(err, ErrAlreadyMounted) {
		t.Fatalf("remount: got %v", err)
	}
}

// A password sign-in elsewhere on the device reaches a mounted context through the
// notification path; the context does not query the store again.
func TestSignInReachesMountedContextWithoutRequery(t *testing.T) {
	h := providertest.New(t, nil)
	h.SeedUser(t, "ada@example.com", "abcdef")

	src := &countingSource{Source: h.Provider}
	c := New(quietLogger())
	defer c.Unmount()

	if err := c.Mount(context.Background(), src, "dev", provider.Credentials{}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if st := settle(t, c); st.User != nil {
		t.Fatalf("expected absent user, got %+v", st)
	}

	ch, cancel := c.Watch()
	defer cancel()
	<-ch

	if _, err := h.Provider.SignInWithPassword(context.Background(), "ada@example.com", "abcdef", provider.Device{ID: "dev"}); err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}

	select {
	case st := <-ch:
		if st.User == nil || st.User.Email != "ada@example.com" {
			t.Fatalf("expected signed-in user, got %+v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("sign-in never reached the context")
	}
	if n := src.queries.Load(); n != 1 {
		t.Fatalf("expected a single session query, got %d", n)
	}
}

type countingSource struct {
	Source
	queries atomic.Int32
}

func (s *countingSource) GetSession(ctx context.Context, creds provider.Credentials) (*provider.Session, error) {
	s.queries.Add(1)
	return s.Source.GetSession(ctx, creds)
}
