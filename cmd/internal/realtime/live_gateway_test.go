package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"healthydb/cmd/internal/auth/cookies"
	"healthydb/cmd/internal/auth/gate"
	"healthydb/cmd/internal/auth/provider"
	"healthydb/cmd/internal/auth/provider/providertest"
	"healthydb/cmd/internal/metrics"
	v1 "healthydb/shared/contracts/live/v1"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const testDevice = "5b7f3d8e-2c41-4a9b-8f0e-6d2a1c3b4e5f"

type liveFixture struct {
	h       *providertest.Harness
	gw      *Gateway
	ts      *httptest.Server
	metrics *metrics.Metrics
}

func newLiveFixture(t *testing.T, mutate func(*Config)) *liveFixture {
	t.Helper()
	h := providertest.New(t, nil)
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	m := metrics.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := NewGateway(log, cfg, NewHub(log), h.Provider, gate.NewClient(gate.DefaultTable(), m), cookies.NewJar(cookies.DefaultConfig()), m)

	mux := http.NewServeMux()
	mux.Handle("GET /auth/live", gw)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return &liveFixture{h: h, gw: gw, ts: ts, metrics: m}
}

func (f *liveFixture) dial(t *testing.T, path, origin string, s *provider.Session) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u, err := url.Parse(f.ts.URL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/auth/live"
	u.RawQuery = url.Values{"path": {path}}.Encode()

	h := http.Header{}
	if origin != "" {
		h.Set("Origin", origin)
	}
	cookie := cookies.DeviceName + "=" + testDevice
	if s != nil {
		cookie += "; " + cookies.AccessName + "=" + s.AccessToken
	}
	h.Set("Cookie", cookie)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
}

func (f *liveFixture) mustDial(t *testing.T, path string, s *provider.Session) *websocket.Conn {
	t.Helper()
	conn, resp, err := f.dial(t, path, f.ts.URL, s)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEnv(t *testing.T, conn *websocket.Conn) v1.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, b, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("conn.Read: %v", err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

// readSettled reads auth.state envelopes until one is no longer loading.
func readSettled(t *testing.T, conn *websocket.Conn) v1.AuthStatePayload {
	t.Helper()
	for i := 0; i < 10; i++ {
		env := readEnv(t, conn)
		if env.Type != v1.TypeAuthState {
			continue
		}
		var p v1.AuthStatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if p.Loading {
			if p.User != nil || p.Directive.Action == "redirect" {
				t.Fatalf("loading state must not carry a decision: %+v", p)
			}
			continue
		}
		return p
	}
	t.Fatalf("no settled auth.state received")
	return v1.AuthStatePayload{}
}

func writeEnv(t *testing.T, conn *websocket.Conn, env v1.Envelope) {
	t.Helper()
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}
}

func TestLive_ProtectedPageWithoutSessionRedirects(t *testing.T) {
	f := newLiveFixture(t, nil)
	conn := f.mustDial(t, "/dashboard", nil)

	p := readSettled(t, conn)
	if p.User != nil || p.Directive.Action != "redirect" || p.Directive.Location != "/" {
		t.Fatalf("unexpected state %+v", p)
	}
}

func TestLive_ProtectedPageWithSessionRenders(t *testing.T) {
	f := newLiveFixture(t, nil)
	s := f.h.SignIn(t, "ada@example.com", "abcdef", testDevice)
	conn := f.mustDial(t, "/dashboard/settings", s)

	p := readSettled(t, conn)
	if p.User == nil || p.User.Email != "ada@example.com" || p.Directive.Action != "render" {
		t.Fatalf("unexpected state %+v", p)
	}
}

func TestLive_PushesSignInAndSignOut(t *testing.T) {
	f := newLiveFixture(t, nil)
	entry := f.mustDial(t, "/", nil)

	if p := readSettled(t, entry); p.User != nil || p.Directive.Action != "render" {
		t.Fatalf("entry page without session: %+v", p)
	}

	s := f.h.SignIn(t, "ada@example.com", "abcdef", testDevice)
	p := readSettled(t, entry)
	if p.User == nil || p.User.ID != s.User.ID || p.Directive.Action != "redirect" || p.Directive.Location != "/dashboard" {
		t.Fatalf("sign-in push: %+v", p)
	}

	dash := f.mustDial(t, "/dashboard", s)
	if p := readSettled(t, dash); p.Directive.Action != "render" {
		t.Fatalf("dashboard before sign-out: %+v", p)
	}

	if err := f.h.Provider.SignOut(context.Background(), provider.Credentials{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken}, provider.Device{ID: testDevice}); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	p = readSettled(t, dash)
	if p.User != nil || p.Directive.Action != "redirect" || p.Directive.Location != "/" {
		t.Fatalf("sign-out push: %+v", p)
	}
}

func TestLive_PingPong(t *testing.T) {
	f := newLiveFixture(t, nil)
	conn := f.mustDial(t, "/", nil)
	readSettled(t, conn)

	writeEnv(t, conn, v1.Envelope{V: v1.Version, Type: v1.TypePing, ID: "c1", TS: time.Now().UTC()})
	for i := 0; i < 5; i++ {
		env := readEnv(t, conn)
		if env.Type == v1.TypePong {
			if env.ID != "c1" {
				t.Fatalf("pong must echo the ping id, got %q", env.ID)
			}
			return
		}
	}
	t.Fatalf("no pong received")
}

func TestLive_RejectsUnsupportedAndBadFrames(t *testing.T) {
	f := newLiveFixture(t, nil)
	conn := f.mustDial(t, "/", nil)
	readSettled(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	env := readEnv(t, conn)
	var ep v1.ErrorPayload
	_ = json.Unmarshal(env.Payload, &ep)
	if env.Type != v1.TypeError || ep.Code != "bad_json" {
		t.Fatalf("expected bad_json error, got %s %+v", env.Type, ep)
	}

	writeEnv(t, conn, v1.Envelope{V: v1.Version, Type: v1.TypeAuthState, ID: "c2", TS: time.Now().UTC()})
	env = readEnv(t, conn)
	_ = json.Unmarshal(env.Payload, &ep)
	if env.Type != v1.TypeError || ep.Code != "unsupported" {
		t.Fatalf("expected unsupported error, got %s %+v", env.Type, ep)
	}
}

func TestLive_RateLimited(t *testing.T) {
	f := newLiveFixture(t, func(c *Config) {
		c.RateEvents = 2
		c.RateWindow = time.Minute
	})
	conn := f.mustDial(t, "/", nil)
	readSettled(t, conn)

	for i := 0; i < 3; i++ {
		writeEnv(t, conn, v1.Envelope{V: v1.Version, Type: v1.TypePing, ID: "p", TS: time.Now().UTC()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, b, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
				t.Fatalf("expected policy violation close, got %v", err)
			}
			return
		}
		var env v1.Envelope
		_ = json.Unmarshal(b, &env)
		if env.Type == v1.TypeError && !strings.Contains(string(env.Payload), "rate_limited") {
			t.Fatalf("unexpected error frame %s", env.Payload)
		}
	}
}

func TestLive_HandshakeRejections(t *testing.T) {
	f := newLiveFixture(t, nil)

	cases := []struct {
		name   string
		path   string
		origin string
		status int
	}{
		{"missing origin", "/", "", http.StatusForbidden},
		{"foreign origin", "/", "http://evil.example", http.StatusForbidden},
		{"absolute url path", "https://evil.example/", f.ts.URL, http.StatusBadRequest},
		{"protocol relative path", "//evil.example", f.ts.URL, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, resp, err := f.dial(t, tc.path, tc.origin, nil)
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
			if err == nil {
				t.Fatalf("expected handshake failure")
			}
			if resp == nil || resp.StatusCode != tc.status {
				status := 0
				if resp != nil {
					status = resp.StatusCode
				}
				t.Fatalf("expected %d, got %d (%v)", tc.status, status, err)
			}
		})
	}
}

func TestLive_HubTracksAndClosesConnections(t *testing.T) {
	f := newLiveFixture(t, nil)
	conn := f.mustDial(t, "/", nil)
	readSettled(t, conn)

	if n := f.gw.Hub().ForDevice(testDevice); n != 1 {
		t.Fatalf("ForDevice = %d", n)
	}
	if got := testutil.ToFloat64(f.metrics.LiveConnections()); got != 1 {
		t.Fatalf("live connections gauge = %v", got)
	}

	f.gw.Hub().CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.gw.Hub().Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connection not removed from hub")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPagePath(t *testing.T) {
	cases := map[string]string{
		"":                    "/",
		"/dashboard":          "/dashboard",
		"/dashboard/activity": "/dashboard/activity",
		"/dashboard?x=1":      "/dashboard",
	}
	for in, want := range cases {
		got, err := pagePath(in)
		if err != nil || got != want {
			t.Fatalf("pagePath(%q) = %q, %v", in, got, err)
		}
	}
	for _, bad := range []string{"dashboard", "//evil.example", "https://evil.example/", "/" + strings.Repeat("a", maxPathBytes)} {
		if _, err := pagePath(bad); err == nil {
			t.Fatalf("pagePath(%q) must fail", bad)
		}
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("HEALTHYDB_LIVE_ALLOWED_ORIGINS", "https://app.example.com, http://localhost:8080")
	t.Setenv("HEALTHYDB_LIVE_SEND_QUEUE", "1")
	t.Setenv("HEALTHYDB_LIVE_RATE_EVENTS", "5")

	cfg := LoadConfigFromEnv()
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://app.example.com" {
		t.Fatalf("origins = %v", cfg.AllowedOrigins)
	}
	if cfg.SendQueueSize != minSendQueueSize {
		t.Fatalf("send queue must be clamped, got %d", cfg.SendQueueSize)
	}
	if cfg.RateEvents != 5 || !cfg.OriginRequired {
		t.Fatalf("unexpected config %+v", cfg)
	}

	got := deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins)
	if len(got) != 2 || got[0] != "app.example.com" || got[1] != "localhost" {
		t.Fatalf("origin patterns = %v", got)
	}
}
