// Package main is a CI-friendly smoke test for the HealthyDB live channel.
//
// It validates:
//   - handshake + subprotocol selection
//   - a protected page without a session settles to a redirect to "/"
//   - the entry page without a session settles to render
//   - ping -> pong echoing the id
//   - with -access, a protected page settles to render for the signed-in user
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "healthydb/shared/contracts/live/v1"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const maxReadBytes = 1 << 16

func main() {
	var (
		base    = flag.String("url", "ws://127.0.0.1:8080/auth/live", "live channel URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		access  = flag.String("access", "", "hdb_access cookie value of a signed-in session (optional)")
		device  = flag.String("device", "", "hdb_device cookie value (default: random uuid)")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*base); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	dev := strings.TrimSpace(*device)
	if dev == "" {
		dev = uuid.NewString()
	}

	root := context.Background()

	guest := mustConnect(root, *base, "/dashboard", *origin, dev, "", *timeout)
	st := mustSettled(root, guest, *timeout)
	if st.User != nil || st.Directive.Action != "redirect" || st.Directive.Location != "/" {
		fatalf("guest on /dashboard: want redirect to /, got %+v", st)
	}
	closeWS(guest)
	logf(*verbose, "guest /dashboard -> redirect /")

	entry := mustConnect(root, *base, "/", *origin, dev, "", *timeout)
	defer closeWS(entry)
	st = mustSettled(root, entry, *timeout)
	if st.Directive.Action != "render" {
		fatalf("guest on /: want render, got %+v", st)
	}
	logf(*verbose, "guest / -> render")

	pingID := "smoke-" + uuid.NewString()
	mustWrite(root, entry, v1.Envelope{V: v1.Version, Type: v1.TypePing, ID: pingID, TS: time.Now().UTC()}, *timeout)
	pong := mustReadUntilType(root, entry, v1.TypePong, *timeout)
	if pong.ID != pingID {
		fatalf("pong id mismatch: got %q want %q", pong.ID, pingID)
	}
	logf(*verbose, "ping -> pong %s", pong.ID)

	if strings.TrimSpace(*access) != "" {
		member := mustConnect(root, *base, "/dashboard", *origin, dev, *access, *timeout)
		defer closeWS(member)
		st = mustSettled(root, member, *timeout)
		if st.User == nil || st.Directive.Action != "render" {
			fatalf("member on /dashboard: want render with user, got %+v", st)
		}
		logf(*verbose, "member /dashboard -> render as %s", st.User.Email)
	}

	fmt.Println("OK: live smoke passed")
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, base, page, origin, device, access string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	u, _ := url.Parse(base)
	q := u.Query()
	q.Set("path", page)
	u.RawQuery = q.Encode()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	cookie := "hdb_device=" + device
	if access != "" {
		cookie += "; hdb_access=" + access
	}
	h.Set("Cookie", cookie)

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", page, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch: got %q want %q", got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustSettled(parent context.Context, conn *websocket.Conn, stepTimeout time.Duration) v1.AuthStatePayload {
	deadline := time.Now().Add(stepTimeout)
	for time.Now().Before(deadline) {
		env := mustReadUntilType(parent, conn, v1.TypeAuthState, time.Until(deadline))
		var p v1.AuthStatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal auth.state: %v", err)
		}
		if !p.Loading {
			return p
		}
	}
	fatalf("auth.state did not settle within %s", stepTimeout)
	return v1.AuthStatePayload{}
}

func mustReadUntilType(parent context.Context, conn *websocket.Conn, want string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		_, b, err := conn.Read(ctx)
		if err != nil {
			fatalf("read (waiting for %s): %v", want, err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			fatalf("unmarshal envelope: %v", err)
		}
		if err := env.Validate(); err != nil {
			fatalf("invalid envelope from server: %v", err)
		}
		if env.Type == v1.TypeError {
			fatalf("server error while waiting for %s: %s", want, env.Payload)
		}
		if env.Type == want {
			return env
		}
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s: %v", env.Type, err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func logf(verbose bool, format string, args ...any) {
	if verbose {
		fmt.Printf(format+"\n", args...)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
