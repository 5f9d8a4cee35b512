package forms

import (
	"sync"
	"testing"
)

func TestNewCredentials(t *testing.T) {
	cases := []struct {
		name      string
		email     string
		password  string
		wantOK    bool
		wantEmail string
		wantPass  string
	}{
		{"valid", " ada@example.com ", "abcdef", true, "", ""},
		{"not an email", "not-an-email", "abcdef", false, MsgInvalidEmail, ""},
		{"empty email", "", "abcdef", false, MsgInvalidEmail, ""},
		{"short password", "ada@example.com", "abc", false, "", MsgPasswordTooShort},
		{"empty password", "ada@example.com", "", false, "", MsgPasswordTooShort},
		{"both invalid", "nope", "abc", false, MsgInvalidEmail, MsgPasswordTooShort},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := NewCredentials(tc.email, tc.password)
			if res.OK() != tc.wantOK {
				t.Fatalf("OK() = %v, errors %v", res.OK(), res.FieldErrors)
			}
			if got := res.FieldErrors["email"]; got != tc.wantEmail {
				t.Fatalf("email error: got %q want %q", got, tc.wantEmail)
			}
			if got := res.FieldErrors["password"]; got != tc.wantPass {
				t.Fatalf("password error: got %q want %q", got, tc.wantPass)
			}
		})
	}

	if res := NewCredentials(" ada@example.com ", "abcdef"); res.Value.Email != "ada@example.com" {
		t.Fatalf("email must be trimmed, got %q", res.Value.Email)
	}
}

func TestNewMagicLinkRequest(t *testing.T) {
	if res := NewMagicLinkRequest("ada@example.com"); !res.OK() || res.Value.Email != "ada@example.com" {
		t.Fatalf("valid request rejected: %+v", res)
	}
	res := NewMagicLinkRequest("not-an-email")
	if res.OK() || res.FieldErrors["email"] != MsgInvalidEmail {
		t.Fatalf("invalid request accepted: %+v", res)
	}
	if _, ok := res.FieldErrors["password"]; ok {
		t.Fatalf("magic link has no password field")
	}
}

func TestGuard(t *testing.T) {
	g := NewGuard()

	release, ok := g.Acquire("dev", SignIn)
	if !ok {
		t.Fatalf("first acquire must succeed")
	}
	if _, ok := g.Acquire("dev", SignIn); ok {
		t.Fatalf("duplicate acquire must fail")
	}
	if _, ok := g.Acquire("dev", SignUp); !ok {
		t.Fatalf("other form must not be blocked")
	}
	if _, ok := g.Acquire("other-dev", SignIn); !ok {
		t.Fatalf("other device must not be blocked")
	}

	release()
	release()
	if g.InFlight("dev", SignIn) {
		t.Fatalf("release must clear the key")
	}
	if _, ok := g.Acquire("dev", SignIn); !ok {
		t.Fatalf("acquire after release must succeed")
	}
}

func TestGuard_ConcurrentSingleHolder(t *testing.T) {
	g := NewGuard()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := g.Acquire("dev", MagicLink); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected one holder, got %d", wins)
	}
}

func TestBusyLabel(t *testing.T) {
	if BusyLabel(SignIn) != "Signing in..." || BusyLabel(SignUp) != "Creating account..." || BusyLabel(MagicLink) != "Sending link..." {
		t.Fatalf("unexpected busy labels")
	}
}
