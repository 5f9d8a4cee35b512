package password

import (
	"strings"
	"testing"
)

func TestHashAndVerify_OK(t *testing.T) {
	cfg := DefaultConfig()

	h, err := cfg.Hash("this is a strong password 123!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := cfg.Verify(h, "this is a strong password 123!")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatalf("expected match")
	}
}

func TestVerify_WrongPassword(t *testing.T) {
	cfg := DefaultConfig()

	h, err := cfg.Hash("this is a strong password 123!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := cfg.Verify(h, "wrong password")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch")
	}
}

func TestValidate_MinMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.MinLength = 12
	cfg.Policy.MaxLength = 16

	if err := cfg.Validate("short"); err != ErrPasswordTooShort {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}

	if err := cfg.Validate("this password is definitely too long"); err != ErrPasswordTooLong {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}

	if err := cfg.Validate("goodpassw0rd!"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	cfg := DefaultConfig()

	ok, err := cfg.Verify("not-a-hash", "whatever")
	if err != ErrInvalidHash {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
	if ok {
		t.Fatalf("expected false")
	}
}

func TestPolicy_RejectVeryWeak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.RejectVeryWeak = true
	cfg.Policy.MinLength = 8

	cases := []struct {
		pw   string
		want error
	}{
		{pw: "password", want: ErrWeakPassword},
		{pw: "HealthyDB", want: ErrWeakPassword},
		{pw: "11111111", want: ErrWeakPassword},
		{pw: "zzzzzzzzzz", want: ErrWeakPassword},
		{pw: "12345678901", want: ErrWeakPassword},
		{pw: "123456789012", want: nil},
		{pw: "a-very-ok-pass", want: nil},
	}
	for _, tc := range cases {
		if err := cfg.Validate(tc.pw); err != tc.want {
			t.Fatalf("Validate(%q) = %v, want %v", tc.pw, err, tc.want)
		}
	}

	cfg.Policy.RejectVeryWeak = false
	if err := cfg.Validate("password"); err != nil {
		t.Fatalf("weak check disabled: %v", err)
	}
}

func TestDefaultPolicy_SignUpMinimum(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate("abc"); err != ErrPasswordTooShort {
		t.Fatalf("expected ErrPasswordTooShort for 3 chars, got %v", err)
	}
	if err := cfg.Validate("abcdef"); err != nil {
		t.Fatalf("expected 6 chars to pass, got %v", err)
	}
}

func TestNeedsRehash(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1

	h, err := cfg.Hash("abcdef")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if cfg.NeedsRehash(h) {
		t.Fatalf("hash produced with current params must not need rehash")
	}

	upgraded := cfg
	upgraded.Params.Iterations = 2
	if !upgraded.NeedsRehash(h) {
		t.Fatalf("expected rehash after cost upgrade")
	}
	if !cfg.NeedsRehash("not-a-hash") {
		t.Fatalf("malformed hash must need rehash")
	}
}

func TestVerify_RejectsMalformedAndCostlyHashes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1

	h, err := cfg.Hash("abcdef")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	fields := strings.Split(h, "$")
	salt, key := fields[4], fields[5]

	cases := []struct {
		name string
		hash string
	}{
		{"wrong algorithm", "$argon2i$v=19$m=8192,t=1,p=1$" + salt + "$" + key},
		{"wrong version", "$argon2id$v=16$m=8192,t=1,p=1$" + salt + "$" + key},
		{"unknown param", "$argon2id$v=19$m=8192,t=1,x=1$" + salt + "$" + key},
		{"zero iterations", "$argon2id$v=19$m=8192,t=0,p=1$" + salt + "$" + key},
		{"bad salt encoding", "$argon2id$v=19$m=8192,t=1,p=1$!!$" + key},
		{"memory far above config", "$argon2id$v=19$m=65536,t=1,p=1$" + salt + "$" + key},
		{"short key", "$argon2id$v=19$m=8192,t=1,p=1$" + salt + "$AAAA"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := cfg.Verify(tc.hash, "abcdef")
			if err != ErrInvalidHash || ok {
				t.Fatalf("expected ErrInvalidHash, got ok=%v err=%v", ok, err)
			}
		})
	}

	if !strings.HasPrefix(h, "$argon2id$v=19$m=8192,t=1,p=") {
		t.Fatalf("unexpected encoding: %s", h)
	}
}
