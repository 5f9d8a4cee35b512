package v1

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	ok := Envelope{V: Version, Type: TypePing, ID: "c1", TS: time.Now()}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid envelope rejected: %v", err)
	}

	cases := map[string]Envelope{
		"version": {V: 2, Type: TypePing, ID: "c1", TS: time.Now()},
		"type":    {V: Version, ID: "c1", TS: time.Now()},
		"unknown": {V: Version, Type: "message.send", ID: "c1", TS: time.Now()},
		"id":      {V: Version, Type: TypePing, TS: time.Now()},
		"ts":      {V: Version, Type: TypePing, ID: "c1"},
	}
	for name, env := range cases {
		if err := env.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestAuthStatePayload_NullUser(t *testing.T) {
	b, err := json.Marshal(AuthStatePayload{Directive: Directive{Action: "redirect", Location: "/"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"user":null`) {
		t.Fatalf("signed-out state must carry user:null, got %s", b)
	}
}
