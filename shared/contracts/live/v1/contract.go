// Package v1 defines the HealthyDB live channel protocol v1.
//
// The live channel carries Auth Context state from the server to open pages. It is shared
// between the server and the smoke tool so the wire format has one definition.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Subprotocol is the websocket subprotocol name.
const Subprotocol = "healthydb.live.v1"

// Version is the protocol version embedded into every envelope.
const Version = 1

// Type constants (wire-stable).
const (
	// TypeAuthState pushes the Auth Context state and the Client gate directive (server -> client).
	TypeAuthState = "auth.state"
	// TypePing is a keepalive (client -> server).
	TypePing = "ping"
	// TypePong answers a ping, echoing its id (server -> client).
	TypePong = "pong"
	// TypeError reports a rejected frame (server -> client).
	TypeError = "error"
)

// AllowedTypes lists every type the protocol knows.
var AllowedTypes = map[string]struct{}{
	TypeAuthState: {},
	TypePing:      {},
	TypePong:      {},
	TypeError:     {},
}

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the fields every envelope must carry.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%d want=%d", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := AllowedTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if e.ID == "" {
		return errors.New("missing id")
	}
	if e.TS.IsZero() {
		return errors.New("missing ts")
	}
	return nil
}

// User is the signed-in identity.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Directive tells the page what to do: "wait", "render" or "redirect" (with Location).
type Directive struct {
	Action   string `json:"action"`
	Location string `json:"location,omitempty"`
}

// AuthStatePayload is the payload of TypeAuthState. User is null when signed out or loading.
type AuthStatePayload struct {
	User      *User     `json:"user"`
	Loading   bool      `json:"loading"`
	Version   uint64    `json:"version"`
	Directive Directive `json:"directive"`
}

// ErrorPayload is the payload of TypeError.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
