// Package events carries session-change notifications.
//
// Events are scoped to a browser device id (the hdb_device cookie). Every Auth Context mounted
// for that device, on any page or live connection, subscribes to the device topic.
package events

import (
	"context"
	"time"
)

// Type names a session change.
type Type string

const (
	SignedIn       Type = "SIGNED_IN"
	SignedOut      Type = "SIGNED_OUT"
	TokenRefreshed Type = "TOKEN_REFRESHED"
	UserUpdated    Type = "USER_UPDATED"
)

// User is the identity attached to an event.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Event is one session change. User is nil for SignedOut.
type Event struct {
	Type     Type      `json:"type"`
	DeviceID string    `json:"device_id"`
	User     *User     `json:"user,omitempty"`
	At       time.Time `json:"at"`
}

// Broker publishes events and hands out per-device subscriptions.
type Broker interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(deviceID string) *Subscription
}
