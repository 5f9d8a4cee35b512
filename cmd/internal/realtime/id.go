package realtime

import (
	"time"

	"healthydb/cmd/identity/ids"

	"github.com/google/uuid"
)

// NewConnID returns a ULID used as live connection id, sortable by connect time in logs.
func NewConnID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a random envelope id.
func NewEnvelopeID() string {
	return uuid.NewString()
}
