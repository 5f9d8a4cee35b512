package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit). Clients only send keepalives.
	maxFrameBytes = 4 << 10 // 4 KiB

	// Max length of a client-supplied page path.
	maxPathBytes = 512
)

const (
	// Heartbeat defaults (can be overridden by env, see LoadConfigFromEnv).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (frames per window).
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
