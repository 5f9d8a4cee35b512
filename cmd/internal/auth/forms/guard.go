package forms

import "sync"

// Form names used as guard keys and tab identifiers.
const (
	SignIn    = "signin"
	SignUp    = "signup"
	MagicLink = "magic-link"
)

// BusyLabel is the submit caption shown while form is in flight.
func BusyLabel(form string) string {
	switch form {
	case SignIn:
		return "Signing in..."
	case SignUp:
		return "Creating account..."
	case MagicLink:
		return "Sending link..."
	default:
		return ""
	}
}

// Guard tracks in-flight submissions per device and form. A second submission with the same
// key while the first is running is rejected.
type Guard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewGuard returns an empty Guard.
func NewGuard() *Guard {
	return &Guard{inFlight: make(map[string]struct{})}
}

// Acquire marks deviceID+form as in flight. ok is false when it already was; otherwise
// release must be called when the submission finishes.
func (g *Guard) Acquire(deviceID, form string) (release func(), ok bool) {
	key := deviceID + "\x00" + form

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[key]; busy {
		return func() {}, false
	}
	g.inFlight[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inFlight, key)
			g.mu.Unlock()
		})
	}, true
}

// InFlight reports whether deviceID+form is currently held.
func (g *Guard) InFlight(deviceID, form string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.inFlight[deviceID+"\x00"+form]
	return busy
}
