package auth

// State is the authenticator's position in the session lifecycle.
type State int32

const (
	StateUnauthenticated State = iota
	StateInitializing
	StateAwaitingLicense
	StateAuthenticated
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateInitializing:
		return "initializing"
	case StateAwaitingLicense:
		return "awaiting_license"
	case StateAuthenticated:
		return "authenticated"
	case StateInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
