package session

import "github.com/sangram0022/user-mn-go/apiclient"

// State is the authentication lifecycle state.
type State int

const (
	// Unauthenticated means no valid credential record exists.
	Unauthenticated State = iota
	// Authenticating means a login or startup check is in flight.
	Authenticating
	// Authenticated means a valid credential record and user profile exist.
	Authenticated
	// Refreshing means a silent token refresh is in flight; the previous
	// profile remains visible.
	Refreshing
	// Failed means the last operation ended in an error; the controller
	// transitions on to Unauthenticated immediately after recording it.
	Failed
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Refreshing:
		return "refreshing"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Snapshot is the published session state the rest of the application
// treats as ground truth for "who is logged in".
type Snapshot struct {
	State State
	User  *apiclient.UserProfile
	// IsAuthenticated is always the logical negation of "no valid
	// credential record": it is derived from User, which only ever holds
	// a value while a record exists.
	IsAuthenticated bool
	// IsLoading is true while a login, startup check, or refresh is in
	// flight.
	IsLoading bool
	// LastError is the message of the most recent failed operation,
	// empty after a successful one.
	LastError string
}
