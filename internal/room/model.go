package room

// Role of the local participant within the session.
type Role string

const (
	RoleMentor  Role = "mentor"
	RoleLearner Role = "learner"
)

// State of the room lifecycle.
type State string

const (
	StateInitializing State = "initializing"
	StateActive       State = "active"
	StateEnding       State = "ending"
	StateClosed       State = "closed"
)

// Session identifies one learning session and the local participant in it.
type Session struct {
	ID string

	// Token is the room authorization credential, passed through to the
	// relay and the session-lifecycle endpoints.
	Token string

	SelfID   string
	SelfName string
	Role     Role
}

// Participant is the room's view of one remote session member.
// The collection is keyed by user id and mutated only by the coordinator.
type Participant struct {
	UserID   string
	Username string
	IsMentor bool

	// Last-known state from toggle and ready notifications.
	AudioEnabled bool
	VideoEnabled bool
	Ready        bool
}

// ChatMessage is one entry of the session-scoped, append-only chat log.
// The log lives and dies with the session; nothing is persisted.
type ChatMessage struct {
	UserID    string
	Username  string
	Text      string
	Timestamp string
}
