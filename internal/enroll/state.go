package enroll

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/irk-enroll/internal/irk"
)

var (
	// ErrSessionActive is returned when starting or resetting while a
	// session is still in progress.
	ErrSessionActive = errors.New("enroll: session already active")
	// ErrPairingRejected records that the central declined or failed
	// pairing.
	ErrPairingRejected = errors.New("enroll: pairing rejected")
	// ErrInvalidTransition indicates a bug in the engine.
	ErrInvalidTransition = errors.New("enroll: invalid state transition")
)

// State is the progress of an enrollment session.
type State int

const (
	Idle State = iota
	Advertising
	Pairing
	Captured
	Published
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Advertising:
		return "advertising"
	case Pairing:
		return "pairing"
	case Captured:
		return "captured"
	case Published:
		return "published"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Active reports whether a session in this state blocks a new one.
func (s State) Active() bool {
	return s == Advertising || s == Pairing || s == Captured
}

// Terminal reports whether the session is over.
func (s State) Terminal() bool {
	return s == Published || s == Failed || s == Cancelled
}

var transitions = map[State][]State{
	Idle:        {Advertising},
	Advertising: {Pairing, Failed, Cancelled},
	Pairing:     {Captured, Advertising, Failed, Cancelled},
	Captured:    {Published, Failed, Cancelled},
}

// CanTransition reports whether from -> to is allowed. Terminal states only
// lead back to Idle by starting a fresh session.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Session is one enrollment attempt.
type Session struct {
	ID        string
	State     State
	StartedAt time.Time
	EndedAt   time.Time
	Peer      irk.Address   // zero until a central connects
	Identity  *irk.Identity // set once captured
	Err       error         // failure cause when State is Failed
}

func newSession(now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		State:     Idle,
		StartedAt: now,
	}
}

func (s *Session) transition(to State) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
	}
	s.State = to
	return nil
}

// snapshot returns a copy that does not share the Identity pointer.
func (s *Session) snapshot() Session {
	out := *s
	if s.Identity != nil {
		id := *s.Identity
		out.Identity = &id
	}
	return out
}
