package session

import "collabtext/internal/room"

// KillPhase tracks teardown. Initiating leads to Confirmed or TimedOut on
// the side that asked for the kill; Finalized is the receiving side.
type KillPhase int

const (
	KillIdle KillPhase = iota
	KillInitiating
	KillConfirmed
	KillTimedOut
	KillFinalized
)

func (p KillPhase) String() string {
	switch p {
	case KillIdle:
		return "idle"
	case KillInitiating:
		return "initiating"
	case KillConfirmed:
		return "confirmed"
	case KillTimedOut:
		return "timed_out"
	case KillFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Terminal reports whether the session is over.
func (p KillPhase) Terminal() bool {
	return p == KillConfirmed || p == KillTimedOut || p == KillFinalized
}

// ModeSource records where the current mode came from.
type ModeSource int

const (
	ModeDefault ModeSource = iota
	ModeLocal
	ModeRemote
)

func (s ModeSource) String() string {
	switch s {
	case ModeDefault:
		return "default"
	case ModeLocal:
		return "local"
	case ModeRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// State is a snapshot of one participant's view of the session.
type State struct {
	Room          string
	Role          room.Role
	Mode          string
	ModeSource    ModeSource
	InitiatedKill bool
	ConfirmedKill bool
	ReceivedAny   bool
	Kill          KillPhase
}
