// Package challenge implements the battle challenge state machine of a single device: requesting a
// battle, answering one, fighting it out and returning to idle.
package challenge

import (
	"github.com/argus-labs/beacon/pkg/combat"
)

// State is the challenge state of a device.
type State uint8

const (
	StateIdle State = iota
	StateRequesting
	StateResponding
	StateInBattle
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateResponding:
		return "responding"
	case StateInBattle:
		return "in_battle"
	case StateResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Role is the side a device plays in a session.
type Role uint8

const (
	RoleNone Role = iota
	// RoleAggressor sent the battle request.
	RoleAggressor
	// RoleDefender received it.
	RoleDefender
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleAggressor:
		return "aggressor"
	case RoleDefender:
		return "defender"
	default:
		return "unknown"
	}
}

// Session is the single open challenge of a device. It is never shared: accessors return copies.
type Session struct {
	OpponentID string
	Role       Role
	State      State
	// RequestID is the MessageID of the BattleRequest that opened the session, if any.
	RequestID string

	// Battle figures, valid from InBattle on. Not persisted.
	OpponentHealth int
	LocalHealth    int
	Outcome        combat.Outcome
}
