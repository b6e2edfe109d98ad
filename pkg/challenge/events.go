package challenge

import "github.com/argus-labs/beacon/pkg/combat"

// EventKind identifies a transition notification.
type EventKind uint8

const (
	// EventRequesting: a battle request was sent, waiting for the answer.
	EventRequesting EventKind = iota + 1
	// EventResponding: a battle request arrived and awaits a decision.
	EventResponding
	// EventBattleStarted: both sides agreed, the battle is on.
	EventBattleStarted
	// EventExchange: an attack was resolved.
	EventExchange
	// EventResolved: the battle ended with a win or a loss.
	EventResolved
	// EventIdle: the session closed.
	EventIdle
)

func (k EventKind) String() string {
	switch k {
	case EventRequesting:
		return "requesting"
	case EventResponding:
		return "responding"
	case EventBattleStarted:
		return "battle_started"
	case EventExchange:
		return "exchange"
	case EventResolved:
		return "resolved"
	case EventIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// Event describes a transition after it was applied.
type Event struct {
	Kind       EventKind
	From       State
	To         State
	OpponentID string
	Role       Role

	LocalHealth    int
	OpponentHealth int
	Outcome        combat.Outcome
	// GoldAwarded is the gold credited by this transition.
	GoldAwarded int
	// Reason says why a session closed: "declined", "expired", "cancelled", "fled" or
	// "acknowledged". Empty for other kinds.
	Reason string
}

// Listener receives events synchronously on the goroutine that drives the machine. It must not
// call back into the machine.
type Listener func(Event)
