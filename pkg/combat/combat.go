// Package combat holds the pure battle and shop rules. Nothing here touches storage or transport;
// callers commit the returned records through the ledger.
package combat

import (
	"github.com/argus-labs/beacon/pkg/ledger"
)

// Outcome is the result of one attack exchange.
type Outcome uint8

const (
	OutcomeContinue Outcome = iota
	OutcomeWin
	OutcomeLoss
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeWin:
		return "win"
	case OutcomeLoss:
		return "loss"
	default:
		return "unknown"
	}
}

// Rules are the battle constants.
type Rules struct {
	// DefenderDamage is the fixed damage the local fighter takes per exchange.
	DefenderDamage int
	// VictoryReward is the gold credited on a win.
	VictoryReward int
	// OpponentStartHealth is the opponent's health at the start of a battle.
	OpponentStartHealth int
}

// DefaultRules returns the standard battle constants.
func DefaultRules() Rules {
	return Rules{
		DefenderDamage:      9,
		VictoryReward:       10,
		OpponentStartHealth: 100,
	}
}

// Exchange is the state after one attack.
type Exchange struct {
	LocalHealth    int
	OpponentHealth int
	Outcome        Outcome
}

// ResolveAttack runs one exchange: the opponent takes attack damage and the local fighter takes
// DefenderDamage. Healths are clamped at zero. If both drop to zero in the same exchange the
// attacker wins.
func (r Rules) ResolveAttack(attack, localHealth, opponentHealth int) Exchange {
	ex := Exchange{
		LocalHealth:    max(localHealth-max(r.DefenderDamage, 0), 0),
		OpponentHealth: max(opponentHealth-max(attack, 0), 0),
		Outcome:        OutcomeContinue,
	}
	switch {
	case ex.OpponentHealth <= 0:
		ex.Outcome = OutcomeWin
	case ex.LocalHealth <= 0:
		ex.Outcome = OutcomeLoss
	}
	return ex
}

// CreditVictory returns c with the victory reward added to its gold.
func (r Rules) CreditVictory(c ledger.Character) ledger.Character {
	c.Gold += r.VictoryReward
	return c
}
