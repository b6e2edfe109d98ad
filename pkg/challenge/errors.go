package challenge

import "github.com/rotisserie/eris"

var (
	// ErrProtocolViolation is the root of every rejected inbound message. The state is unchanged.
	ErrProtocolViolation = eris.New("protocol violation")

	ErrDuplicateSession    = eris.Wrap(ErrProtocolViolation, "session already open")
	ErrCorrelationMismatch = eris.Wrap(ErrProtocolViolation, "message does not match session")
	ErrUnexpectedMessage   = eris.Wrap(ErrProtocolViolation, "message not expected in current state")
	ErrDuplicateDelivery   = eris.Wrap(ErrProtocolViolation, "message already handled")

	// ErrSessionActive is returned when a local action needs an idle device.
	ErrSessionActive = eris.New("a challenge session is already active")
	// ErrInvalidTransition is returned when a local action is not allowed in the current state.
	ErrInvalidTransition = eris.New("invalid transition")
	// ErrInvalidOpponent is returned for an unusable opponent id.
	ErrInvalidOpponent = eris.New("invalid opponent")
)
