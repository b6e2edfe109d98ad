package challenge

import (
	"github.com/argus-labs/beacon/pkg/protocol"
	"github.com/rotisserie/eris"
)

// The correlator decides whether an inbound message belongs to the device's session. It never
// mutates state; a nil error means the transition may proceed.

func checkRequest(selfID string, session *Session, req protocol.BattleRequest) error {
	if req.AggressorID == selfID {
		return eris.Wrapf(ErrCorrelationMismatch, "request %q comes from this device", req.MessageID)
	}
	if req.DefenderID != "" && req.DefenderID != selfID {
		return eris.Wrapf(ErrCorrelationMismatch, "request %q is addressed to %q", req.MessageID, req.DefenderID)
	}
	if session == nil {
		return nil
	}

	// The opponent being answered asked again, most likely a redelivery.
	if session.State == StateResponding && session.Role == RoleDefender && session.OpponentID == req.AggressorID {
		return eris.Wrapf(ErrDuplicateDelivery, "request %q from %q", req.MessageID, req.AggressorID)
	}
	return eris.Wrapf(ErrDuplicateSession, "request from %q while %s with %q",
		req.AggressorID, session.State, session.OpponentID)
}

func checkResponse(selfID string, session *Session, resp protocol.BattleResponse) error {
	if session == nil || session.Role != RoleAggressor || session.State != StateRequesting {
		state := StateIdle
		if session != nil {
			state = session.State
		}
		return eris.Wrapf(ErrUnexpectedMessage, "response from %q while %s", resp.DefenderID, state)
	}
	if resp.AggressorID != selfID {
		return eris.Wrapf(ErrCorrelationMismatch, "response is for aggressor %q", resp.AggressorID)
	}
	if resp.DefenderID != "" && resp.DefenderID != session.OpponentID {
		return eris.Wrapf(ErrCorrelationMismatch, "response from %q, challenged %q", resp.DefenderID, session.OpponentID)
	}
	// Answers to an earlier request to the same opponent must not close the current one.
	if resp.RequestID != "" && resp.RequestID != session.RequestID {
		return eris.Wrapf(ErrCorrelationMismatch, "response answers request %q, pending %q",
			resp.RequestID, session.RequestID)
	}
	return nil
}
