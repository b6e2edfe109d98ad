package challenge

import (
	"context"

	"github.com/argus-labs/beacon/pkg/assert"
	"github.com/argus-labs/beacon/pkg/combat"
	"github.com/argus-labs/beacon/pkg/ledger"
	"github.com/argus-labs/beacon/pkg/protocol"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Outbox publishes the messages the machine emits.
type Outbox interface {
	SendRequest(ctx context.Context, req protocol.BattleRequest) error
	SendResponse(ctx context.Context, resp protocol.BattleResponse) error
}

// Machine is the challenge state machine of one device. It holds at most one Session. Methods
// must not be called concurrently; the owner serializes them.
type Machine struct {
	selfID    string
	ledger    *ledger.Ledger
	outbox    Outbox
	rules     combat.Rules
	newID     func() string
	log       zerolog.Logger
	session   *Session
	listeners []Listener
}

// NewMachine returns an idle machine for device selfID.
func NewMachine(selfID string, l *ledger.Ledger, outbox Outbox, opts ...Option) (*Machine, error) {
	if err := protocol.ValidateDeviceID(selfID); err != nil {
		return nil, eris.Wrap(err, "invalid device id")
	}
	if l == nil {
		return nil, eris.New("ledger cannot be nil")
	}
	if outbox == nil {
		return nil, eris.New("outbox cannot be nil")
	}

	m := &Machine{
		selfID: selfID,
		ledger: l,
		outbox: outbox,
		rules:  combat.DefaultRules(),
		newID:  uuid.NewString,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Option configures a Machine.
type Option func(*Machine)

// WithRules replaces the default battle constants.
func WithRules(rules combat.Rules) Option {
	return func(m *Machine) {
		m.rules = rules
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Machine) {
		m.log = log
	}
}

// WithMessageIDs replaces the message id generator.
func WithMessageIDs(newID func() string) Option {
	return func(m *Machine) {
		m.newID = newID
	}
}

// OnEvent registers l for every transition.
func (m *Machine) OnEvent(l Listener) {
	m.listeners = append(m.listeners, l)
}

// SelfID is the device id this machine acts for.
func (m *Machine) SelfID() string {
	return m.selfID
}

// Rules returns the battle constants in use.
func (m *Machine) Rules() combat.Rules {
	return m.rules
}

// State is the current state, StateIdle without a session.
func (m *Machine) State() State {
	if m.session == nil {
		return StateIdle
	}
	return m.session.State
}

// Session returns a copy of the open session.
func (m *Machine) Session() (Session, bool) {
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// SendRequest challenges opponentID. Idle -> Requesting. If publishing fails the device stays idle.
func (m *Machine) SendRequest(ctx context.Context, opponentID string) error {
	if m.session != nil {
		return eris.Wrapf(ErrSessionActive, "%s with %q", m.session.State, m.session.OpponentID)
	}
	if err := protocol.ValidateDeviceID(opponentID); err != nil {
		return eris.Wrapf(ErrInvalidOpponent, "%q: %v", opponentID, err)
	}
	if opponentID == m.selfID {
		return eris.Wrap(ErrInvalidOpponent, "cannot challenge yourself")
	}

	req := protocol.BattleRequest{
		MessageID:   m.newID(),
		AggressorID: m.selfID,
		DefenderID:  opponentID,
	}
	if err := m.outbox.SendRequest(ctx, req); err != nil {
		return eris.Wrapf(err, "failed to send battle request to %q", opponentID)
	}

	m.session = &Session{
		OpponentID: opponentID,
		Role:       RoleAggressor,
		State:      StateRequesting,
		RequestID:  req.MessageID,
	}
	m.log.Info().Str("opponent", opponentID).Str("message_id", req.MessageID).Msg("Battle requested")
	m.emit(EventRequesting, StateIdle, 0)
	return nil
}

// ReceiveRequest handles an inbound BattleRequest. Idle -> Responding.
func (m *Machine) ReceiveRequest(_ context.Context, req protocol.BattleRequest) error {
	if err := checkRequest(m.selfID, m.session, req); err != nil {
		return err
	}

	m.session = &Session{
		OpponentID: req.AggressorID,
		Role:       RoleDefender,
		State:      StateResponding,
		RequestID:  req.MessageID,
	}
	m.log.Info().Str("opponent", req.AggressorID).Str("message_id", req.MessageID).Msg("Battle request received")
	m.emit(EventResponding, StateIdle, 0)
	return nil
}

// ReceiveResponse handles the answer to our request. Requesting -> InBattle when accepted,
// Requesting -> Idle when declined.
func (m *Machine) ReceiveResponse(ctx context.Context, resp protocol.BattleResponse) error {
	if err := checkResponse(m.selfID, m.session, resp); err != nil {
		return err
	}

	if !resp.Accepted {
		m.log.Info().Str("opponent", m.session.OpponentID).Msg("Battle request declined")
		m.close(StateRequesting, "declined")
		return nil
	}

	return m.startBattle(ctx, StateRequesting)
}

// Decide answers the pending request. Responding -> InBattle when accepted, Responding -> Idle when
// declined. If publishing the answer fails the request stays pending.
func (m *Machine) Decide(ctx context.Context, accept bool) error {
	if m.session == nil || m.session.State != StateResponding {
		return eris.Wrapf(ErrInvalidTransition, "cannot answer a request while %s", m.State())
	}

	var character ledger.Character
	if accept {
		var err error
		// Nothing is sent unless the character can be read.
		if character, err = m.ledger.Character(ctx); err != nil {
			return eris.Wrap(err, "failed to read character")
		}
	}

	resp := protocol.BattleResponse{
		MessageID:   m.newID(),
		RequestID:   m.session.RequestID,
		AggressorID: m.session.OpponentID,
		DefenderID:  m.selfID,
		Accepted:    accept,
	}
	if err := m.outbox.SendResponse(ctx, resp); err != nil {
		return eris.Wrapf(err, "failed to answer %q", m.session.OpponentID)
	}

	if !accept {
		m.log.Info().Str("opponent", m.session.OpponentID).Msg("Battle request declined")
		m.close(StateResponding, "declined")
		return nil
	}
	m.enterBattle(character, StateResponding)
	return nil
}

// Attack resolves one exchange. InBattle -> InBattle, or Resolved on a win or loss. A win credits
// the victory reward; if that credit cannot be committed the exchange is not applied.
func (m *Machine) Attack(ctx context.Context) (combat.Exchange, error) {
	if m.session == nil || m.session.State != StateInBattle {
		return combat.Exchange{}, eris.Wrapf(ErrInvalidTransition, "cannot attack while %s", m.State())
	}

	character, err := m.ledger.Character(ctx)
	if err != nil {
		return combat.Exchange{}, eris.Wrap(err, "failed to read character")
	}

	ex := m.rules.ResolveAttack(character.Attack, m.session.LocalHealth, m.session.OpponentHealth)

	gold := 0
	if ex.Outcome == combat.OutcomeWin {
		if _, err := m.ledger.Mutate(ctx, func(c ledger.Character) (ledger.Character, error) {
			return m.rules.CreditVictory(c), nil
		}); err != nil {
			return combat.Exchange{}, eris.Wrap(err, "failed to credit victory")
		}
		gold = m.rules.VictoryReward
	}

	m.session.LocalHealth = ex.LocalHealth
	m.session.OpponentHealth = ex.OpponentHealth
	m.session.Outcome = ex.Outcome
	m.emit(EventExchange, StateInBattle, 0)

	if ex.Outcome != combat.OutcomeContinue {
		m.session.State = StateResolved
		m.log.Info().
			Str("opponent", m.session.OpponentID).
			Stringer("outcome", ex.Outcome).
			Int("gold_awarded", gold).
			Msg("Battle resolved")
		m.emit(EventResolved, StateInBattle, gold)
	}

	assert.That(m.session.LocalHealth >= 0 && m.session.OpponentHealth >= 0,
		"negative health after exchange: %+v", *m.session)
	return ex, nil
}

// Acknowledge closes a resolved battle. Resolved -> Idle; a no-op when idle.
func (m *Machine) Acknowledge(_ context.Context) error {
	switch m.State() {
	case StateIdle:
		return nil
	case StateResolved:
		m.close(StateResolved, "acknowledged")
		return nil
	default:
		return eris.Wrapf(ErrInvalidTransition, "cannot acknowledge while %s", m.State())
	}
}

// Flee leaves the battle without a result. InBattle or Resolved -> Idle. Nothing is written.
func (m *Machine) Flee(_ context.Context) error {
	switch m.State() {
	case StateInBattle, StateResolved:
		from := m.session.State
		m.log.Info().Str("opponent", m.session.OpponentID).Msg("Fled battle")
		m.close(from, "fled")
		return nil
	default:
		return eris.Wrapf(ErrInvalidTransition, "cannot flee while %s", m.State())
	}
}

// Cancel withdraws our pending request. Requesting -> Idle. A late answer is then rejected.
func (m *Machine) Cancel(_ context.Context) error {
	if m.State() != StateRequesting {
		return eris.Wrapf(ErrInvalidTransition, "cannot cancel while %s", m.State())
	}
	m.close(StateRequesting, "cancelled")
	return nil
}

// Expire drops the request with MessageID requestID when it got no answer. Requesting -> Idle.
// Ignored when the session has moved on or was opened by another request, so a stale timer is
// harmless.
func (m *Machine) Expire(_ context.Context, requestID string) bool {
	if m.State() != StateRequesting || requestID == "" || m.session.RequestID != requestID {
		return false
	}
	m.log.Info().Str("opponent", m.session.OpponentID).Str("message_id", requestID).Msg("Battle request expired")
	m.close(StateRequesting, "expired")
	return true
}

func (m *Machine) startBattle(ctx context.Context, from State) error {
	character, err := m.ledger.Character(ctx)
	if err != nil {
		return eris.Wrap(err, "failed to read character")
	}
	m.enterBattle(character, from)
	return nil
}

func (m *Machine) enterBattle(character ledger.Character, from State) {
	m.session.State = StateInBattle
	m.session.LocalHealth = character.Health
	m.session.OpponentHealth = m.rules.OpponentStartHealth
	m.session.Outcome = combat.OutcomeContinue
	m.log.Info().Str("opponent", m.session.OpponentID).Stringer("role", m.session.Role).Msg("Battle started")
	m.emit(EventBattleStarted, from, 0)
}

// close ends the session and notifies listeners.
func (m *Machine) close(from State, reason string) {
	last := *m.session
	m.session = nil
	m.notify(Event{
		Kind:           EventIdle,
		From:           from,
		To:             StateIdle,
		OpponentID:     last.OpponentID,
		Role:           last.Role,
		LocalHealth:    last.LocalHealth,
		OpponentHealth: last.OpponentHealth,
		Outcome:        last.Outcome,
		Reason:         reason,
	})
}

func (m *Machine) emit(kind EventKind, from State, gold int) {
	assert.That(m.session != nil, "emit %s without a session", kind)
	m.notify(Event{
		Kind:           kind,
		From:           from,
		To:             m.session.State,
		OpponentID:     m.session.OpponentID,
		Role:           m.session.Role,
		LocalHealth:    m.session.LocalHealth,
		OpponentHealth: m.session.OpponentHealth,
		Outcome:        m.session.Outcome,
		GoldAwarded:    gold,
	})
}

func (m *Machine) notify(ev Event) {
	for _, l := range m.listeners {
		l(ev)
	}
}
