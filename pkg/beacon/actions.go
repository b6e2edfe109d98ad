package beacon

import (
	"context"

	"github.com/argus-labs/beacon/pkg/challenge"
	"github.com/argus-labs/beacon/pkg/combat"
	"github.com/argus-labs/beacon/pkg/ledger"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Player actions. Each one runs on the device loop and returns once applied.

// Challenge sends a battle request to opponentID.
func (d *Device) Challenge(ctx context.Context, opponentID string) error {
	return d.action(ctx, "challenge", func(ctx context.Context) error {
		return d.machine.SendRequest(ctx, opponentID)
	}, attribute.String("opponent_id", opponentID))
}

// Respond accepts or declines the pending battle request.
func (d *Device) Respond(ctx context.Context, accept bool) error {
	return d.action(ctx, "respond", func(ctx context.Context) error {
		return d.machine.Decide(ctx, accept)
	}, attribute.Bool("accepted", accept))
}

// Attack strikes the opponent once.
func (d *Device) Attack(ctx context.Context) (combat.Exchange, error) {
	var ex combat.Exchange
	err := d.action(ctx, "attack", func(ctx context.Context) error {
		var err error
		ex, err = d.machine.Attack(ctx)
		return err
	})
	return ex, err
}

// Acknowledge closes a finished battle.
func (d *Device) Acknowledge(ctx context.Context) error {
	return d.action(ctx, "acknowledge", d.machine.Acknowledge)
}

// Flee leaves the current battle without a result.
func (d *Device) Flee(ctx context.Context) error {
	return d.action(ctx, "flee", d.machine.Flee)
}

// Cancel withdraws the pending battle request.
func (d *Device) Cancel(ctx context.Context) error {
	return d.action(ctx, "cancel", d.machine.Cancel)
}

// Purchase buys itemName at the shop's current price and returns the updated character.
func (d *Device) Purchase(ctx context.Context, itemName string) (ledger.Character, error) {
	var character ledger.Character
	err := d.action(ctx, "purchase", func(ctx context.Context) error {
		catalog, err := d.currentCatalog(ctx)
		if err != nil {
			return err
		}
		character, err = d.ledger.Mutate(ctx, func(c ledger.Character) (ledger.Character, error) {
			return combat.ResolvePurchase(c, catalog, itemName)
		})
		if err != nil {
			return eris.Wrapf(err, "failed to buy %q", itemName)
		}
		d.log.Info().Str("item", itemName).Int("gold", character.Gold).Msg("Item purchased")
		return nil
	}, attribute.String("item", itemName))
	return character, err
}

// Session returns the open challenge session. ok is false when the device is idle.
func (d *Device) Session(ctx context.Context) (session challenge.Session, ok bool, err error) {
	err = d.do(ctx, func(context.Context) error {
		session, ok = d.machine.Session()
		return nil
	})
	return session, ok, err
}

// Character reads the persisted character.
func (d *Device) Character(ctx context.Context) (ledger.Character, error) {
	return d.ledger.Character(ctx)
}

// Catalog returns the shop items at their current prices.
func (d *Device) Catalog(ctx context.Context) (combat.Catalog, error) {
	return d.currentCatalog(ctx)
}

// currentCatalog merges the shop record's prices into the item table. Without a shop record the
// table's own prices apply.
func (d *Device) currentCatalog(ctx context.Context) (combat.Catalog, error) {
	prices, err := d.ledger.Prices(ctx)
	if eris.Is(err, ledger.ErrNotFound) {
		return d.catalog, nil
	} else if err != nil {
		return combat.Catalog{}, err
	}
	catalog, err := d.catalog.WithPrices(prices)
	if err != nil {
		return combat.Catalog{}, eris.Wrap(err, "invalid shop record")
	}
	return catalog, nil
}

// action runs fn on the loop inside a span named after the action.
func (d *Device) action(ctx context.Context, name string, fn func(ctx context.Context) error,
	attrs ...attribute.KeyValue,
) error {
	ctx, span := d.tel.Tracer.Start(ctx, "beacon."+name,
		trace.WithAttributes(append(attrs, attribute.String("device_id", d.id))...))
	defer span.End()

	err := d.do(ctx, fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !isUserError(err) {
			d.tel.CaptureException(ctx, err)
		}
		return err
	}
	return nil
}

// isUserError reports errors caused by the player's input rather than the system.
func isUserError(err error) bool {
	return eris.Is(err, challenge.ErrInvalidTransition) ||
		eris.Is(err, challenge.ErrSessionActive) ||
		eris.Is(err, challenge.ErrInvalidOpponent) ||
		eris.Is(err, combat.ErrInsufficientFunds) ||
		eris.Is(err, combat.ErrUnknownItem) ||
		eris.Is(err, ErrStopped)
}
