package ledger

import (
	"context"
	"strconv"
	"sync"

	"github.com/rotisserie/eris"
)

// Character record field names.
const (
	FieldName   = "name"
	FieldHealth = "health"
	FieldAttack = "attack"
	FieldGold   = "gold"
)

// Character is the persisted player record.
type Character struct {
	Name   string
	Health int
	Attack int
	Gold   int
}

// DefaultCharacter is the record written by Seed on a fresh device.
func DefaultCharacter() Character {
	return Character{Name: "Hero", Health: 100, Attack: 10, Gold: 0}
}

// Validate returns ErrNegativeValue if any counter is below zero.
func (c Character) Validate() error {
	switch {
	case c.Health < 0:
		return eris.Wrapf(ErrNegativeValue, "health %d", c.Health)
	case c.Attack < 0:
		return eris.Wrapf(ErrNegativeValue, "attack %d", c.Attack)
	case c.Gold < 0:
		return eris.Wrapf(ErrNegativeValue, "gold %d", c.Gold)
	}
	return nil
}

func (c Character) fields() Fields {
	return Fields{
		FieldName:   c.Name,
		FieldHealth: strconv.Itoa(c.Health),
		FieldAttack: strconv.Itoa(c.Attack),
		FieldGold:   strconv.Itoa(c.Gold),
	}
}

func characterFromFields(f Fields) (Character, error) {
	c := Character{Name: f[FieldName]}
	for field, dst := range map[string]*int{
		FieldHealth: &c.Health,
		FieldAttack: &c.Attack,
		FieldGold:   &c.Gold,
	} {
		raw, ok := f[field]
		if !ok {
			return Character{}, eris.Errorf("character record is missing field %q", field)
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return Character{}, eris.Wrapf(err, "character field %q is not an integer", field)
		}
		*dst = v
	}
	return c, nil
}

// Ledger is the typed view of a device's character and shop records. Mutations are atomic on the
// underlying Store and serialized within the process.
type Ledger struct {
	mu       sync.Mutex
	store    Store
	recordID string
	shopID   string
}

// New returns a Ledger over store for the given character and shop record ids.
func New(store Store, recordID, shopID string) *Ledger {
	return &Ledger{store: store, recordID: recordID, shopID: shopID}
}

// Store returns the underlying store.
func (l *Ledger) Store() Store {
	return l.store
}

// RecordID is the id of the character record.
func (l *Ledger) RecordID() string {
	return l.recordID
}

// Character reads the current character record.
func (l *Ledger) Character(ctx context.Context) (Character, error) {
	fields, err := l.store.Load(ctx, l.recordID)
	if err != nil {
		return Character{}, eris.Wrap(err, "failed to load character")
	}
	c, err := characterFromFields(fields)
	if err != nil {
		return Character{}, eris.Wrap(err, "failed to decode character")
	}
	return c, nil
}

// Mutate applies fn to the character in a single atomic update and returns the committed record.
// If fn fails or its result has a negative counter, nothing is written.
func (l *Ledger) Mutate(ctx context.Context, fn func(Character) (Character, error)) (Character, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var committed Character
	err := l.store.Update(ctx, l.recordID, func(fields Fields) error {
		if len(fields) == 0 {
			return eris.Wrapf(ErrNotFound, "record %q", l.recordID)
		}
		current, err := characterFromFields(fields)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		if err := next.Validate(); err != nil {
			return err
		}
		for k, v := range next.fields() {
			fields[k] = v
		}
		committed = next
		return nil
	})
	if err != nil {
		return Character{}, eris.Wrap(err, "failed to update character")
	}
	return committed, nil
}

// Seed writes c as the character record. An existing record is kept unless force is set. Reports
// whether c was written.
func (l *Ledger) Seed(ctx context.Context, c Character, force bool) (bool, error) {
	if err := c.Validate(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.seed(ctx, l.recordID, c.fields(), force)
}

// Prices reads the shop record as item name to price.
func (l *Ledger) Prices(ctx context.Context) (map[string]int, error) {
	fields, err := l.store.Load(ctx, l.shopID)
	if err != nil {
		return nil, eris.Wrap(err, "failed to load shop")
	}
	prices := make(map[string]int, len(fields))
	for item, raw := range fields {
		price, err := strconv.Atoi(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "price of %q is not an integer", item)
		}
		prices[item] = price
	}
	return prices, nil
}

// SeedShop writes the shop record. An existing record is kept unless force is set. Reports whether
// prices were written.
func (l *Ledger) SeedShop(ctx context.Context, prices map[string]int, force bool) (bool, error) {
	fields := make(Fields, len(prices))
	for item, price := range prices {
		if price < 0 {
			return false, eris.Wrapf(ErrNegativeValue, "price of %q", item)
		}
		fields[item] = strconv.Itoa(price)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.seed(ctx, l.shopID, fields, force)
}

func (l *Ledger) seed(ctx context.Context, recordID string, fields Fields, force bool) (bool, error) {
	written := false
	err := l.store.Update(ctx, recordID, func(current Fields) error {
		written = false
		if len(current) > 0 && !force {
			return nil
		}
		for k := range current {
			delete(current, k)
		}
		for k, v := range fields {
			current[k] = v
		}
		written = true
		return nil
	})
	if err != nil {
		return false, eris.Wrapf(err, "failed to seed %s", recordID)
	}
	return written, nil
}
