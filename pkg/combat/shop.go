package combat

import (
	"io"
	"slices"
	"strings"

	"github.com/argus-labs/beacon/pkg/ledger"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

var (
	ErrUnknownItem       = eris.New("unknown item")
	ErrInsufficientFunds = eris.New("insufficient funds")
	ErrInvalidPrice      = eris.New("price must be positive")
)

// Stat is the character attribute an item improves.
type Stat string

const (
	StatAttack Stat = "attack"
	StatHealth Stat = "health"
)

func (s Stat) validate() error {
	switch s {
	case StatAttack, StatHealth:
		return nil
	default:
		return eris.Errorf("unknown stat %q", string(s))
	}
}

// Item is a shop entry.
type Item struct {
	Name  string `json:"name"`
	Price int    `json:"price"`
	Stat  Stat   `json:"stat"`
	Delta int    `json:"delta"`
}

func (it Item) validate() error {
	if strings.TrimSpace(it.Name) == "" {
		return eris.New("item name cannot be empty")
	}
	if it.Price <= 0 {
		return eris.Wrapf(ErrInvalidPrice, "item %q costs %d", it.Name, it.Price)
	}
	if it.Delta < 0 {
		return eris.Errorf("item %q has a negative effect", it.Name)
	}
	if err := it.Stat.validate(); err != nil {
		return eris.Wrapf(err, "item %q", it.Name)
	}
	return nil
}

// apply returns c with the item's effect added.
func (it Item) apply(c ledger.Character) ledger.Character {
	switch it.Stat {
	case StatAttack:
		c.Attack += it.Delta
	case StatHealth:
		c.Health += it.Delta
	}
	return c
}

// Catalog is an immutable set of items keyed by name.
type Catalog struct {
	items map[string]Item
}

// NewCatalog validates items and builds a catalog. Item names must be unique.
func NewCatalog(items ...Item) (Catalog, error) {
	c := Catalog{items: make(map[string]Item, len(items))}
	for _, it := range items {
		if err := it.validate(); err != nil {
			return Catalog{}, err
		}
		if _, ok := c.items[it.Name]; ok {
			return Catalog{}, eris.Errorf("duplicate item %q", it.Name)
		}
		c.items[it.Name] = it
	}
	return c, nil
}

// DefaultCatalog is the standard shop.
func DefaultCatalog() Catalog {
	c, err := NewCatalog(
		Item{Name: "Fire Staff", Price: 10, Stat: StatAttack, Delta: 2},
		Item{Name: "Steel Armor", Price: 20, Stat: StatHealth, Delta: 5},
		Item{Name: "Greatsword", Price: 30, Stat: StatAttack, Delta: 5},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// LoadCatalog reads a JSON array of items.
func LoadCatalog(r io.Reader) (Catalog, error) {
	var items []Item
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return Catalog{}, eris.Wrap(err, "failed to decode catalog")
	}
	return NewCatalog(items...)
}

// Item looks up an item by name.
func (c Catalog) Item(name string) (Item, bool) {
	it, ok := c.items[name]
	return it, ok
}

// Items returns the items ordered by price, then name.
func (c Catalog) Items() []Item {
	items := make([]Item, 0, len(c.items))
	for _, it := range c.items {
		items = append(items, it)
	}
	slices.SortFunc(items, func(a, b Item) int {
		if a.Price != b.Price {
			return a.Price - b.Price
		}
		return strings.Compare(a.Name, b.Name)
	})
	return items
}

// Prices returns item name to price, the layout of the shop record.
func (c Catalog) Prices() map[string]int {
	prices := make(map[string]int, len(c.items))
	for name, it := range c.items {
		prices[name] = it.Price
	}
	return prices
}

// WithPrices returns a copy of c with prices overridden from a shop record. Names not in the
// catalog are ignored since they carry no effect.
func (c Catalog) WithPrices(prices map[string]int) (Catalog, error) {
	out := Catalog{items: make(map[string]Item, len(c.items))}
	for name, it := range c.items {
		if price, ok := prices[name]; ok {
			if price <= 0 {
				return Catalog{}, eris.Wrapf(ErrInvalidPrice, "item %q costs %d", name, price)
			}
			it.Price = price
		}
		out.items[name] = it
	}
	return out, nil
}

// ResolvePurchase returns record after buying itemName. On error the record is returned unchanged.
func ResolvePurchase(record ledger.Character, catalog Catalog, itemName string) (ledger.Character, error) {
	it, ok := catalog.Item(itemName)
	if !ok {
		return record, eris.Wrapf(ErrUnknownItem, "%q", itemName)
	}
	if record.Gold < it.Price {
		return record, eris.Wrapf(ErrInsufficientFunds, "%q costs %d, have %d", itemName, it.Price, record.Gold)
	}

	next := record
	next.Gold -= it.Price
	return it.apply(next), nil
}
