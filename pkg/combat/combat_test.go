package combat_test

import (
	"strings"
	"testing"

	"github.com/argus-labs/beacon/pkg/combat"
	"github.com/argus-labs/beacon/pkg/ledger"
	"github.com/argus-labs/beacon/pkg/testutils"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAttack_FiveBlowsWin(t *testing.T) {
	t.Parallel()
	rules := combat.DefaultRules()

	local, opponent := 100, rules.OpponentStartHealth
	for i := 1; i <= 4; i++ {
		ex := rules.ResolveAttack(20, local, opponent)
		require.Equal(t, combat.OutcomeContinue, ex.Outcome, "exchange %d", i)
		local, opponent = ex.LocalHealth, ex.OpponentHealth
	}
	assert.Equal(t, 20, opponent)
	assert.Equal(t, 64, local)

	ex := rules.ResolveAttack(20, local, opponent)
	assert.Equal(t, combat.OutcomeWin, ex.Outcome)
	assert.Equal(t, 0, ex.OpponentHealth)
	assert.Equal(t, 55, ex.LocalHealth)

	c := rules.CreditVictory(ledger.Character{Name: "Hero", Health: 100, Attack: 20, Gold: 3})
	assert.Equal(t, 13, c.Gold)
	assert.Equal(t, 20, c.Attack)
}

func TestResolveAttack_Clamping(t *testing.T) {
	t.Parallel()
	rules := combat.DefaultRules()

	ex := rules.ResolveAttack(150, 100, 100)
	assert.Equal(t, 0, ex.OpponentHealth)
	assert.Equal(t, combat.OutcomeWin, ex.Outcome)

	ex = rules.ResolveAttack(-5, 100, 40)
	assert.Equal(t, 40, ex.OpponentHealth)
	assert.Equal(t, 91, ex.LocalHealth)
}

func TestResolveAttack_Loss(t *testing.T) {
	t.Parallel()
	rules := combat.DefaultRules()

	ex := rules.ResolveAttack(1, 9, 50)
	assert.Equal(t, combat.OutcomeLoss, ex.Outcome)
	assert.Equal(t, 0, ex.LocalHealth)
	assert.Equal(t, 49, ex.OpponentHealth)

	// Both fighters drop in the same exchange: the attacker's blow counts first.
	ex = rules.ResolveAttack(10, 5, 10)
	assert.Equal(t, combat.OutcomeWin, ex.Outcome)
}

func TestResolveAttack_NeverNegative(t *testing.T) {
	t.Parallel()
	r := testutils.NewRand(t)
	rules := combat.DefaultRules()

	for range 1000 {
		ex := rules.ResolveAttack(r.IntN(200)-50, r.IntN(120), r.IntN(120))
		require.GreaterOrEqual(t, ex.LocalHealth, 0)
		require.GreaterOrEqual(t, ex.OpponentHealth, 0)
	}
}

func TestResolvePurchase(t *testing.T) {
	t.Parallel()
	catalog := combat.DefaultCatalog()

	t.Run("exact funds", func(t *testing.T) {
		t.Parallel()
		record := ledger.Character{Name: "Hero", Health: 100, Attack: 10, Gold: 10}

		got, err := combat.ResolvePurchase(record, catalog, "Fire Staff")
		require.NoError(t, err)
		assert.Equal(t, ledger.Character{Name: "Hero", Health: 100, Attack: 12, Gold: 0}, got)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		t.Parallel()
		record := ledger.Character{Name: "Hero", Health: 100, Attack: 10, Gold: 5}

		got, err := combat.ResolvePurchase(record, catalog, "Steel Armor")
		require.Error(t, err)
		assert.True(t, eris.Is(err, combat.ErrInsufficientFunds))
		assert.Equal(t, record, got)
	})

	t.Run("unknown item", func(t *testing.T) {
		t.Parallel()
		record := ledger.Character{Gold: 100}

		got, err := combat.ResolvePurchase(record, catalog, "Wooden Spoon")
		assert.True(t, eris.Is(err, combat.ErrUnknownItem))
		assert.Equal(t, record, got)
	})

	t.Run("health item", func(t *testing.T) {
		t.Parallel()
		record := ledger.Character{Health: 100, Attack: 10, Gold: 25}

		got, err := combat.ResolvePurchase(record, catalog, "Steel Armor")
		require.NoError(t, err)
		assert.Equal(t, ledger.Character{Health: 105, Attack: 10, Gold: 5}, got)
	})
}

func TestCatalog(t *testing.T) {
	t.Parallel()

	items := combat.DefaultCatalog().Items()
	require.Len(t, items, 3)
	assert.Equal(t, []string{"Fire Staff", "Steel Armor", "Greatsword"},
		[]string{items[0].Name, items[1].Name, items[2].Name})

	_, err := combat.NewCatalog(combat.Item{Name: "Free", Price: 0, Stat: combat.StatAttack, Delta: 1})
	assert.True(t, eris.Is(err, combat.ErrInvalidPrice))

	_, err = combat.NewCatalog(
		combat.Item{Name: "A", Price: 1, Stat: combat.StatAttack},
		combat.Item{Name: "A", Price: 2, Stat: combat.StatHealth},
	)
	require.Error(t, err)

	_, err = combat.NewCatalog(combat.Item{Name: "A", Price: 1, Stat: "mana"})
	require.Error(t, err)
}

func TestCatalog_WithPrices(t *testing.T) {
	t.Parallel()
	catalog := combat.DefaultCatalog()

	priced, err := catalog.WithPrices(map[string]int{"Fire Staff": 15, "Mystery Box": 1})
	require.NoError(t, err)

	staff, ok := priced.Item("Fire Staff")
	require.True(t, ok)
	assert.Equal(t, 15, staff.Price)
	_, ok = priced.Item("Mystery Box")
	assert.False(t, ok)

	// The original is unchanged.
	staff, _ = catalog.Item("Fire Staff")
	assert.Equal(t, 10, staff.Price)

	_, err = catalog.WithPrices(map[string]int{"Greatsword": 0})
	assert.True(t, eris.Is(err, combat.ErrInvalidPrice))
}

func TestLoadCatalog(t *testing.T) {
	t.Parallel()

	catalog, err := combat.LoadCatalog(strings.NewReader(`[
		{"name": "Bow", "price": 12, "stat": "attack", "delta": 3},
		{"name": "Shield", "price": 8, "stat": "health", "delta": 4}
	]`))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Bow": 12, "Shield": 8}, catalog.Prices())

	_, err = combat.LoadCatalog(strings.NewReader(`{"name": "Bow"}`))
	require.Error(t, err)

	_, err = combat.LoadCatalog(strings.NewReader(`[{"name": "Bow", "price": -1, "stat": "attack"}]`))
	assert.True(t, eris.Is(err, combat.ErrInvalidPrice))
}

func TestPurchaseSequences_NeverNegative(t *testing.T) {
	t.Parallel()
	r := testutils.NewRand(t)
	catalog := combat.DefaultCatalog()
	names := []string{"Fire Staff", "Steel Armor", "Greatsword", "Nothing"}

	record := ledger.Character{Health: 100, Attack: 10, Gold: 0}
	for range 500 {
		if r.IntN(2) == 0 {
			record = combat.DefaultRules().CreditVictory(record)
			continue
		}
		next, err := combat.ResolvePurchase(record, catalog, testutils.RandPick(r, names))
		if err != nil {
			require.Equal(t, record, next)
		}
		record = next
		require.NoError(t, record.Validate())
	}
}
