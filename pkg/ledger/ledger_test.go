package ledger_test

import (
	"context"
	"testing"

	"github.com/argus-labs/beacon/pkg/ledger"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l := ledger.New(ledger.NewMemoryStore(), "character", "shop")
	_, err := l.Seed(context.Background(), ledger.DefaultCharacter(), false)
	require.NoError(t, err)
	return l
}

func TestLedger_Seed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	l := ledger.New(store, "character", "shop")

	written, err := l.Seed(ctx, ledger.DefaultCharacter(), false)
	require.NoError(t, err)
	assert.True(t, written)

	// Persisted as decimal strings.
	fields, err := store.Load(ctx, "character")
	require.NoError(t, err)
	assert.Equal(t, ledger.Fields{"name": "Hero", "health": "100", "attack": "10", "gold": "0"}, fields)

	written, err = l.Seed(ctx, ledger.Character{Name: "Other", Health: 1}, false)
	require.NoError(t, err)
	assert.False(t, written)

	c, err := l.Character(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.DefaultCharacter(), c)

	written, err = l.Seed(ctx, ledger.Character{Name: "Other", Health: 1}, true)
	require.NoError(t, err)
	assert.True(t, written)

	c, err = l.Character(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.Character{Name: "Other", Health: 1}, c)
}

func TestLedger_SeedRejectsNegative(t *testing.T) {
	t.Parallel()
	l := ledger.New(ledger.NewMemoryStore(), "character", "shop")

	_, err := l.Seed(context.Background(), ledger.Character{Gold: -1}, false)
	assert.True(t, eris.Is(err, ledger.ErrNegativeValue))

	_, err = l.Character(context.Background())
	assert.True(t, eris.Is(err, ledger.ErrNotFound))
}

func TestLedger_Mutate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newLedger(t)

	c, err := l.Mutate(ctx, func(c ledger.Character) (ledger.Character, error) {
		c.Gold += 10
		c.Attack += 2
		return c, nil
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.Character{Name: "Hero", Health: 100, Attack: 12, Gold: 10}, c)

	stored, err := l.Character(ctx)
	require.NoError(t, err)
	assert.Equal(t, c, stored)
}

func TestLedger_MutateNegativeWritesNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newLedger(t)

	_, err := l.Mutate(ctx, func(c ledger.Character) (ledger.Character, error) {
		c.Gold -= 5
		c.Attack += 2
		return c, nil
	})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ledger.ErrNegativeValue))

	c, err := l.Character(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.DefaultCharacter(), c)
}

func TestLedger_MutateMissingRecord(t *testing.T) {
	t.Parallel()
	l := ledger.New(ledger.NewMemoryStore(), "character", "shop")

	_, err := l.Mutate(context.Background(), func(c ledger.Character) (ledger.Character, error) {
		return c, nil
	})
	assert.True(t, eris.Is(err, ledger.ErrNotFound))
}

func TestLedger_ConcurrentPurchaseAndCredit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newLedger(t)

	// Two handles on the same store, as with two processes sharing a backend.
	other := ledger.New(l.Store(), "character", "shop")

	const rounds = 50
	var g errgroup.Group
	g.Go(func() error {
		for range rounds {
			if _, err := l.Mutate(ctx, func(c ledger.Character) (ledger.Character, error) {
				c.Gold += 10
				return c, nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		bought := 0
		for bought < rounds {
			_, err := other.Mutate(ctx, func(c ledger.Character) (ledger.Character, error) {
				c.Gold -= 10
				c.Attack += 2
				return c, nil
			})
			if eris.Is(err, ledger.ErrNegativeValue) {
				continue
			}
			if err != nil {
				return err
			}
			bought++
		}
		return nil
	})
	require.NoError(t, g.Wait())

	c, err := l.Character(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Gold)
	assert.Equal(t, 10+2*rounds, c.Attack)
}

func TestLedger_Prices(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newLedger(t)

	_, err := l.Prices(ctx)
	assert.True(t, eris.Is(err, ledger.ErrNotFound))

	written, err := l.SeedShop(ctx, map[string]int{"Fire Staff": 10, "Greatsword": 30}, false)
	require.NoError(t, err)
	assert.True(t, written)

	prices, err := l.Prices(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Fire Staff": 10, "Greatsword": 30}, prices)

	require.NoError(t, l.Store().Set(ctx, "shop", "Broken", "ten"))
	_, err = l.Prices(ctx)
	require.Error(t, err)
}

func TestStoreConfig(t *testing.T) {
	t.Parallel()

	b, err := ledger.ParseBackend(" Redis ")
	require.NoError(t, err)
	assert.Equal(t, ledger.BackendRedis, b)
	assert.Equal(t, "redis", b.String())

	_, err = ledger.ParseBackend("postgres")
	require.Error(t, err)

	cfg := ledger.StoreConfig{Backend: ledger.BackendRedis}
	require.Error(t, cfg.Validate())

	cfg = ledger.StoreConfig{Backend: ledger.BackendRedis, RedisAddr: "localhost:6379", RedisNamespace: "beacon"}
	require.NoError(t, cfg.Validate())

	require.Error(t, ledger.StoreConfig{}.Validate())

	store, err := ledger.Open(context.Background(), ledger.StoreConfig{Backend: ledger.BackendMemory}, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &ledger.MemoryStore{}, store)

	_, err = ledger.Open(context.Background(), ledger.StoreConfig{Backend: ledger.BackendJetStream, KVBucket: "b"}, nil, zerolog.Nop())
	require.Error(t, err)
}
