package ledger_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/argus-labs/beacon/pkg/ledger"
	"github.com/argus-labs/beacon/pkg/micro"
	"github.com/argus-labs/beacon/pkg/testutils"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type backend struct {
	name string
	open func(t *testing.T) ledger.Store
}

func backends() []backend {
	return []backend{
		{name: "memory", open: func(_ *testing.T) ledger.Store {
			return ledger.NewMemoryStore()
		}},
		{name: "redis", open: func(t *testing.T) ledger.Store {
			s := miniredis.RunT(t)
			store := ledger.NewRedisStore(&redis.Options{Addr: s.Addr()}, "test", zerolog.Nop())
			t.Cleanup(func() { _ = store.Close() })
			return store
		}},
		{name: "jetstream", open: func(t *testing.T) ledger.Store {
			broker := testutils.NewNATS(t)
			client, err := micro.NewClient(micro.WithURL(broker.URL()))
			require.NoError(t, err)
			t.Cleanup(client.Close)

			kv, err := client.KeyValue(context.Background(), "ledger_test")
			require.NoError(t, err)
			return ledger.NewKVStore(kv, zerolog.Nop())
		}},
	}
}

func TestStore_Conformance(t *testing.T) {
	t.Parallel()

	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			t.Run("missing record", func(t *testing.T) {
				store := b.open(t)

				_, err := store.Get(ctx, "nobody", "gold")
				assert.True(t, eris.Is(err, ledger.ErrNotFound))

				_, err = store.Load(ctx, "nobody")
				assert.True(t, eris.Is(err, ledger.ErrNotFound))
			})

			t.Run("set and get", func(t *testing.T) {
				store := b.open(t)

				require.NoError(t, store.Set(ctx, "character", "gold", "30"))
				require.NoError(t, store.Set(ctx, "character", "name", "Hero"))

				gold, err := store.Get(ctx, "character", "gold")
				require.NoError(t, err)
				assert.Equal(t, "30", gold)

				_, err = store.Get(ctx, "character", "attack")
				assert.True(t, eris.Is(err, ledger.ErrNotFound))

				fields, err := store.Load(ctx, "character")
				require.NoError(t, err)
				assert.Equal(t, ledger.Fields{"gold": "30", "name": "Hero"}, fields)
			})

			t.Run("update replaces the field set", func(t *testing.T) {
				store := b.open(t)
				require.NoError(t, store.Set(ctx, "shop", "Fire Staff", "10"))
				require.NoError(t, store.Set(ctx, "shop", "Greatsword", "30"))

				err := store.Update(ctx, "shop", func(fields ledger.Fields) error {
					delete(fields, "Greatsword")
					fields["Steel Armor"] = "20"
					return nil
				})
				require.NoError(t, err)

				fields, err := store.Load(ctx, "shop")
				require.NoError(t, err)
				assert.Equal(t, ledger.Fields{"Fire Staff": "10", "Steel Armor": "20"}, fields)
			})

			t.Run("failed update writes nothing", func(t *testing.T) {
				store := b.open(t)
				require.NoError(t, store.Set(ctx, "character", "gold", "5"))

				errAbort := eris.New("abort")
				err := store.Update(ctx, "character", func(fields ledger.Fields) error {
					fields["gold"] = "0"
					return errAbort
				})
				require.Error(t, err)
				assert.True(t, eris.Is(err, errAbort))

				gold, err := store.Get(ctx, "character", "gold")
				require.NoError(t, err)
				assert.Equal(t, "5", gold)
			})

			t.Run("concurrent updates are not lost", func(t *testing.T) {
				store := b.open(t)
				require.NoError(t, store.Set(ctx, "character", "gold", "0"))

				const writers, increments = 4, 10
				var g errgroup.Group
				for range writers {
					g.Go(func() error {
						for range increments {
							err := store.Update(ctx, "character", func(fields ledger.Fields) error {
								gold, err := strconv.Atoi(fields["gold"])
								if err != nil {
									return err
								}
								fields["gold"] = strconv.Itoa(gold + 1)
								return nil
							})
							if err != nil {
								return err
							}
						}
						return nil
					})
				}
				require.NoError(t, g.Wait())

				gold, err := store.Get(ctx, "character", "gold")
				require.NoError(t, err)
				assert.Equal(t, strconv.Itoa(writers*increments), gold)
			})
		})
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	t.Parallel()

	s := miniredis.RunT(t)
	store := ledger.NewRedisStore(&redis.Options{Addr: s.Addr(), MaxRetries: -1}, "test", zerolog.Nop())
	t.Cleanup(func() { _ = store.Close() })
	s.Close()

	ctx := context.Background()

	_, err := store.Get(ctx, "character", "gold")
	assert.True(t, eris.Is(err, ledger.ErrUnavailable))

	err = store.Update(ctx, "character", func(ledger.Fields) error { return nil })
	assert.True(t, eris.Is(err, ledger.ErrUnavailable))
}

func TestStore_ConflictIsUnavailable(t *testing.T) {
	t.Parallel()

	for _, b := range backends() {
		if b.name == "memory" {
			continue
		}
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := b.open(t)
			require.NoError(t, store.Set(ctx, "character", "gold", "0"))

			// Another writer changes the record on every attempt, so no attempt can commit.
			writes := 0
			err := store.Update(ctx, "character", func(fields ledger.Fields) error {
				writes++
				require.NoError(t, store.Set(ctx, "character", "gold", strconv.Itoa(writes)))
				fields["gold"] = "-1"
				return nil
			})
			require.Error(t, err)
			assert.True(t, eris.Is(err, ledger.ErrConflict))
			assert.True(t, eris.Is(err, ledger.ErrUnavailable))
			assert.Equal(t, 64, writes)

			gold, err := store.Get(ctx, "character", "gold")
			require.NoError(t, err)
			assert.Equal(t, "64", gold)
		})
	}
}
