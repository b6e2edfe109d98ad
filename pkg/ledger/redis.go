package ledger

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// RedisStore keeps each record as a Redis hash under "<namespace>:<recordID>". Update uses
// WATCH/MULTI so writers in different processes never lose each other's changes.
type RedisStore struct {
	Namespace string
	Client    *redis.Client
	log       zerolog.Logger
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store over a new client for options.
func NewRedisStore(options *redis.Options, namespace string, log zerolog.Logger) *RedisStore {
	return &RedisStore{
		Namespace: namespace,
		Client:    redis.NewClient(options),
		log:       log,
	}
}

func (r *RedisStore) key(recordID string) string {
	return fmt.Sprintf("%s:%s", r.Namespace, recordID)
}

func (r *RedisStore) Get(ctx context.Context, recordID, field string) (string, error) {
	value, err := r.Client.HGet(ctx, r.key(recordID), field).Result()
	if eris.Is(err, redis.Nil) {
		return "", eris.Wrapf(ErrNotFound, "field %q of record %q", field, recordID)
	} else if err != nil {
		return "", unavailable(err, "failed to get %s", r.key(recordID))
	}
	return value, nil
}

func (r *RedisStore) Set(ctx context.Context, recordID, field, value string) error {
	if err := r.Client.HSet(ctx, r.key(recordID), field, value).Err(); err != nil {
		return unavailable(err, "failed to set %s", r.key(recordID))
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, recordID string) (Fields, error) {
	values, err := r.Client.HGetAll(ctx, r.key(recordID)).Result()
	if err != nil {
		return nil, unavailable(err, "failed to load %s", r.key(recordID))
	}
	// Redis has no empty hashes, an empty result means the key does not exist.
	if len(values) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "record %q", recordID)
	}
	return Fields(values), nil
}

func (r *RedisStore) Update(ctx context.Context, recordID string, fn UpdateFunc) error {
	key := r.key(recordID)

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		var fnErr error
		err := r.Client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}

			next := Fields(current).Clone()
			if fnErr = fn(next); fnErr != nil {
				return fnErr
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				if len(next) > 0 {
					pipe.HSet(ctx, key, flatten(next)...)
				}
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			return nil
		case fnErr != nil:
			return fnErr
		case eris.Is(err, redis.TxFailedErr):
			r.log.Debug().Str("key", key).Int("attempt", attempt).Msg("Record changed during update, retrying")
			continue
		default:
			return unavailable(err, "failed to update %s", key)
		}
	}
	return eris.Wrapf(ErrConflict, "record %q after %d attempts", recordID, maxUpdateAttempts)
}

func (r *RedisStore) Close() error {
	if err := r.Client.Close(); err != nil {
		return eris.Wrap(err, "failed to close redis client")
	}
	return nil
}

func flatten(fields Fields) []any {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

func unavailable(cause error, format string, args ...any) error {
	return eris.Wrapf(ErrUnavailable, "%s: %v", fmt.Sprintf(format, args...), cause)
}
