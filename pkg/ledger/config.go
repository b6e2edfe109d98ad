package ledger

import (
	"context"
	"strings"

	"github.com/argus-labs/beacon/pkg/micro"
	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Backend selects the Store implementation.
type Backend uint8

const (
	BackendUndefined Backend = iota
	BackendMemory
	BackendRedis
	BackendJetStream
)

const (
	memoryBackendString    = "memory"
	redisBackendString     = "redis"
	jetStreamBackendString = "jetstream"
	undefinedBackendString = "undefined"
)

func (b Backend) String() string {
	switch b {
	case BackendUndefined:
		return undefinedBackendString
	case BackendMemory:
		return memoryBackendString
	case BackendRedis:
		return redisBackendString
	case BackendJetStream:
		return jetStreamBackendString
	default:
		return undefinedBackendString
	}
}

// UnmarshalText lets env parse LEDGER_BACKEND directly into a Backend.
func (b *Backend) UnmarshalText(text []byte) error {
	parsed, err := ParseBackend(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// ParseBackend parses a backend name, case-insensitively.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case memoryBackendString:
		return BackendMemory, nil
	case redisBackendString:
		return BackendRedis, nil
	case jetStreamBackendString:
		return BackendJetStream, nil
	default:
		return BackendUndefined, eris.Errorf("unknown ledger backend %q", s)
	}
}

// StoreConfig holds the ledger backend configuration.
type StoreConfig struct {
	Backend Backend `env:"LEDGER_BACKEND" envDefault:"memory"`

	RedisAddr      string `env:"LEDGER_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword  string `env:"LEDGER_REDIS_PASSWORD"`
	RedisDB        int    `env:"LEDGER_REDIS_DB" envDefault:"0"`
	RedisNamespace string `env:"LEDGER_REDIS_NAMESPACE" envDefault:"beacon"`

	KVBucket string `env:"LEDGER_KV_BUCKET" envDefault:"beacon_ledger"`
}

// NewStoreConfig returns the configuration from the environment.
func NewStoreConfig() (StoreConfig, error) {
	cfg, err := env.ParseAs[StoreConfig]()
	if err != nil {
		return cfg, eris.Wrap(err, "failed to parse ledger config")
	}
	return cfg, nil
}

func (cfg StoreConfig) Validate() error {
	switch cfg.Backend {
	case BackendMemory:
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return eris.New("redis address is required")
		}
		if cfg.RedisDB < 0 {
			return eris.New("redis db cannot be negative")
		}
		if cfg.RedisNamespace == "" {
			return eris.New("redis namespace cannot be empty")
		}
	case BackendJetStream:
		if cfg.KVBucket == "" {
			return eris.New("key-value bucket cannot be empty")
		}
	case BackendUndefined:
		return eris.New("ledger backend is undefined")
	default:
		return eris.Errorf("unknown ledger backend %d", cfg.Backend)
	}
	return nil
}

// Open creates the Store selected by cfg. client is required for the jetstream backend only.
func Open(ctx context.Context, cfg StoreConfig, client *micro.Client, log zerolog.Logger) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, eris.Wrap(err, "invalid ledger config")
	}

	log = log.With().Str("backend", cfg.Backend.String()).Logger()

	switch cfg.Backend {
	case BackendRedis:
		store := NewRedisStore(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, cfg.RedisNamespace, log)
		if err := store.Client.Ping(ctx).Err(); err != nil {
			_ = store.Close()
			return nil, unavailable(err, "failed to reach redis at %s", cfg.RedisAddr)
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("Opened redis ledger")
		return store, nil

	case BackendJetStream:
		if client == nil {
			return nil, eris.New("jetstream ledger needs a NATS client")
		}
		kv, err := client.KeyValue(ctx, cfg.KVBucket)
		if err != nil {
			return nil, unavailable(err, "failed to open bucket %s", cfg.KVBucket)
		}
		log.Info().Str("bucket", cfg.KVBucket).Msg("Opened jetstream ledger")
		return NewKVStore(kv, log), nil

	default:
		log.Info().Msg("Opened in-memory ledger")
		return NewMemoryStore(), nil
	}
}
