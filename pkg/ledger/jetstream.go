package ledger

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// KVStore keeps each record as a JSON object in a JetStream key-value bucket, keyed by record id.
// Writes are compare-and-swap on the entry revision.
type KVStore struct {
	kv  jetstream.KeyValue
	log zerolog.Logger
}

var _ Store = (*KVStore)(nil)

// NewKVStore creates a store over an existing bucket.
func NewKVStore(kv jetstream.KeyValue, log zerolog.Logger) *KVStore {
	return &KVStore{kv: kv, log: log}
}

func (s *KVStore) Get(ctx context.Context, recordID, field string) (string, error) {
	fields, err := s.Load(ctx, recordID)
	if err != nil {
		return "", err
	}
	value, ok := fields[field]
	if !ok {
		return "", eris.Wrapf(ErrNotFound, "field %q of record %q", field, recordID)
	}
	return value, nil
}

func (s *KVStore) Set(ctx context.Context, recordID, field, value string) error {
	return s.Update(ctx, recordID, func(fields Fields) error {
		fields[field] = value
		return nil
	})
}

func (s *KVStore) Load(ctx context.Context, recordID string) (Fields, error) {
	fields, _, err := s.read(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, eris.Wrapf(ErrNotFound, "record %q", recordID)
	}
	return fields, nil
}

func (s *KVStore) Update(ctx context.Context, recordID string, fn UpdateFunc) error {
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		current, revision, err := s.read(ctx, recordID)
		if err != nil {
			return err
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			return err
		}

		data, err := json.Marshal(next)
		if err != nil {
			return eris.Wrapf(err, "failed to encode record %q", recordID)
		}

		if revision == 0 {
			_, err = s.kv.Create(ctx, recordID, data)
		} else {
			_, err = s.kv.Update(ctx, recordID, data, revision)
		}
		switch {
		case err == nil:
			return nil
		case eris.Is(err, jetstream.ErrKeyExists):
			// Another writer got in between the read and the write.
			s.log.Debug().Str("key", recordID).Int("attempt", attempt).Msg("Record changed during update, retrying")
			continue
		default:
			return unavailable(err, "failed to write %s", recordID)
		}
	}
	return eris.Wrapf(ErrConflict, "record %q after %d attempts", recordID, maxUpdateAttempts)
}

// Close is a no-op, the bucket's connection belongs to the caller.
func (s *KVStore) Close() error {
	return nil
}

// read returns the record and its revision. A missing record yields nil fields and revision 0.
func (s *KVStore) read(ctx context.Context, recordID string) (Fields, uint64, error) {
	entry, err := s.kv.Get(ctx, recordID)
	if eris.Is(err, jetstream.ErrKeyNotFound) {
		return nil, 0, nil
	} else if err != nil {
		return nil, 0, unavailable(err, "failed to read %s", recordID)
	}

	var fields Fields
	if err := json.Unmarshal(entry.Value(), &fields); err != nil {
		return nil, 0, eris.Wrapf(err, "failed to decode record %q", recordID)
	}
	return fields, entry.Revision(), nil
}
