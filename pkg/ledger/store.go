package ledger

import (
	"context"

	"github.com/rotisserie/eris"
)

var (
	// ErrNotFound is returned when a record or field does not exist.
	ErrNotFound = eris.New("record not found")
	// ErrUnavailable is returned when the backing store cannot be reached. Nothing was written.
	ErrUnavailable = eris.New("ledger store unavailable")
	// ErrNegativeValue is returned when a mutation would leave a counter below zero.
	ErrNegativeValue = eris.New("value cannot be negative")
	// ErrConflict is returned when an optimistic update lost the race too many times. It is a kind
	// of ErrUnavailable: nothing was written.
	ErrConflict = eris.Wrap(ErrUnavailable, "concurrent update conflict")
)

// maxUpdateAttempts bounds the optimistic retry loops of the Redis and JetStream backends.
const maxUpdateAttempts = 64

// Fields is a record's field set, keyed by field name. Values are stored as strings.
type Fields map[string]string

// Clone returns a copy of f. A nil f yields an empty non-nil map.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// UpdateFunc computes the new field set of a record from its current one. It receives a copy it
// may modify in place. Returning an error aborts the update and nothing is written. fn may be
// called more than once when the backend retries after a conflict, so it must not have side
// effects.
type UpdateFunc func(fields Fields) error

// Store is a keyed record store. Each record is a flat map of string fields.
type Store interface {
	// Get returns one field of a record. Returns ErrNotFound if the record or field is missing.
	Get(ctx context.Context, recordID, field string) (string, error)

	// Set writes one field of a record, creating the record if needed.
	Set(ctx context.Context, recordID, field, value string) error

	// Load returns all fields of a record. Returns ErrNotFound if the record is missing.
	Load(ctx context.Context, recordID string) (Fields, error)

	// Update runs a read-compute-write on a record atomically with respect to every other
	// writer of the same backend. A missing record is passed to fn as an empty field set.
	Update(ctx context.Context, recordID string, fn UpdateFunc) error

	// Close releases the connection to the backend.
	Close() error
}
