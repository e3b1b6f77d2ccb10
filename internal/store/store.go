package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/evyataryagoni/iptracker/internal/models"
)

var (
	// ErrDuplicate is returned by Insert when a record for the address
	// already exists. Nothing is written in that case.
	ErrDuplicate = errors.New("IP address already recorded")

	// ErrNotFound is returned by FindByIP for unknown addresses
	ErrNotFound = errors.New("IP address not found")
)

// StorageError wraps a failure of the underlying datastore
type StorageError struct {
	Op  string // exists, insert, find, ping
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("datastore %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Store persists IP records keyed by canonical IP address.
// Implementations: SQLStore (postgres, mysql, sqlite via GORM),
// RedisStore, and MockStore for tests.
//
// Uniqueness is enforced by the datastore itself: Insert is one atomic
// constrained write, so concurrent inserts for the same address produce
// exactly one success and ErrDuplicate for the rest.
type Store interface {
	// Exists reports whether a record for ip is stored
	Exists(ctx context.Context, ip string) (bool, error)

	// Insert writes rec, or returns ErrDuplicate and writes nothing.
	// On success rec.ID and rec.Timestamp reflect the stored row.
	Insert(ctx context.Context, rec *models.IPRecord) error

	// FindByIP returns the stored record or ErrNotFound
	FindByIP(ctx context.Context, ip string) (*models.IPRecord, error)

	// Ping checks that the datastore is reachable
	Ping(ctx context.Context) error

	// Close cleans up resources (database connections, clients, etc.)
	Close() error
}
