package storage

import (
	"context"

	sessionerrors "github.com/jrsteele09/parrot-session/internal/errors"
)

// ErrNotFound is returned by Get when the key has never been written or was deleted.
var ErrNotFound = sessionerrors.ErrNotFound

// Store is device local key/value storage. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the value for key, or ErrNotFound
	Get(ctx context.Context, key string) (string, error)

	// Set creates or overwrites the value for key
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error
	Delete(ctx context.Context, key string) error
}
