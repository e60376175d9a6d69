package storage

import (
	"context"
	"errors"
	"fmt"
)

/*
Package storage defines the block-store abstraction behind extent trees. An
extent, once written, is immutable; providers only need whole-object put and
get. Implementations exist for memory (tests), a local directory, and
S3-compatible object storage.
*/

////////////////////////////////////////////////////////////////////////////////

// ErrObjectNotFound is returned when a requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Provider is a whole-object block store.
type Provider interface {
	// Put stores an object under the given ID, overwriting any prior object.
	Put(ctx context.Context, id string, data []byte) error
	// Get retrieves an object by ID.
	Get(ctx context.Context, id string) ([]byte, error)
	// Delete removes an object by ID.
	Delete(ctx context.Context, id string) error

	fmt.Stringer
}
