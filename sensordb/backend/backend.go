package backend

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrObjectDoesNotExist is returned by Read and Stat when the requested
// partition object is absent. Callers treat it as an empty partition, not as
// a failure.
var ErrObjectDoesNotExist = errors.New("object does not exist")

// Attributes describe a stored partition object.
type Attributes struct {
	Size         int64
	LastModified time.Time
}

// HealthReport is the outcome of probing a backend.
type HealthReport struct {
	Healthy     bool              `json:"healthy"`
	Diagnostics map[string]string `json:"diagnostics,omitempty"`
}

// Backend is the narrow storage surface the query engine consumes. Partition
// objects are read-only from the engine's perspective; Write exists for the
// rebuilder.
type Backend interface {
	// List returns the object paths under prefix. Implementations cache
	// listings with a short TTL; ClearListingCache invalidates them.
	List(ctx context.Context, prefix string) ([]string, error)

	// Read returns the object bytes at path, or ErrObjectDoesNotExist.
	Read(ctx context.Context, path string) ([]byte, error)

	Exists(ctx context.Context, path string) (bool, error)

	Stat(ctx context.Context, path string) (*Attributes, error)

	// Write stores data at path, overwriting any previous object and
	// creating intermediate structure as needed.
	Write(ctx context.Context, path string, data []byte) error

	// Health probes the backend and reports a boolean plus diagnostics.
	// It never returns an error; failures show up in the report.
	Health(ctx context.Context) *HealthReport

	ClearListingCache()

	Shutdown()
}

// IsNotFound reports whether err means the object is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectDoesNotExist)
}
