package artifact

import (
	"context"
	"errors"
	"io"
)

// Handle is an opaque reference to a published artifact. Handles only become
// visible once publish has completed, so readers never observe a partial write.
type Handle string

var ErrNotFound = errors.New("artifact not found")

type Store interface {
	Publish(ctx context.Context, runID int64, r io.Reader) (Handle, error)
	Fetch(ctx context.Context, h Handle) (io.ReadCloser, error)
}
