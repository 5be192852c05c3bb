package session

import (
	"context"
	"io"

	"collabtext/internal/store"
)

// Editor is the text-editing widget as seen by a merge engine: a stream of
// local edits out and remote edits in. Edits are opaque here.
type Editor interface {
	Edits() <-chan []byte
	Apply(op []byte) error
}

// MergeEngine reconciles concurrent edits for one room. The controller
// attaches it once at start and closes the returned detacher at teardown.
type MergeEngine interface {
	Attach(ctx context.Context, h store.Handle, ed Editor) (io.Closer, error)
}
