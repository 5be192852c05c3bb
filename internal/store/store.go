// Package store is the boundary to the real-time data store that carries
// one shared value per room channel.
//
// Every backend offers the same contract: the current value is delivered
// on subscribe and again on every change, updates merge keys into the
// existing value, and a removed channel is delivered as nil. Nothing is
// acknowledged; callers converge on timers rather than retries.
package store

import (
	"context"
	"errors"
)

// ErrUnavailable is wrapped by every backend when the store cannot be reached.
var ErrUnavailable = errors.New("store unavailable")

// Handle names one channel. ID is the shareable session token.
type Handle struct {
	ID string
}

// Subscription stops delivery when closed.
type Subscription interface {
	Close() error
}

// Store is the pub/sub channel protocol consumed by the session layer.
type Store interface {
	// CreateUnique mints a new uniquely named channel.
	CreateUnique(ctx context.Context) (Handle, error)
	// FromToken resolves the handle of an existing channel without I/O.
	FromToken(token string) Handle
	// Subscribe delivers the current value immediately and then every
	// subsequent change. A nil message means the channel is empty.
	Subscribe(ctx context.Context, h Handle, fn func(*Message)) (Subscription, error)
	// Update merges the present keys of partial into the channel value.
	Update(ctx context.Context, h Handle, partial Message) error
	// Remove deletes the channel value. Removing an empty channel is not an error.
	Remove(ctx context.Context, h Handle) error
}

type subscriptionFunc func() error

func (f subscriptionFunc) Close() error { return f() }
