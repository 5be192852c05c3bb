// Package room derives a session's identity from the host locator.
package room

import (
	"context"
	"fmt"

	"collabtext/internal/store"
)

type Role int

const (
	// Creator minted the room token.
	Creator Role = iota + 1
	// Joiner arrived with an existing token.
	Joiner
)

func (r Role) String() string {
	switch r {
	case Creator:
		return "creator"
	case Joiner:
		return "joiner"
	default:
		return "unknown"
	}
}

// Identity is fixed for the life of a session.
type Identity struct {
	ID     string
	Handle store.Handle
	Role   Role
	// Fragment is what the locator should carry; it differs from the
	// input fragment only for a creator.
	Fragment string
}

// Resolve treats a non-empty fragment verbatim as the room token. An empty
// fragment mints a new channel, which makes the caller its creator.
func Resolve(ctx context.Context, s store.Store, fragment string) (Identity, error) {
	if fragment != "" {
		h := s.FromToken(fragment)
		return Identity{ID: h.ID, Handle: h, Role: Joiner, Fragment: fragment}, nil
	}
	h, err := s.CreateUnique(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("mint room: %w", err)
	}
	return Identity{ID: h.ID, Handle: h, Role: Creator, Fragment: h.ID}, nil
}
