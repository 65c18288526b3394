// Package identity assigns stable chat identities to connecting clients.
// An identity is a short base58 token bound to the client's network origin,
// so a reconnect from the same address gets the same identity back.
package identity

import (
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"
)

// tokenGenerator mints new identity tokens. A variable so tests can make
// token generation deterministic.
var tokenGenerator = func() (string, error) {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base58.Encode(buf[:]), nil
}

// Registry is the slice of the history store the assigner needs.
type Registry interface {
	FindIdentityByOrigin(origin string) (string, bool, error)
	PutIdentityIfAbsent(identity, origin string) (string, error)
}

// Assigner maps connection origins to identities via the identity registry.
type Assigner struct {
	registry Registry
}

// NewAssigner creates an Assigner backed by the given registry.
func NewAssigner(registry Registry) *Assigner {
	return &Assigner{registry: registry}
}

// Assign returns the identity bound to origin, minting and persisting a new
// token on first contact. Within one process PutIdentityIfAbsent collapses
// a first-contact race to a single stored identity; across processes
// sharing a store the later write wins, which is accepted.
func (a *Assigner) Assign(origin string) (string, error) {
	identity, found, err := a.registry.FindIdentityByOrigin(origin)
	if err != nil {
		return "", fmt.Errorf("look up identity for %q: %w", origin, err)
	}
	if found {
		return identity, nil
	}

	minted, err := tokenGenerator()
	if err != nil {
		return "", fmt.Errorf("mint identity token: %w", err)
	}
	bound, err := a.registry.PutIdentityIfAbsent(minted, origin)
	if err != nil {
		return "", fmt.Errorf("persist identity for %q: %w", origin, err)
	}
	return bound, nil
}
