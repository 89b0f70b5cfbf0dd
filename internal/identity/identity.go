// Package identity binds a verified user identity to a live connection.
//
// Credential checking is delegated to a Verifier; the Binder only enforces
// that a connection is bound at most once and that a failed attempt leaves
// it anonymous.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
)

var (
	ErrAuth              = errors.New("authentication failed")
	ErrAlreadyIdentified = errors.New("connection already identified")
)

// Identity is the stable user identity attached to a connection.
type Identity struct {
	UserID uint64
	Label  string
}

func (id Identity) String() string { return strconv.FormatUint(id.UserID, 10) }

// Verifier validates an opaque credential.
type Verifier interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

// Bindable is a connection that can carry an identity for its lifetime.
type Bindable interface {
	Identity() (Identity, bool)
	// BindIdentity attaches id and reports false if an identity was
	// already bound.
	BindIdentity(id Identity) bool
}

type Binder struct {
	verifier Verifier
	logger   zerolog.Logger
}

func NewBinder(v Verifier, logger zerolog.Logger) *Binder {
	return &Binder{verifier: v, logger: logger}
}

// Identify verifies credential and binds the result to conn.
func (b *Binder) Identify(ctx context.Context, conn Bindable, credential string) (Identity, error) {
	if cur, ok := conn.Identity(); ok {
		return cur, ErrAlreadyIdentified
	}
	if credential == "" {
		return Identity{}, fmt.Errorf("%w: missing credential", ErrAuth)
	}

	id, err := b.verifier.Verify(ctx, credential)
	if err != nil {
		b.logger.Debug().Err(err).Msg("credential rejected")
		if errors.Is(err, ErrAuth) {
			return Identity{}, err
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if !conn.BindIdentity(id) {
		cur, _ := conn.Identity()
		return cur, ErrAlreadyIdentified
	}
	return id, nil
}
