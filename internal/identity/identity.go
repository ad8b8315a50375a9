// Package identity turns a platform credential into a stable anonymous user
// id and issues the bearer tokens the API authenticates with.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/abhisek/mathbuddy/internal/logger"
)

// ErrUnavailable means the identity collaborator could not resolve the
// credential. Callers fall back to anonymous, local-only operation.
var ErrUnavailable = errors.New("identity unavailable")

// Exchanger exchanges a client credential for a user id.
type Exchanger interface {
	Exchange(ctx context.Context, credential string) (string, error)
}

// DerivedExchanger derives a deterministic UUIDv5 from a salt and the
// credential. The same credential always yields the same id.
type DerivedExchanger struct {
	namespace uuid.UUID
}

func NewDerivedExchanger(salt string) *DerivedExchanger {
	return &DerivedExchanger{namespace: uuid.NewSHA1(uuid.NameSpaceURL, []byte("mathbuddy:"+salt))}
}

func (d *DerivedExchanger) Exchange(_ context.Context, credential string) (string, error) {
	return uuid.NewSHA1(d.namespace, []byte(credential)).String(), nil
}

type Resolver struct {
	exchanger Exchanger
	log       *logger.Logger
}

func NewResolver(ex Exchanger, log *logger.Logger) *Resolver {
	return &Resolver{exchanger: ex, log: log.With("service", "IdentityResolver")}
}

// Resolve returns the user id for credential. Any collaborator failure is
// reported as ErrUnavailable.
func (r *Resolver) Resolve(ctx context.Context, credential string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", fmt.Errorf("%w: empty credential", ErrUnavailable)
	}
	id, err := r.exchanger.Exchange(ctx, credential)
	if err != nil {
		r.log.Warn("identity exchange failed", "error", err)
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if id == "" {
		return "", fmt.Errorf("%w: empty user id", ErrUnavailable)
	}
	return id, nil
}
