package user

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"conify/internal/common"
	"conify/internal/config"
)

// Resolver maps a bearer credential to the account it belongs to.
type Resolver struct {
	secret []byte
	users  UserRepository
	log    *zap.Logger
}

// NewResolver builds a resolver. With a nil repository the token claims are
// trusted as-is.
func NewResolver(cfg *config.Config, users UserRepository, log *zap.Logger) *Resolver {
	return &Resolver{
		secret: []byte(cfg.Auth.JWTSecret),
		users:  users,
		log:    log.Named("identity"),
	}
}

func (r *Resolver) Resolve(ctx context.Context, token string) (common.Identity, error) {
	if token == "" {
		return common.Identity{}, fmt.Errorf("missing credential: %w", common.ErrUnauthenticated)
	}
	claims, err := common.ValidToken(r.secret, token)
	if err != nil {
		return common.Identity{}, fmt.Errorf("%w: %v", common.ErrUnauthenticated, err)
	}
	if r.users == nil {
		return common.UserIdentity(claims.UserID, claims.Handle), nil
	}

	u, err := r.users.GetUserByID(ctx, claims.UserID)
	if errors.Is(err, common.ErrNotFound) {
		return common.Identity{}, fmt.Errorf("user %d is not active: %w", claims.UserID, common.ErrUnauthenticated)
	}
	if err != nil {
		r.log.Error("account lookup failed", zap.Int64("user_id", claims.UserID), zap.Error(err))
		return common.Identity{}, err
	}
	return common.UserIdentity(u.UserID, u.Handle), nil
}

var _ common.IdentityResolver = (*Resolver)(nil)
