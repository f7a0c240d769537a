package common

import (
	"context"
	"strconv"

	"github.com/google/uuid"
)

const anonymousPrefix = "anon-"

// Identity is the principal attached to a realtime session or HTTP request.
// Anonymous identities have UserID 0 and a generated name.
type Identity struct {
	UserID    int64
	Name      string
	Anonymous bool
}

func UserIdentity(userID int64, handle string) Identity {
	name := handle
	if name == "" {
		name = strconv.FormatInt(userID, 10)
	}
	return Identity{UserID: userID, Name: name}
}

func AnonymousIdentity() Identity {
	return Identity{Name: anonymousPrefix + uuid.NewString(), Anonymous: true}
}

// Authenticated reports whether the identity may be targeted by private delivery.
func (i Identity) Authenticated() bool {
	return !i.Anonymous && i.UserID > 0
}

func (i Identity) String() string {
	return i.Name
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// UserIDFromContext returns the authenticated user on the context, if any.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := IdentityFromContext(ctx)
	if !ok || !id.Authenticated() {
		return 0, false
	}
	return id.UserID, true
}
