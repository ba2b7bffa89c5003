// Package auth carries the caller identity resolved by the HTTP layer into
// the domain services.
package auth

import (
	"context"

	"ridecore/internal/types"
)

type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
	// RoleSystem is used for background jobs such as request expiry.
	RoleSystem Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleRider, RoleDriver, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Identity is the authenticated caller of an operation.
type Identity struct {
	UserID types.ID
	Role   Role
}

func System() Identity {
	return Identity{UserID: "system", Role: RoleSystem}
}

func (i Identity) Is(role Role) bool { return i.Role == role }

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
