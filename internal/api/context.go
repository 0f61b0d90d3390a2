package api

import (
	"context"

	"shopauth/internal/identity"
)

type ctxKey string

const ctxKeyUser ctxKey = "user"

func WithUser(ctx context.Context, u *identity.User) context.Context {
	return context.WithValue(ctx, ctxKeyUser, u)
}

func UserFromContext(ctx context.Context) *identity.User {
	v := ctx.Value(ctxKeyUser)
	if v == nil {
		return nil
	}
	u, _ := v.(*identity.User)
	return u
}
