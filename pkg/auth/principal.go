package auth

import (
	"context"
	"errors"
)

// ErrNoPrincipal is returned when a context carries no authenticated caller.
var ErrNoPrincipal = errors.New("auth: no principal in context")

// Principal is an authenticated caller.
type Principal interface {
	Account() AccountID
}

// BasePrincipal carries just an account id, which is all the sponsorship
// routes need from a verified token.
type BasePrincipal struct {
	ID AccountID
}

func (b *BasePrincipal) Account() AccountID { return b.ID }

type principalKey struct{}

// WithPrincipal stores p for downstream handlers.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// GetPrincipal returns the Principal stored by the middleware, or
// ErrNoPrincipal when the request was never authenticated.
func GetPrincipal(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok {
		return nil, ErrNoPrincipal
	}
	return p, nil
}

// CallerAccount resolves the account behind the request.
func CallerAccount(ctx context.Context) (AccountID, error) {
	p, err := GetPrincipal(ctx)
	if err != nil {
		return "", err
	}
	return p.Account(), nil
}
