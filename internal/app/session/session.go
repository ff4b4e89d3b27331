package session

import (
	"context"
	"errors"
	"github.com/golang-jwt/jwt"
	"metalink/internal/app/model"
)

var ErrInvalidToken = errors.New("invalid token")

// Reader verifies a bearer credential and resolves the account it belongs to.
type Reader interface {
	Read(ctx context.Context, token string) (*model.Account, error)
}

// Creator issues credentials. Production credentials come from the external
// auth provider, this is used by tooling and tests sharing the secret.
type Creator interface {
	Create(ctx context.Context, a *model.Account) (string, error)
}

type Manager interface {
	Reader
	Creator
}

type Claims struct {
	jwt.StandardClaims
}
