package session

import (
	"context"
	"fmt"
	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
	"metalink/internal/app/logger"
	"metalink/internal/app/model"
	"time"
)

// session.Manager interface implementation
var _ Manager = (*JWT)(nil)

// JWT verifies HS256 tokens signed with a shared secret. The token subject
// is the account id.
type JWT struct {
	issuer        string
	secretKey     []byte
	tokenLifetime time.Duration
	now           func() time.Time
}

func (svc *JWT) LoggerComponent() string {
	return "Session.JWT"
}

type JWTOption func(*JWT)

func WithIssuer(issuer string) JWTOption {
	return func(s *JWT) {
		s.issuer = issuer
	}
}

func WithTokenLifetime(d time.Duration) JWTOption {
	return func(s *JWT) {
		s.tokenLifetime = d
	}
}

func WithClock(now func() time.Time) JWTOption {
	return func(s *JWT) {
		s.now = now
	}
}

func NewJWT(secretKey string, opts ...JWTOption) *JWT {
	s := &JWT{
		secretKey:     []byte(secretKey),
		tokenLifetime: time.Hour,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Create method of session.Creator implementation
func (svc *JWT) Create(ctx context.Context, a *model.Account) (string, error) {
	l := logger.Get(ctx, svc)
	l.Debug().Str("account_id", a.ID).Msg("Create")

	now := svc.now()
	claims := &Claims{
		StandardClaims: jwt.StandardClaims{
			Id:        uuid.New().String(),
			Subject:   a.ID,
			IssuedAt:  now.Unix(),
			NotBefore: now.Unix(),
			ExpiresAt: now.Add(svc.tokenLifetime).Unix(),
			Issuer:    svc.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	strToken, err := token.SignedString(svc.secretKey)
	if err != nil {
		l.Error().Err(err).Send()

		return "", fmt.Errorf("jwt encode: %w", err)
	}

	return strToken, nil
}

// Read method of session.Reader implementation
func (svc *JWT) Read(ctx context.Context, tokenString string) (*model.Account, error) {
	l := logger.Get(ctx, svc)
	l.Debug().Msg("Read request")

	c := &Claims{}
	parser := &jwt.Parser{SkipClaimsValidation: true}

	token, err := parser.ParseWithClaims(tokenString, c, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return svc.secretKey, nil
	})

	if err != nil {
		l.Debug().Err(err).Msg("ParseWithClaims failed")

		return nil, ErrInvalidToken
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		l.Debug().Msg("Invalid token")

		return nil, ErrInvalidToken
	}

	now := svc.now().Unix()
	if c.ExpiresAt == 0 || !c.VerifyExpiresAt(now, true) || !c.VerifyNotBefore(now, false) {
		l.Debug().Str("token_id", c.Id).Msg("Token expired or not yet valid")

		return nil, ErrInvalidToken
	}

	if svc.issuer != "" && !c.VerifyIssuer(svc.issuer, true) {
		l.Debug().Str("issuer", c.Issuer).Msg("Unexpected issuer")

		return nil, ErrInvalidToken
	}

	if c.Subject == "" {
		l.Debug().Str("token_id", c.Id).Msg("Token without subject")

		return nil, ErrInvalidToken
	}

	return &model.Account{ID: c.Subject}, nil
}
