package identity

import (
	"context"
	"errors"
	"time"

	"creator-booking/pkg/config"

	jwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/fx"
)

var Module = fx.Module("identity", fx.Provide(ProvideLookup))

var ErrInvalidCredential = errors.New("invalid credential")

// Lookup resolves a bearer credential to a user id.
type Lookup interface {
	UserID(ctx context.Context, credential string) (string, error)
}

type Claims struct {
	jwt.RegisteredClaims
}

type JWTLookup struct {
	secret []byte
	issuer string
}

func ProvideLookup(cfg *config.Config) Lookup {
	return NewJWTLookup(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
}

func NewJWTLookup(secret, issuer string) *JWTLookup {
	return &JWTLookup{secret: []byte(secret), issuer: issuer}
}

func (l *JWTLookup) UserID(ctx context.Context, credential string) (string, error) {
	if len(l.secret) == 0 || credential == "" {
		return "", ErrInvalidCredential
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if l.issuer != "" {
		opts = append(opts, jwt.WithIssuer(l.issuer))
	}

	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return l.secret, nil
	}, opts...)
	if err != nil {
		return "", errors.Join(ErrInvalidCredential, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidCredential
	}

	return claims.Subject, nil
}

// Issue signs a token for userID. Tokens are normally minted by the auth
// service; this exists for the ops CLI and tests.
func (l *JWTLookup) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    l.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(l.secret)
}

type userIDKey struct{}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFrom returns the authenticated user id, or false for anonymous callers.
func UserIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey{}).(string)
	return id, ok && id != ""
}
