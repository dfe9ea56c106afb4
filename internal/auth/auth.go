// Package auth verifies bearer credentials presented by REST callers and real-time
// connections. Token issuance lives outside taskpulse; this package only checks them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/taskpulse/taskpulse/internal/models"
)

// Sentinel reasons wrapped by AuthError.
var (
	ErrMissingToken = errors.New("token missing")
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownUser  = errors.New("user not found")
)

// AuthError is returned when a credential is missing, malformed, expired or resolves to
// no existing user.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return "authentication error: " + e.Err.Error()
}

func (e *AuthError) Unwrap() error { return e.Err }

// Verifier resolves a bearer token to the user it identifies.
type Verifier interface {
	Verify(ctx context.Context, token string) (*models.User, error)
}

// UserLookup is the slice of the store the verifier needs.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// Claims is the token payload. UserID falls back to the registered subject.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HMAC-signed JWTs and confirms the user still exists.
type JWTVerifier struct {
	secret []byte
	issuer string
	users  UserLookup
}

// NewJWTVerifier creates a verifier. An empty issuer accepts any issuer.
func NewJWTVerifier(secret, issuer string, users UserLookup) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer, users: users}
}

// Verify parses token and loads its user. Every failure is an *AuthError.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (*models.User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, &AuthError{Err: ErrMissingToken}
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, &AuthError{Err: fmt.Errorf("%w: %v", ErrInvalidToken, err)}
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return nil, &AuthError{Err: fmt.Errorf("%w: no user id claim", ErrInvalidToken)}
	}

	user, err := v.users.GetUser(ctx, userID)
	if err != nil || user == nil {
		return nil, &AuthError{Err: ErrUnknownUser}
	}
	return user, nil
}

// BearerToken extracts the token from an "Authorization: Bearer ..." header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

type ctxKey struct{}

// WithUser stores the authenticated user in ctx.
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFromContext returns the user stored by WithUser, or nil.
func UserFromContext(ctx context.Context) *models.User {
	u, _ := ctx.Value(ctxKey{}).(*models.User)
	return u
}
