package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/taskpulse/taskpulse/internal/models"
)

type mockUsers map[string]*models.User

func (m mockUsers) GetUser(_ context.Context, id string) (*models.User, error) {
	u, ok := m[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return u, nil
}

func sign(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestJWTVerifier(t *testing.T) {
	users := mockUsers{"u1": {ID: "u1", Name: "Ada", Role: models.RoleMember}}
	v := NewJWTVerifier("secret", "", users)
	ctx := context.Background()

	good := sign(t, "secret", Claims{UserID: "u1"})
	u, err := v.Verify(ctx, good)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if u.ID != "u1" {
		t.Errorf("Expected u1, got %s", u.ID)
	}

	subjectOnly := sign(t, "secret", Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}})
	if _, err := v.Verify(ctx, subjectOnly); err != nil {
		t.Errorf("Subject fallback failed: %v", err)
	}

	expired := sign(t, "secret", Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}})

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{"missing", "", ErrMissingToken},
		{"garbage", "not-a-jwt", ErrInvalidToken},
		{"wrong secret", sign(t, "other", Claims{UserID: "u1"}), ErrInvalidToken},
		{"expired", expired, ErrInvalidToken},
		{"no user claim", sign(t, "secret", Claims{}), ErrInvalidToken},
		{"unknown user", sign(t, "secret", Claims{UserID: "ghost"}), ErrUnknownUser},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(ctx, tc.token)
			var authErr *AuthError
			if !errors.As(err, &authErr) {
				t.Fatalf("Expected *AuthError, got %v", err)
			}
			if !errors.Is(err, tc.want) {
				t.Errorf("Expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestJWTVerifierIssuer(t *testing.T) {
	users := mockUsers{"u1": {ID: "u1"}}
	v := NewJWTVerifier("secret", "taskpulse", users)

	wrong := sign(t, "secret", Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{Issuer: "elsewhere"}})
	if _, err := v.Verify(context.Background(), wrong); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected issuer mismatch to fail, got %v", err)
	}
	right := sign(t, "secret", Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{Issuer: "taskpulse"}})
	if _, err := v.Verify(context.Background(), right); err != nil {
		t.Errorf("Expected matching issuer to pass, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if got := BearerToken(r); got != "" {
		t.Errorf("Expected empty token, got %q", got)
	}
	r.Header.Set("Authorization", "Bearer abc.def")
	if got := BearerToken(r); got != "abc.def" {
		t.Errorf("Expected abc.def, got %q", got)
	}
	r.Header.Set("Authorization", "Basic xyz")
	if got := BearerToken(r); got != "" {
		t.Errorf("Expected empty token for basic auth, got %q", got)
	}
}

func TestUserContext(t *testing.T) {
	if UserFromContext(context.Background()) != nil {
		t.Error("Expected nil user on bare context")
	}
	u := &models.User{ID: "u1"}
	if got := UserFromContext(WithUser(context.Background(), u)); got != u {
		t.Errorf("Expected stored user, got %+v", got)
	}
}
