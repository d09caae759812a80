package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func signToken(t *testing.T, secret string, method jwt.SigningMethod, claims Claims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func TestParseToken(t *testing.T) {
	const secret = "test-secret"
	m := NewMiddleware(secret, nil)
	userID := uuid.New()

	valid := Claims{
		Email: "owner@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	t.Run("valid", func(t *testing.T) {
		claims, err := m.parseToken(signToken(t, secret, jwt.SigningMethodHS256, valid))
		if err != nil {
			t.Fatalf("parseToken: %v", err)
		}
		if claims.Subject != userID.String() {
			t.Errorf("subject = %q, want %q", claims.Subject, userID)
		}
		if claims.Email != "owner@example.com" {
			t.Errorf("email = %q", claims.Email)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		if _, err := m.parseToken(signToken(t, "other-secret", jwt.SigningMethodHS256, valid)); err == nil {
			t.Fatal("token signed with another secret must be rejected")
		}
	})

	t.Run("expired", func(t *testing.T) {
		expired := valid
		expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		if _, err := m.parseToken(signToken(t, secret, jwt.SigningMethodHS256, expired)); err == nil {
			t.Fatal("expired token must be rejected")
		}
	})

	t.Run("no expiry", func(t *testing.T) {
		open := valid
		open.ExpiresAt = nil
		if _, err := m.parseToken(signToken(t, secret, jwt.SigningMethodHS256, open)); err == nil {
			t.Fatal("token without an expiry must be rejected")
		}
	})

	t.Run("wrong algorithm", func(t *testing.T) {
		if _, err := m.parseToken(signToken(t, secret, jwt.SigningMethodHS384, valid)); err == nil {
			t.Fatal("non-HS256 token must be rejected")
		}
	})
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer abc.def.ghi", "abc.def.ghi", true},
		{"Bearer ", "", false},
		{"Basic dXNlcjpwYXNz", "", false},
		{"abc.def.ghi", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := bearerToken(tt.header)
		if ok != tt.ok || got != tt.want {
			t.Errorf("bearerToken(%q) = (%q, %v), want (%q, %v)", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}
