package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spendsight/spendsight/internal/tenant"
)

// Claims is the token payload. The subject is the user id; tenant membership
// is resolved from the database, never trusted from the token.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Middleware authenticates requests with an HS256 bearer token and loads the
// user's tenant into the request context.
type Middleware struct {
	secret  []byte
	tenants *tenant.Service
}

func NewMiddleware(secret string, tenants *tenant.Service) *Middleware {
	return &Middleware{secret: []byte(secret), tenants: tenants}
}

func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			unauthorized(w, "missing bearer token")
			return
		}

		claims, err := m.parseToken(raw)
		if err != nil {
			unauthorized(w, "invalid token")
			return
		}

		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			unauthorized(w, "invalid subject")
			return
		}

		ctx := r.Context()
		user, err := m.tenants.GetUserByID(ctx, userID)
		if err != nil {
			unauthorized(w, "unknown user")
			return
		}
		t, err := m.tenants.GetByID(ctx, user.TenantID)
		if err != nil {
			unauthorized(w, "unknown tenant")
			return
		}

		ctx = tenant.WithTenant(ctx, t)
		ctx = tenant.WithUser(ctx, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// parseToken verifies the signature and the registered claims. Tokens without
// an expiry are rejected outright.
func (m *Middleware) parseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (interface{}, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return claims, nil
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
