package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

type contextKey string

const (
	claimsKey       contextKey = "admin_claims"
	claimsHolderKey contextKey = "admin_claims_holder"
)

// ScopeGlobal grants access to the default rules shared by every tenant.
const ScopeGlobal = "global"

// DefaultTokenTTL is the lifetime of tokens minted by the CLI.
const DefaultTokenTTL = 24 * time.Hour

const issuer = "tenantpbx"

// Claims identifies an admin API caller. Every token is bound to one tenant;
// the global scope additionally allows editing default rules.
type Claims struct {
	Tenant string   `json:"tenant"`
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token carries scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// GenerateToken signs a token for subject acting within tenant.
func GenerateToken(secret []byte, subject, tenant string, scopes []string, ttl time.Duration) (string, time.Time, error) {
	if tenant == "" {
		return "", time.Time{}, errors.New("tenant is required")
	}
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := Claims{
		Tenant: tenant,
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    issuer,
			Subject:   subject,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// RequireAuth returns middleware that validates HS256 bearer tokens and
// stores the claims in the request context.
func RequireAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") {
				writeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			if claims.Tenant == "" || claims.Issuer != issuer {
				writeError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}

			if holder, ok := r.Context().Value(claimsHolderKey).(*claimsHolder); ok {
				holder.claims = claims
			}
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope rejects callers whose token lacks scope. Mount it after
// RequireAuth.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil || !claims.HasScope(scope) {
				writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFromContext returns the authenticated caller, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}

// TenantFromContext returns the authenticated caller's tenant, or "".
func TenantFromContext(ctx context.Context) string {
	if claims := ClaimsFromContext(ctx); claims != nil {
		return claims.Tenant
	}
	return ""
}

// claimsHolder carries claims from RequireAuth back up to StructuredLogger.
type claimsHolder struct {
	claims *Claims
}

func withClaimsHolder(ctx context.Context, h *claimsHolder) context.Context {
	return context.WithValue(ctx, claimsHolderKey, h)
}
