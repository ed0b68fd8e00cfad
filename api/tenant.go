/*
tenant.go - Tenant resolution middleware

PURPOSE:
  Every budget route is tenant-scoped. This middleware decides which
  tenant a request acts for and stores it in the request context; the
  handlers then obtain a tenant-bound store from the StoreFactory.

RESOLUTION ORDER:
  JWT secret configured:
    Authorization: Bearer <HS256 token> with a "tenant_id" claim.
    Missing or invalid token -> 401. Token without tenant -> 400.
  No JWT secret:
    1. the configured header (default X-Tenant-ID)
    2. the "tenant" query parameter
    Neither present -> 400.

SEE ALSO:
  - config/config.go: AuthConfig
  - budget/store.go: StoreFactory
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/logging"
)

// TenantClaim is the JWT claim carrying the tenant id.
const TenantClaim = "tenant_id"

// TenantQueryParam is the fallback query parameter when no header is set.
const TenantQueryParam = "tenant"

var errNoToken = errors.New("missing bearer token")

type tenantKey struct{}

// TenantOptions configures tenant resolution.
type TenantOptions struct {
	JWTSecret string
	Header    string
}

// WithTenant stores the tenant in ctx.
func WithTenant(ctx context.Context, tenant budget.TenantID) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

// TenantFromContext returns the tenant resolved for the request, or "".
func TenantFromContext(ctx context.Context) budget.TenantID {
	t, _ := ctx.Value(tenantKey{}).(budget.TenantID)
	return t
}

// Tenant resolves the request tenant and rejects requests without one.
func Tenant(opts TenantOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var tenant string
			if opts.JWTSecret != "" {
				claims, err := parseToken(r, opts.JWTSecret)
				if err != nil {
					writeError(w, http.StatusUnauthorized, "Invalid or missing token", err)
					return
				}
				tenant, _ = claims[TenantClaim].(string)
			} else {
				if opts.Header != "" {
					tenant = r.Header.Get(opts.Header)
				}
				if tenant == "" {
					tenant = r.URL.Query().Get(TenantQueryParam)
				}
			}

			tenant = strings.TrimSpace(tenant)
			if tenant == "" {
				writeError(w, http.StatusBadRequest, "Tenant is required", nil)
				return
			}

			ctx := WithTenant(r.Context(), budget.TenantID(tenant))
			log := logging.FromContext(ctx).With().Str("tenant_id", tenant).Logger()
			ctx = logging.WithContext(ctx, log)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseToken(r *http.Request, secret string) (jwt.MapClaims, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return nil, errNoToken
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}
