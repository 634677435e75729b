package database

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/optiflow/optiflow-engine/pkg/auth"
	"github.com/optiflow/optiflow-engine/pkg/tenant"
)

// IncludePublicParam is the query parameter that opts a read into public records.
const IncludePublicParam = "include_public"

// WithTenantContext creates middleware that derives the caller's tenant.Context.
// It runs AFTER auth middleware and uses the identity from JWT claims.
// Callers without any identity are refused unless they hold adminRole,
// since an identity-free context is not filtered at all.
func WithTenantContext(adminRole string, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.GetClaims(r.Context())
			if !ok || claims == nil {
				logger.Error("Missing claims in request context",
					zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal_error", "Missing authentication context")
				return
			}

			tc := claims.TenantContext(adminRole)
			if !tc.IsAdmin && !tc.HasIdentity() {
				logger.Warn("Request without tenant identity refused",
					zap.String("path", r.URL.Path),
					zap.String("issuer", claims.Issuer))
				writeError(w, http.StatusForbidden, "forbidden", "No tenant identity")
				return
			}

			if raw := r.URL.Query().Get(IncludePublicParam); raw != "" {
				include, err := strconv.ParseBool(raw)
				if err != nil {
					writeError(w, http.StatusBadRequest, "invalid_parameter", "include_public must be a boolean")
					return
				}
				tc.IncludePublic = include
			}

			next(w, r.WithContext(tenant.WithContext(r.Context(), tc)))
		}
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
