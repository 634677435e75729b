package auth

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Middleware provides HTTP authentication middleware.
// It is thin and delegates authentication logic to AuthService.
type Middleware struct {
	authService AuthService
	adminRole   string
	logger      *zap.Logger
}

// NewMiddleware creates a new auth middleware with the given AuthService.
// Tokens holding adminRole are accepted without a tenant identity.
func NewMiddleware(authService AuthService, adminRole string, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		adminRole:   adminRole,
		logger:      logger,
	}
}

// RequireAuth validates the JWT and requires it to carry a tenant identity
// unless it grants the admin role.
// Sets claims and token in context for downstream handlers.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, token, err := m.authService.ValidateRequest(r)
		if err != nil {
			m.writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
			return
		}

		if claims.HasRole(m.adminRole) {
			next(w, r.WithContext(WithClaims(r.Context(), claims, token)))
			return
		}

		if err := m.authService.RequireIdentity(claims); err != nil {
			m.logger.Warn("Token without tenant identity rejected",
				zap.String("path", r.URL.Path),
				zap.String("issuer", claims.Issuer))
			m.writeError(w, http.StatusForbidden, "forbidden", "Token carries no tenant identity")
			return
		}

		next(w, r.WithContext(WithClaims(r.Context(), claims, token)))
	}
}

// writeError writes a JSON error body with the given status.
func (m *Middleware) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
