package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"harmonix/internal/api"
	"harmonix/internal/config"
	"harmonix/internal/jobs"
)

type identityKey struct{}

// identityFrom returns the authenticated identity attached by authMiddleware.
func identityFrom(ctx context.Context) api.Identity {
	if identity, ok := ctx.Value(identityKey{}).(api.Identity); ok {
		return identity
	}
	return api.Identity{User: jobs.AnonymousOwner, Role: "user"}
}

// authMiddleware resolves "Authorization: Bearer <token>" against the
// configured token table. With no tokens configured every request runs as
// the anonymous user; once tokens exist, unknown tokens are rejected and
// requests without a token fall back to anonymous.
func authMiddleware(tokens []config.Token) func(http.Handler) http.Handler {
	byToken := make(map[string]api.Identity, len(tokens))
	for _, tok := range tokens {
		byToken[tok.Token] = api.Identity{User: tok.User, Plan: tok.Plan, Role: tok.Role}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := api.Identity{User: jobs.AnonymousOwner, Role: "user"}
			if auth := r.Header.Get("Authorization"); auth != "" {
				raw := strings.TrimPrefix(auth, "Bearer ")
				if raw == auth {
					writeUnauthorized(w)
					return
				}
				resolved, ok := byToken[strings.TrimSpace(raw)]
				if !ok {
					writeUnauthorized(w)
					return
				}
				identity = resolved
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, identity)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}
