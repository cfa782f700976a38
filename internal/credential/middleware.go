package credential

import (
	"context"
	"net/http"
	"strings"

	"github.com/forgehost/controlplane/internal/apperr"
)

type ctxKey int

const identityKey ctxKey = iota

// RequireBearer validates the Authorization header and stores the caller's
// Claims in the request context. Handlers that need the caller's identity
// call FromContext; handlers reached without a valid token never run.
func RequireBearer(issuer *TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				respondAuthRequired(w)
				return
			}

			claims, err := issuer.Validate(strings.TrimPrefix(header, prefix))
			if err != nil {
				respondAuthRequired(w)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext returns the Claims stored by RequireBearer, or nil if none.
func FromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(identityKey).(*Claims)
	return claims
}

func respondAuthRequired(w http.ResponseWriter) {
	err := apperr.New(apperr.KindAuthRequired, "authentication required")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status())
	_, _ = w.Write([]byte(`{"error":"` + string(err.Kind) + `","message":"` + err.Message + `"}`))
}
