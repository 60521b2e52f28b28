package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rifqisaleh/revoubank/internal/auth"
	"github.com/rifqisaleh/revoubank/internal/httputil"
	"github.com/rifqisaleh/revoubank/internal/logger"
	"go.uber.org/zap"
)

type ctxKey struct{}

// Authenticated rejects requests without a valid bearer token and stores the
// token's principal in the request context.
func Authenticated(tokens *auth.TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.WriteError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				httputil.WriteError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			p, err := tokens.Parse(strings.TrimSpace(parts[1]))
			if err != nil {
				logger.Log.Debug("bearer token rejected", zap.Error(err))
				httputil.WriteError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func WithPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(auth.Principal)
	return p, ok
}
