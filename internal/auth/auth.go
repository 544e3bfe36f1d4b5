package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/kazz187/cardflow/pkg/cerr"
	"github.com/kazz187/cardflow/pkg/clog"
)

type principalKey struct{}

func WithPrincipal(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, principalKey{}, userID)
}

func Principal(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(principalKey{}).(string)
	return userID, ok && userID != ""
}

// RequirePrincipal returns the authenticated user or an Unauthenticated error.
func RequirePrincipal(ctx context.Context) (string, error) {
	userID, ok := Principal(ctx)
	if !ok {
		return "", cerr.NewError(cerr.Unauthenticated, "authentication required", nil)
	}
	return userID, nil
}

// APIKeys resolves API keys to the user they were issued to.
type APIKeys map[string]string

func (k APIKeys) Lookup(key string) (string, bool) {
	for candidate, userID := range k {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			return userID, true
		}
	}
	return "", false
}

func keyFromRequest(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if key, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return key
	}
	return ""
}

// Middleware authenticates the request by API key and stores the principal
// in the request context. Unknown keys get a 401 JSON error.
func Middleware(keys APIKeys) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := keys.Lookup(keyFromRequest(r))
			if !ok {
				cerr.SetNewJSONError(r.Context(), cerr.Unauthenticated, "unauthorized", nil)
				return
			}
			clog.AddAttribute(r.Context(), clog.PrincipalAttributeKey, userID)
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), userID)))
		})
	}
}
