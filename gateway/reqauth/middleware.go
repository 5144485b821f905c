package reqauth

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
)

type contextKey string

// ContextKeyPrincipal is the context key the Middleware stores the
// authenticated Principal under.
const ContextKeyPrincipal contextKey = "reqauth.principal"

// Middleware verifies the HMAC signature and replay nonce on every request
// it wraps, rejecting with 401 on failure. The request body is fully
// buffered so it can both be hashed for the signature and replayed to the
// next handler.
func (a *Authenticator) Middleware(logger *log.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, int64(MaxBodyForSignature)+1))
			if err != nil {
				http.Error(w, "failed to read request body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			principal, err := a.Authenticate(r, body)
			if err != nil {
				logger.Printf("reqauth: rejected %s %s: %v", r.Method, r.URL.Path, err)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyPrincipal, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ContextKeyPrincipal).(*Principal)
	return p, ok
}
