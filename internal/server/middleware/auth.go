package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// CallerHeader carries the caller identity when header trust is enabled
// for local development.
const CallerHeader = "X-Caller-Address"

type callerKey struct{}

// TokenVerifier resolves a bearer token to the address that signed it.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (common.Address, error)
}

// WithCaller returns a context carrying the authenticated caller.
func WithCaller(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// CallerFrom returns the authenticated caller, if any.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// Auth returns middleware that resolves the caller from a Bearer token.
// Requests without a token continue anonymously; handlers that mutate state
// reject them. A token that fails verification is answered with 401.
// trustHeader additionally accepts CallerHeader and must stay off in
// production. Component accounts are refused either way.
func Auth(verifier TokenVerifier, trustHeader bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				addr   common.Address
				claims bool
			)
			if token := extractToken(r); token != "" {
				var err error
				addr, err = verifier.Verify(r.Context(), token)
				if err != nil {
					if errors.Is(err, domain.ErrUnauthenticated) {
						writeUnauthorized(w, "invalid authentication token")
						return
					}
					writeJSONError(w, http.StatusServiceUnavailable, "authentication unavailable")
					return
				}
				claims = true
			} else if trustHeader {
				if v := r.Header.Get(CallerHeader); v != "" {
					var err error
					addr, err = domain.ParseAddress(v)
					if err != nil {
						writeUnauthorized(w, "invalid "+CallerHeader)
						return
					}
					claims = true
				}
			}
			if claims {
				// Component accounts hold escrow and liquidity; nobody may act as them.
				if domain.IsComponentAddress(addr) {
					writeUnauthorized(w, "reserved caller address")
					return
				}
				r = r.WithContext(WithCaller(r.Context(), addr))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or, for websocket clients that cannot set headers, the access_token query
// parameter.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, msg)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
