package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

var alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")

type stubVerifier struct {
	tokens map[string]common.Address
	err    error
}

func (s stubVerifier) Verify(_ context.Context, token string) (common.Address, error) {
	if s.err != nil {
		return common.Address{}, s.err
	}
	addr, ok := s.tokens[token]
	if !ok {
		return common.Address{}, domain.ErrUnauthenticated
	}
	return addr, nil
}

// echoCaller writes the caller address or "anonymous".
var echoCaller = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if addr, ok := CallerFrom(r.Context()); ok {
		io.WriteString(w, addr.Hex())
		return
	}
	io.WriteString(w, "anonymous")
})

func TestAuth(t *testing.T) {
	v := stubVerifier{tokens: map[string]common.Address{"good": alice}}
	h := Auth(v, false)(echoCaller)

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
		body   string
	}{
		{"anonymous", func(*http.Request) {}, http.StatusOK, "anonymous"},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") }, http.StatusOK, alice.Hex()},
		{"lowercase scheme", func(r *http.Request) { r.Header.Set("Authorization", "bearer good") }, http.StatusOK, alice.Hex()},
		{"query token", func(r *http.Request) { r.URL.RawQuery = "access_token=good" }, http.StatusOK, alice.Hex()},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized, ""},
		{"header ignored", func(r *http.Request) { r.Header.Set(CallerHeader, alice.Hex()) }, http.StatusOK, "anonymous"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestAuthVerifierOutage(t *testing.T) {
	h := Auth(stubVerifier{err: errors.New("redis down")}, false)(echoCaller)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuthTrustHeader(t *testing.T) {
	h := Auth(stubVerifier{}, true)(echoCaller)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CallerHeader, alice.Hex())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, alice.Hex(), rec.Body.String())

	req.Header.Set(CallerHeader, "not-an-address")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRefusesComponentAccounts(t *testing.T) {
	market := domain.ComponentAddress("market")
	exchange := domain.ComponentAddress("exchange")
	v := stubVerifier{tokens: map[string]common.Address{"forged": exchange}}
	h := Auth(v, true)(echoCaller)

	for _, addr := range []common.Address{market, exchange, domain.ComponentAddress("registry")} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set(CallerHeader, addr.Hex())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, addr.Hex())
	}

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.False(t, domain.IsComponentAddress(alice))
}

type recordingObserver struct {
	route  string
	status int
}

func (o *recordingObserver) ObserveHTTP(_, route string, status int, _ time.Duration) {
	o.route, o.status = route, status
}

func TestLoggingReportsRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	obs := &recordingObserver{}
	h := Logging(slog.New(slog.NewTextHandler(io.Discard, nil)), obs)(mux)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/items/42", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "GET /api/items/{id}", obs.route)
	assert.Equal(t, http.StatusTeapot, obs.status)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "unmatched", obs.route)
	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
}

type countingLimiter struct {
	seen map[string]int
	err  error
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.seen[key]++
	return l.seen[key] <= limit, nil
}

func TestRateLimit(t *testing.T) {
	lim := &countingLimiter{seen: map[string]int{}}
	limited := 0
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := RateLimit(lim, 2, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)), func() { limited++ })(ok)

	send := func(ip string, caller *common.Address) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		if caller != nil {
			req = req.WithContext(WithCaller(req.Context(), *caller))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.7", nil))
	assert.Equal(t, http.StatusOK, send("203.0.113.7", nil))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.7", nil))
	assert.Equal(t, 1, limited)

	// An authenticated caller has its own budget regardless of IP.
	assert.Equal(t, http.StatusOK, send("203.0.113.7", &alice))
	require.Contains(t, lim.seen, "api:caller:"+alice.Hex())

	lim.err = errors.New("redis down")
	assert.Equal(t, http.StatusOK, send("203.0.113.7", nil), "fails open")
}

func TestExtractClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", extractClientIP(req))
	req.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", extractClientIP(req))
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.2")
	assert.Equal(t, "203.0.113.9", extractClientIP(req))
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodOptions, "/api/creators", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
