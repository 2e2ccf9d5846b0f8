package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/creatormarket/internal/crypto"
	"github.com/alanyoungcy/creatormarket/internal/engine"
	"github.com/alanyoungcy/creatormarket/internal/eventlog"
	"github.com/alanyoungcy/creatormarket/internal/observability"
	"github.com/alanyoungcy/creatormarket/internal/server/handler"
	"github.com/alanyoungcy/creatormarket/internal/server/middleware"
)

var (
	admin   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	creator = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

type testServer struct {
	t       *testing.T
	srv     *httptest.Server
	engine  *engine.Engine
	metrics *observability.Metrics
}

func newTestServer(t *testing.T, verifier middleware.TokenVerifier) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, err := engine.New(engine.Config{
		Admin:               admin,
		FeePercent:          1,
		PriceUpdateInterval: time.Hour,
		GrantOnRegister:     true,
	}, eventlog.NewRecorder(0, nil), logger, nil)
	require.NoError(t, err)

	if verifier == nil {
		verifier = crypto.NewVerifier(crypto.VerifierConfig{}, nil)
	}
	metrics := observability.NewMetrics("test")
	s := NewServer(Config{TrustCallerHeader: true, RateWindow: time.Minute}, Handlers{
		Health:      handler.NewHealthHandler(map[string]handler.HealthCheck{"engine": func(context.Context) error { return eng.Audit() }}, logger),
		Status:      handler.NewStatusHandler(eng, time.Now()),
		Creators:    handler.NewCreatorHandler(eng, logger),
		Trading:     handler.NewTradingHandler(eng, logger),
		Predictions: handler.NewPredictionHandler(eng, logger),
		Events:      handler.NewEventHandler(eng, nil, logger),
		Pipeline:    handler.NewPipelineHandler(admin, nil, nil, 0, logger),
	}, Deps{Verifier: verifier, Metrics: metrics}, logger)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &testServer{t: t, srv: ts, engine: eng, metrics: metrics}
}

// do sends a request as who; the zero address sends it anonymously.
func (ts *testServer) do(method, path string, who common.Address, body any) (int, map[string]any) {
	ts.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(ts.t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	require.NoError(ts.t, err)
	if who != (common.Address{}) {
		req.Header.Set(middleware.CallerHeader, who.Hex())
	}
	resp, err := ts.srv.Client().Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(ts.t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(ts.t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestTradingFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t, nil)

	code, _ := ts.do(http.MethodPost, "/api/native/deposit", admin, map[string]string{
		"account": alice.Hex(),
		"amount":  "1000000000000000000",
	})
	require.Equal(t, http.StatusOK, code)

	code, body := ts.do(http.MethodPost, "/api/creators", creator, map[string]string{
		"name":   "Creator Coin",
		"symbol": "CC",
		"price":  "10000000000000000",
	})
	require.Equal(t, http.StatusCreated, code)
	ledgerAddr := body["address"].(string)
	assert.Equal(t, creator.Hex(), body["owner"])

	code, body = ts.do(http.MethodGet, "/api/exchange/quote/buy?ledger="+ledgerAddr+"&amount=1000000000000000000", common.Address{}, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "99000000000000000000", body["quantity"])

	code, body = ts.do(http.MethodPost, "/api/exchange/buy", alice, map[string]string{
		"ledger": ledgerAddr,
		"amount": "1000000000000000000",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "99000000000000000000", body["quantity"])

	code, body = ts.do(http.MethodGet, "/api/ledgers/"+ledgerAddr+"/balances/"+alice.Hex(), common.Address{}, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "99000000000000000000", body["amount"])

	code, body = ts.do(http.MethodGet, "/api/native/"+alice.Hex(), common.Address{}, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "0", body["amount"])

	code, body = ts.do(http.MethodGet, "/api/status", common.Address{}, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Greater(t, body["last_event_id"].(float64), float64(0))

	code, _ = ts.do(http.MethodGet, "/api/health", common.Address{}, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		who    common.Address
		body   any
		status int
	}{
		{"anonymous mutation", http.MethodPost, "/api/creators", common.Address{}, map[string]string{"name": "x", "symbol": "X", "price": "1"}, http.StatusUnauthorized},
		{"non-admin ban", http.MethodPost, "/api/creators/" + creator.Hex() + "/ban", alice, map[string]string{"reason": "spam"}, http.StatusForbidden},
		{"unknown creator", http.MethodGet, "/api/creators/" + alice.Hex(), common.Address{}, nil, http.StatusNotFound},
		{"bad id", http.MethodGet, "/api/predictions/abc", common.Address{}, nil, http.StatusBadRequest},
		{"bad amount", http.MethodPost, "/api/native/deposit", admin, map[string]string{"account": alice.Hex(), "amount": "-1"}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/native/deposit", admin, map[string]string{"acount": alice.Hex()}, http.StatusBadRequest},
		{"pipeline disabled", http.MethodPost, "/api/admin/snapshots", admin, nil, http.StatusServiceUnavailable},
		{"no route", http.MethodGet, "/api/nothing", common.Address{}, nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := ts.do(tt.method, tt.path, tt.who, tt.body)
			assert.Equal(t, tt.status, code)
		})
	}
}

func TestBearerTokenAuth(t *testing.T) {
	verifier := crypto.NewVerifier(crypto.VerifierConfig{Domain: "creator.market", ChainID: 1, MaxAge: time.Minute}, nil)
	ts := newTestServer(t, verifier)

	signer, err := crypto.NewSignerFromHex("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	token, err := signer.IssueToken("creator.market", 1, time.Now())
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/api/creators", strings.NewReader(`{"name":"Signed","symbol":"SGN","price":"1"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	c, err := ts.engine.Creator(signer.Address())
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), c.Address)

	req, err = http.NewRequest(http.MethodGet, ts.srv.URL+"/api/status", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp2, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(http.MethodGet, "/api/status", common.Address{}, nil)

	resp, err := ts.srv.Client().Get(ts.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `test_http_requests_total{`)
	assert.Contains(t, string(raw), `route="GET /api/status"`)
}
