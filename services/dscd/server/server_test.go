package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"

	"stablevault/config"
	"stablevault/native/dsc"
	"stablevault/services/dscd/middleware"
	"stablevault/services/dscd/node"
	"stablevault/storage"
)

const testSecret = "server-test-secret-0123"

var (
	alice    = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob      = common.HexToAddress("0x000000000000000000000000000000000000b0b0")
	operator = common.HexToAddress("0x0000000000000000000000000000000000000001")
)

type fixture struct {
	t      *testing.T
	server *httptest.Server
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	cfg := config.Default()
	cfg.Allocations = []config.Allocation{
		{Account: alice.Hex(), Token: "WETH", Amount: "10000000000000000000"},
		{Account: bob.Hex(), Token: "WETH", Amount: "20000000000000000000"},
	}
	rt, err := cfg.Runtime()
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	n, err := node.New(rt, storage.NewMemDB(), node.Options{Clock: func() time.Time { return f.now }})
	if err != nil {
		t.Fatalf("node: %v", err)
	}
	auth := middleware.NewAuthenticator(middleware.AuthConfig{Enabled: true, HMACSecret: testSecret}, nil)
	handler := New(Config{
		Node:          n,
		Authenticator: auth,
		RateLimiter:   middleware.NewRateLimiter(map[string]middleware.RateLimit{}, nil),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{Metrics: true}, nil),
	})
	f.server = httptest.NewServer(handler)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) token(account common.Address, scope string) string {
	f.t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   account.Hex(),
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": scope,
	}).SignedString([]byte(testSecret))
	if err != nil {
		f.t.Fatalf("sign: %v", err)
	}
	return signed
}

func (f *fixture) do(method, path, token string, body interface{}) (int, map[string]interface{}) {
	f.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			f.t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		f.t.Fatalf("request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := f.server.Client().Do(req)
	if err != nil {
		f.t.Fatalf("do %s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	out := map[string]interface{}{}
	raw, _ := io.ReadAll(res.Body)
	if len(raw) > 0 && strings.HasPrefix(res.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &out); err != nil {
			f.t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return res.StatusCode, out
}

func (f *fixture) mustStatus(want int, method, path, token string, body interface{}) map[string]interface{} {
	f.t.Helper()
	status, out := f.do(method, path, token, body)
	if status != want {
		f.t.Fatalf("%s %s: expected %d, got %d: %v", method, path, want, status, out)
	}
	return out
}

const maxApproval = "115792089237316195423570985008687907853269984665640564039457584007913129639935"

func TestOpenPositionAndLiquidate(t *testing.T) {
	f := newFixture(t)
	aliceToken := f.token(alice, "dsc:write")
	bobToken := f.token(bob, "dsc:write")

	f.mustStatus(http.StatusNoContent, http.MethodPost, "/v1/tokens/approve", aliceToken,
		map[string]string{"token": "WETH", "amount": maxApproval})
	account := f.mustStatus(http.StatusOK, http.MethodPost, "/v1/deposit-and-mint", aliceToken, map[string]string{
		"token":            "WETH",
		"collateralAmount": "10000000000000000000",
		"debtAmount":       "10000000000000000000000",
	})
	if account["healthFactor"] != "1000000000000000000" || account["collateralUsd"] != "20000000000000000000000" {
		t.Fatalf("unexpected account %v", account)
	}

	// Bob opens a healthy position so he holds debt tokens to repay with.
	f.mustStatus(http.StatusNoContent, http.MethodPost, "/v1/tokens/approve", bobToken,
		map[string]string{"token": "WETH", "amount": maxApproval})
	f.mustStatus(http.StatusOK, http.MethodPost, "/v1/deposit-and-mint", bobToken, map[string]string{
		"token":            "WETH",
		"collateralAmount": "20000000000000000000",
		"debtAmount":       "8000000000000000000000",
	})
	f.mustStatus(http.StatusNoContent, http.MethodPost, "/v1/tokens/approve", bobToken,
		map[string]string{"token": "DSC", "amount": "8000000000000000000000"})

	// Healthy accounts cannot be liquidated.
	out := f.mustStatus(http.StatusUnprocessableEntity, http.MethodPost, "/v1/liquidate", bobToken, map[string]string{
		"token": "WETH", "user": alice.Hex(), "debtToCover": "1000000000000000000000",
	})
	if out["error"] != "health_factor_ok" || out["healthFactor"] != "1000000000000000000" {
		t.Fatalf("unexpected error body %v", out)
	}

	// Only operators may move prices.
	f.mustStatus(http.StatusForbidden, http.MethodPost, "/v1/oracle/prices", bobToken,
		map[string]string{"token": "WETH", "price": "1200"})
	opToken := f.token(operator, "oracle:write")
	round := f.mustStatus(http.StatusOK, http.MethodPost, "/v1/oracle/prices", opToken,
		map[string]string{"token": "WETH", "price": "1200"})
	if round["answer"] != "120000000000" {
		t.Fatalf("unexpected round %v", round)
	}

	result := f.mustStatus(http.StatusOK, http.MethodPost, "/v1/liquidate", bobToken, map[string]string{
		"token": "WETH", "user": alice.Hex(), "debtToCover": "8000000000000000000000",
	})
	if result["debtCovered"] != "8000000000000000000000" ||
		result["collateralSeized"] != "7333333333333333332" ||
		result["endHealthFactor"] != "800000000000000000" {
		t.Fatalf("unexpected liquidation %v", result)
	}

	account = f.mustStatus(http.StatusOK, http.MethodGet, "/v1/accounts/"+alice.Hex(), "", nil)
	if account["debt"] != "2000000000000000000000" || account["liquidatable"] != true {
		t.Fatalf("unexpected account after liquidation %v", account)
	}

	list := f.mustStatus(http.StatusOK, http.MethodGet, "/v1/accounts", "", nil)
	if accounts, _ := list["accounts"].([]interface{}); len(accounts) != 2 {
		t.Fatalf("unexpected account index %v", list)
	}

	evts := f.mustStatus(http.StatusOK, http.MethodGet, "/v1/events?limit=1", "", nil)
	entries, _ := evts["events"].([]interface{})
	if len(entries) != 1 {
		t.Fatalf("expected one event, got %v", evts)
	}
	if entry, _ := entries[0].(map[string]interface{}); entry["type"] != "dsc.liquidated" {
		t.Fatalf("unexpected last event %v", entries[0])
	}
}

func TestWriteErrors(t *testing.T) {
	f := newFixture(t)
	token := f.token(alice, "dsc:write")

	f.mustStatus(http.StatusUnauthorized, http.MethodPost, "/v1/debt/mint", "", map[string]string{"amount": "1"})

	out := f.mustStatus(http.StatusUnprocessableEntity, http.MethodPost, "/v1/debt/mint", token, map[string]string{"amount": "1"})
	if out["error"] != "health_factor_broken" || out["healthFactor"] != "0" {
		t.Fatalf("unexpected body %v", out)
	}
	out = f.mustStatus(http.StatusBadRequest, http.MethodPost, "/v1/debt/mint", token, map[string]string{"amount": "0"})
	if out["error"] != "zero_amount" {
		t.Fatalf("unexpected body %v", out)
	}
	f.mustStatus(http.StatusBadRequest, http.MethodPost, "/v1/debt/mint", token, map[string]string{"amount": "-1"})
	f.mustStatus(http.StatusBadRequest, http.MethodPost, "/v1/debt/mint", token, map[string]string{"amount": "1", "extra": "x"})
	out = f.mustStatus(http.StatusBadRequest, http.MethodPost, "/v1/collateral/deposit", token, map[string]string{"token": "DOGE", "amount": "1"})
	if out["error"] != "unsupported_collateral" {
		t.Fatalf("unexpected body %v", out)
	}
	out = f.mustStatus(http.StatusBadRequest, http.MethodPost, "/v1/collateral/deposit", token, map[string]string{"token": "DOGE", "amount": "0"})
	if out["error"] != "zero_amount" {
		t.Fatalf("unexpected body %v", out)
	}
	out = f.mustStatus(http.StatusNotFound, http.MethodPost, "/v1/tokens/approve", token, map[string]string{"token": "DOGE", "amount": "1"})
	if out["error"] != "unknown_token" {
		t.Fatalf("unexpected body %v", out)
	}

	out = f.mustStatus(http.StatusUnprocessableEntity, http.MethodPost, "/v1/collateral/deposit", token,
		map[string]string{"token": "WETH", "amount": "1"})
	if out["error"] != "transfer_failed" {
		t.Fatalf("expected transfer failure without approval, got %v", out)
	}
	f.mustStatus(http.StatusBadRequest, http.MethodGet, "/v1/accounts/not-an-address", "", nil)
	f.mustStatus(http.StatusBadRequest, http.MethodGet, "/v1/events?limit=-1", "", nil)
}

func TestStalePricesSurfaceAsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.now = f.now.Add(3*time.Hour + time.Second)

	out := f.mustStatus(http.StatusServiceUnavailable, http.MethodGet, "/v1/accounts/"+alice.Hex(), "", nil)
	if out["error"] != "stale_price" {
		t.Fatalf("unexpected body %v", out)
	}
	overview := f.mustStatus(http.StatusOK, http.MethodGet, "/v1/collateral", "", nil)
	collateral, _ := overview["collateral"].([]interface{})
	if len(collateral) != 2 {
		t.Fatalf("unexpected collateral %v", overview)
	}
	first, _ := collateral[0].(map[string]interface{})
	if first["priceError"] != "stale_price" || first["price"] != nil {
		t.Fatalf("expected stale feed in overview, got %v", first)
	}
	if overview["totalCollateralUsd"] != nil {
		t.Fatalf("expected totals to be withheld, got %v", overview["totalCollateralUsd"])
	}
}

func TestCollateralOverviewAndProbes(t *testing.T) {
	f := newFixture(t)
	overview := f.mustStatus(http.StatusOK, http.MethodGet, "/v1/collateral", "", nil)
	params, _ := overview["params"].(map[string]interface{})
	if params["liquidationBonus"] != float64(10) || params["oracleTimeoutSeconds"] != float64(10800) {
		t.Fatalf("unexpected params %v", params)
	}
	if overview["debtSymbol"] != "DSC" {
		t.Fatalf("unexpected debt symbol %v", overview["debtSymbol"])
	}

	res, err := f.server.Client().Get(f.server.URL + "/healthz")
	if err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %v %v", res, err)
	}
	res.Body.Close()

	res, err = f.server.Client().Get(f.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(body), "stablevault_api_requests_total") {
		t.Fatalf("expected api metrics to be exported")
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		errBadRequest:        http.StatusBadRequest,
		node.ErrUnknownToken: http.StatusNotFound,
		fmt.Errorf("%w: %q", dsc.ErrUnsupportedCollateral, "DOGE"): http.StatusBadRequest,
		node.ErrInvalidPrice: http.StatusBadRequest,
		io.EOF:               http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got, _ := statusFor(err); got != want {
			t.Fatalf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}
