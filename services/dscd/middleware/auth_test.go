package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123"

var testAccount = common.HexToAddress("0x000000000000000000000000000000000000a11c")

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func baseClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   testAccount.Hex(),
		"iss":   "stablevault",
		"aud":   "dscd",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "dsc:write oracle:write",
	}
}

func newTestAuthenticator() *Authenticator {
	return NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		Issuer:     "stablevault",
		Audience:   "dscd",
	}, nil)
}

func serve(handler http.Handler, method, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/v1/debt/mint", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func principalHandler(out *Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		*out = p
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticatorAcceptsValidToken(t *testing.T) {
	var got Principal
	handler := newTestAuthenticator().Middleware("dsc:write")(principalHandler(&got))
	token := signToken(t, baseClaims())
	res := serve(handler, http.MethodPost, token)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if got.Account != testAccount {
		t.Fatalf("unexpected account %s", got.Account.Hex())
	}
	if len(got.Scopes) != 2 {
		t.Fatalf("unexpected scopes %v", got.Scopes)
	}
}

func TestAuthenticatorRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(jwt.MapClaims)
		scopes []string
		want   int
	}{
		{"expired", func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() }, nil, http.StatusUnauthorized},
		{"wrong issuer", func(c jwt.MapClaims) { c["iss"] = "other" }, nil, http.StatusUnauthorized},
		{"wrong audience", func(c jwt.MapClaims) { c["aud"] = []string{"other"} }, nil, http.StatusUnauthorized},
		{"subject not an address", func(c jwt.MapClaims) { c["sub"] = "alice" }, nil, http.StatusUnauthorized},
		{"missing subject", func(c jwt.MapClaims) { delete(c, "sub") }, nil, http.StatusUnauthorized},
		{"zero subject", func(c jwt.MapClaims) { c["sub"] = common.Address{}.Hex() }, nil, http.StatusUnauthorized},
		{"missing scope", func(c jwt.MapClaims) { c["scope"] = "dsc:write" }, []string{"oracle:write"}, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got Principal
			handler := newTestAuthenticator().Middleware(tc.scopes...)(principalHandler(&got))
			claims := baseClaims()
			tc.mutate(claims)
			res := serve(handler, http.MethodPost, signToken(t, claims))
			if res.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, res.Code, res.Body.String())
			}
		})
	}
}

func TestAuthenticatorRejectsMissingAndForeignTokens(t *testing.T) {
	var got Principal
	handler := newTestAuthenticator().Middleware()(principalHandler(&got))
	if res := serve(handler, http.MethodPost, ""); res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.Code)
	}
	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, baseClaims()).SignedString([]byte("another-secret-entirely"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if res := serve(handler, http.MethodPost, foreign); res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign signature, got %d", res.Code)
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, baseClaims()).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if res := serve(handler, http.MethodPost, none); res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unsigned token, got %d", res.Code)
	}
}

func TestAuthenticatorDisabledUsesAccountHeader(t *testing.T) {
	var got Principal
	auth := NewAuthenticator(AuthConfig{Enabled: false}, nil)
	handler := auth.Middleware("dsc:write")(principalHandler(&got))

	req := httptest.NewRequest(http.MethodPost, "/v1/debt/mint", nil)
	req.Header.Set(AccountHeader, testAccount.Hex())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK || got.Account != testAccount {
		t.Fatalf("expected header account, got %d %s", res.Code, got.Account.Hex())
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/debt/mint", nil)
	req.Header.Set(AccountHeader, "nope")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed header, got %d", res.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/debt/mint", nil)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTeapot {
		t.Fatalf("expected request without principal to pass through, got %d", res.Code)
	}
}

func TestAuthenticatorReplayProtection(t *testing.T) {
	store, err := NewLevelDBReplayStore("")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	auth := newTestAuthenticator()
	auth.SetReplayStore(store)
	var got Principal
	handler := auth.Middleware()(principalHandler(&got))

	claims := baseClaims()
	claims["jti"] = "request-1"
	token := signToken(t, claims)
	if res := serve(handler, http.MethodPost, token); res.Code != http.StatusOK {
		t.Fatalf("expected first use to succeed, got %d", res.Code)
	}
	if res := serve(handler, http.MethodPost, token); res.Code != http.StatusUnauthorized {
		t.Fatalf("expected replay to be rejected, got %d", res.Code)
	}
	// Reads are not single use.
	if res := serve(handler, http.MethodGet, token); res.Code != http.StatusOK {
		t.Fatalf("expected read to succeed, got %d", res.Code)
	}
	if res := serve(handler, http.MethodPost, signToken(t, baseClaims())); res.Code != http.StatusUnauthorized {
		t.Fatalf("expected token without jti to be rejected, got %d", res.Code)
	}
}
