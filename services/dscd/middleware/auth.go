package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"

	"stablevault/observability/logging"
)

// AccountHeader names the acting account when authentication is disabled.
const AccountHeader = "X-Account"

type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	ScopeClaim string
	ClockSkew  time.Duration
}

// Principal is the authenticated caller.
type Principal struct {
	Account common.Address
	Scopes  []string
	TokenID string
}

type contextKey string

const principalKey contextKey = "dscd.principal"

// PrincipalFrom returns the caller attached by the authenticator.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
	replay ReplayStore
	now    func() time.Time
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger.With("component", "auth"),
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		now:    time.Now,
	}
}

// SetReplayStore makes state changing requests single use: each token must
// carry a jti that has not been seen before.
func (a *Authenticator) SetReplayStore(store ReplayStore) {
	a.replay = store
}

func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled {
				a.anonymous(next, w, r)
				return
			}
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
				return
			}
			claims, err := a.parseToken(tokenString)
			if err != nil {
				a.logger.Warn("token validation failed", "error", err.Error(), logging.MaskField("authorization", tokenString))
				writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid token")
				return
			}
			principal, err := a.principal(claims)
			if err != nil {
				a.logger.Warn("claim validation failed", "error", err.Error())
				writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid token")
				return
			}
			if !hasScopes(principal.Scopes, requiredScopes) {
				writeError(w, http.StatusForbidden, "forbidden", "insufficient scope")
				return
			}
			if a.replay != nil && isMutating(r.Method) {
				if principal.TokenID == "" {
					writeError(w, http.StatusUnauthorized, "unauthenticated", "token id required")
					return
				}
				seen, err := a.replay.Observe(r.Context(), principal.Account.Hex(), principal.TokenID, a.now())
				if err != nil {
					a.logger.Error("replay check failed", "error", err.Error())
					writeError(w, http.StatusInternalServerError, "internal", "replay check failed")
					return
				}
				if seen {
					writeError(w, http.StatusUnauthorized, "unauthenticated", "token already used")
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func (a *Authenticator) anonymous(next http.Handler, w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.Header.Get(AccountHeader))
	if raw == "" {
		next.ServeHTTP(w, r)
		return
	}
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid "+AccountHeader+" header")
		return
	}
	principal := Principal{Account: common.HexToAddress(raw)}
	next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithTimeFunc(a.now),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func (a *Authenticator) principal(claims jwt.MapClaims) (Principal, error) {
	subject, err := claims.GetSubject()
	if err != nil {
		return Principal{}, err
	}
	subject = strings.TrimSpace(subject)
	if !common.IsHexAddress(subject) {
		return Principal{}, errors.New("subject is not an account address")
	}
	account := common.HexToAddress(subject)
	if account == (common.Address{}) {
		return Principal{}, errors.New("subject is the zero address")
	}
	jti, _ := claims["jti"].(string)
	return Principal{
		Account: account,
		Scopes:  extractScopes(claims, a.cfg.ScopeClaim),
		TokenID: strings.TrimSpace(jti),
	}, nil
}

func isMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

func extractScopes(claims jwt.MapClaims, scopeClaim string) []string {
	raw, ok := claims[scopeClaim]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hasScopes(scopes []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		set[scope] = struct{}{}
	}
	for _, req := range required {
		if _, ok := set[req]; !ok {
			return false
		}
	}
	return true
}

func extractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
