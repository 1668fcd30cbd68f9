package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stablevault/services/dscd/middleware"
	"stablevault/services/dscd/node"
)

const (
	ScopeWrite       = "dsc:write"
	ScopeOracleWrite = "oracle:write"

	maxBodyBytes = 1 << 16
)

// Config wires the HTTP surface to its collaborators.
type Config struct {
	Node          *node.Node
	Logger        *slog.Logger
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	// Gatherer backs /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer
}

// Server exposes the engine over JSON.
type Server struct {
	node   *node.Node
	logger *slog.Logger
}

// New builds the router.
func New(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{node: cfg.Node, logger: logger.With("component", "api")}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	auth := cfg.Authenticator
	if auth == nil {
		auth = middleware.NewAuthenticator(middleware.AuthConfig{}, logger)
	}
	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(nil, logger)
	}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(read chi.Router) {
			read.Use(limiter.Middleware("read"))
			read.Get("/collateral", s.handleCollateral)
			read.Get("/accounts", s.handleAccounts)
			read.Get("/accounts/{address}", s.handleAccount)
			read.Get("/events", s.handleEvents)
		})
		v1.Group(func(write chi.Router) {
			write.Use(auth.Middleware(ScopeWrite))
			write.Use(limiter.Middleware("write"))
			write.Post("/collateral/deposit", s.handleDeposit)
			write.Post("/collateral/redeem", s.handleRedeem)
			write.Post("/debt/mint", s.handleMint)
			write.Post("/debt/burn", s.handleBurn)
			write.Post("/deposit-and-mint", s.handleDepositAndMint)
			write.Post("/redeem-for-debt", s.handleRedeemForDebt)
			write.Post("/liquidate", s.handleLiquidate)
			write.Post("/tokens/approve", s.handleApprove)
		})
		v1.Group(func(op chi.Router) {
			op.Use(auth.Middleware(ScopeOracleWrite))
			op.Use(limiter.Middleware("write"))
			op.Post("/oracle/prices", s.handleSetPrice)
		})
	})

	return otelhttp.NewHandler(r, "dscd")
}
