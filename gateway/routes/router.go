package routes

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"swapgateway/gateway/middleware"
	"swapgateway/gateway/reqauth"
	"swapgateway/internal/coordination"
	"swapgateway/internal/orchestrator"
)

// Config wires the gateway's HTTP surface: the connector-facing swap routes
// of §6.2, the external coordination API of §6.1 (gated by reqauth's HMAC
// authenticator, distinct from any bearer-token scheme fronting the rest of
// the gateway), and the shared middleware chain.
type Config struct {
	Orchestrator  *orchestrator.Orchestrator
	State         *coordination.State
	Networks      *orchestrator.NetworkRegistry
	Authenticator *reqauth.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *log.Logger
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability
	if obs != nil {
		obs.Register(errorKindTotal)
		if cfg.Authenticator != nil {
			obs.Register(reqauth.MetricsCollector())
		}
		r.Use(obs.Middleware("root"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	swap := newSwapRoutes(cfg.Orchestrator)
	r.Route("/connectors", func(sr chi.Router) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware("connectors"))
		}
		if obs != nil {
			sr.Use(obs.Middleware("connectors"))
		}
		swap.mount(sr)
	})

	nonce := newNonceRoutes(cfg.State, cfg.Networks)
	r.Route("/chains/{family}/nonce", func(sr chi.Router) {
		// Authenticator runs first so the rate limiter's clientID can key
		// off the authenticated principal rather than the source address.
		if cfg.Authenticator != nil {
			sr.Use(cfg.Authenticator.Middleware(cfg.Logger))
		}
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware("nonce"))
		}
		if obs != nil {
			sr.Use(obs.Middleware("nonce"))
		}
		nonce.mount(sr)
	})

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	return r, nil
}
