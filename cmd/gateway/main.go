package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"swapgateway/gateway/config"
	"swapgateway/gateway/middleware"
	"swapgateway/gateway/reqauth"
	"swapgateway/gateway/routes"
	"swapgateway/internal/chain"
	"swapgateway/internal/chain/evm"
	"swapgateway/internal/chain/hardware"
	"swapgateway/internal/chain/svm"
	"swapgateway/internal/confirmation"
	"swapgateway/internal/coordination"
	"swapgateway/internal/orchestrator"
	"swapgateway/observability/logging"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to gateway configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("GATEWAY_ENV"))
	slogger := logging.Setup("swapgateway", env)
	logger := log.New(os.Stdout, "gateway ", log.LstdFlags|log.Lmsgprefix)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	state := coordination.New(coordination.Config{
		MaxNonceGap:  cfg.Coordination.MaxNonceGap,
		MaxNonceAge:  cfg.Coordination.MaxNonceAge,
		QuoteTTL:     cfg.Coordination.QuoteTTL,
		ReapInterval: cfg.Coordination.ReapInterval,
	}, logging.Component(slogger, "coordination"))

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	state.StartReaper(reaperCtx)

	networks := orchestrator.NewNetworkRegistry(networkAdapterFactory(cfg))
	confirm := confirmation.New(2*time.Second, 2*time.Minute, logging.Component(slogger, "confirmation"))
	orch := orchestrator.New(state, networks, confirm, logging.Component(slogger, "orchestrator"))

	var authenticator *reqauth.Authenticator
	if cfg.ReqAuth.Enabled {
		var persistence reqauth.NoncePersistence
		if strings.TrimSpace(cfg.ReqAuth.PersistencePath) != "" {
			ldb, err := reqauth.NewLevelDBNoncePersistence(cfg.ReqAuth.PersistencePath)
			if err != nil {
				logger.Fatalf("open reqauth nonce persistence: %v", err)
			}
			persistence = ldb
		}
		authenticator = reqauth.NewAuthenticator(
			cfg.ReqAuth.Secrets,
			cfg.ReqAuth.FamilyScopes,
			cfg.ReqAuth.AllowedTimestampSkew,
			cfg.ReqAuth.NonceTTL,
			cfg.ReqAuth.NonceCapacity,
			nil,
			persistence,
		)
		if persistence != nil {
			hydrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := authenticator.HydrateNonces(hydrateCtx, time.Now().Add(-cfg.ReqAuth.NonceTTL)); err != nil {
				logger.Printf("reqauth: failed to hydrate persisted nonces: %v", err)
			}
			cancel()
		}
	}

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   cfg.Observability.ServiceName,
		MetricsPrefix: cfg.Observability.MetricsPrefix,
		LogRequests:   cfg.Observability.LogRequests,
		Enabled:       cfg.Observability.Metrics || cfg.Observability.Tracing,
	}, logger)

	rateLimits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for _, entry := range cfg.RateLimits {
		if entry.ID == "" {
			continue
		}
		rateLimits[entry.ID] = middleware.RateLimit{
			RequestsPerMinute: entry.RequestsPerMinute,
			Burst:             entry.Burst,
		}
	}
	if len(rateLimits) == 0 {
		rateLimits["connectors"] = middleware.RateLimit{RequestsPerMinute: 600, Burst: 40}
		rateLimits["nonce"] = middleware.RateLimit{RequestsPerMinute: 1200, Burst: 80}
	}

	handler, err := routes.New(routes.Config{
		Orchestrator:  orch,
		State:         state,
		Networks:      networks,
		Authenticator: authenticator,
		RateLimiter:   middleware.NewRateLimiter(rateLimits, logger),
		Observability: obs,
		CORS: middleware.CORSConfig{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", reqauth.HeaderAPIKey, reqauth.HeaderTimestamp, reqauth.HeaderNonce, reqauth.HeaderSignature},
			AllowCredentials: false,
		},
		Logger: logger,
	})
	if err != nil {
		logger.Fatalf("configure routes: %v", err)
	}

	root := http.Handler(handler)
	if cfg.Observability.Tracing {
		root = otelhttp.NewHandler(handler, "gateway")
	}

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      root,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		logger.Fatalf("listen: %v", err)
	}
	go func() {
		logger.Printf("listening on http://%s", listener.Addr())
		if serveErr := server.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Fatalf("listen and serve: %v", serveErr)
		}
	}()

	<-ctx.Done()
	stopReaper()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

// networkAdapterFactory builds the RPC/Signer/RouteBuilder trio for a
// network the first time the orchestrator asks for it, per
// orchestrator.AdapterFactory's lazy-singleton contract.
func networkAdapterFactory(cfg config.Config) orchestrator.AdapterFactory {
	return func(network string) (orchestrator.NetworkAdapters, error) {
		netCfg, err := cfg.NetworkByName(network)
		if err != nil {
			return orchestrator.NetworkAdapters{}, err
		}
		switch netCfg.Family {
		case "account-nonce":
			return buildEVMAdapters(*netCfg)
		case "signature-hash":
			return buildSVMAdapters(*netCfg)
		default:
			return orchestrator.NetworkAdapters{}, fmt.Errorf("network %s: unsupported family %q", network, netCfg.Family)
		}
	}
}

func buildEVMAdapters(netCfg config.NetworkConfig) (orchestrator.NetworkAdapters, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	adapter, err := evm.Dial(ctx, netCfg.RPCURL, netCfg.ChainID)
	if err != nil {
		return orchestrator.NetworkAdapters{}, fmt.Errorf("dial %s: %w", netCfg.Name, err)
	}

	var signer chain.Signer
	switch netCfg.SignerKind {
	case "software":
		if strings.TrimSpace(netCfg.SoftwareKeystorePath) != "" {
			passphrase := os.Getenv(netCfg.SoftwareKeystorePassphraseEnv)
			signer, err = evm.NewSoftwareSignerFromKeystore(netCfg.SoftwareKeystorePath, passphrase, adapter.ChainID())
			if err != nil {
				return orchestrator.NetworkAdapters{}, fmt.Errorf("network %s: %w", netCfg.Name, err)
			}
			break
		}
		key := strings.TrimSpace(os.Getenv(netCfg.SoftwareKeyEnv))
		if key == "" {
			return orchestrator.NetworkAdapters{}, fmt.Errorf("network %s: env var %s is empty", netCfg.Name, netCfg.SoftwareKeyEnv)
		}
		signer, err = evm.NewSoftwareSigner(key, adapter.ChainID())
		if err != nil {
			return orchestrator.NetworkAdapters{}, fmt.Errorf("network %s: %w", netCfg.Name, err)
		}
	case "hardware":
		transport := hardware.NewHTTPTransport(netCfg.HardwareDevice, nil)
		signer = hardware.New(chain.FamilyAccountNonce, transport)
	default:
		return orchestrator.NetworkAdapters{}, fmt.Errorf("network %s: unsupported signerKind %q", netCfg.Name, netCfg.SignerKind)
	}

	router := evm.NewRouteBuilder(adapter, netCfg.RouterAddress)
	return orchestrator.NetworkAdapters{
		Family: chain.FamilyAccountNonce,
		RPC:    adapter,
		Signer: signer,
		Router: router,
	}, nil
}

func buildSVMAdapters(netCfg config.NetworkConfig) (orchestrator.NetworkAdapters, error) {
	adapter := svm.New(netCfg.RPCURL)

	var signer chain.Signer
	switch netCfg.SignerKind {
	case "software":
		raw := strings.TrimSpace(os.Getenv(netCfg.SoftwareKeyEnv))
		if raw == "" {
			return orchestrator.NetworkAdapters{}, fmt.Errorf("network %s: env var %s is empty", netCfg.Name, netCfg.SoftwareKeyEnv)
		}
		key, err := hex.DecodeString(raw)
		if err != nil {
			return orchestrator.NetworkAdapters{}, fmt.Errorf("network %s: decode signing key: %w", netCfg.Name, err)
		}
		signer, err = svm.NewSoftwareSigner(ed25519.PrivateKey(key))
		if err != nil {
			return orchestrator.NetworkAdapters{}, fmt.Errorf("network %s: %w", netCfg.Name, err)
		}
	case "hardware":
		transport := hardware.NewHTTPTransport(netCfg.HardwareDevice, nil)
		signer = hardware.New(chain.FamilySignatureHash, transport)
	default:
		return orchestrator.NetworkAdapters{}, fmt.Errorf("network %s: unsupported signerKind %q", netCfg.Name, netCfg.SignerKind)
	}

	router := svm.NewRouteBuilder(adapter, netCfg.ProgramID, netCfg.PoolFeeBps)
	return orchestrator.NetworkAdapters{
		Family: chain.FamilySignatureHash,
		RPC:    adapter,
		Signer: signer,
		Router: router,
	}, nil
}
