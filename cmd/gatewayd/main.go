package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/iahome/access-gateway/internal/config"
	"github.com/iahome/access-gateway/internal/entitlement"
	entpostgres "github.com/iahome/access-gateway/internal/entitlement/postgres"
	entsqlite "github.com/iahome/access-gateway/internal/entitlement/sqlite"
	"github.com/iahome/access-gateway/internal/executor"
	"github.com/iahome/access-gateway/internal/health"
	"github.com/iahome/access-gateway/internal/hooks"
	"github.com/iahome/access-gateway/internal/httpserver"
	"github.com/iahome/access-gateway/internal/ledger"
	ledgerpostgres "github.com/iahome/access-gateway/internal/ledger/postgres"
	ledgersqlite "github.com/iahome/access-gateway/internal/ledger/sqlite"
	"github.com/iahome/access-gateway/internal/logging"
	"github.com/iahome/access-gateway/internal/metrics"
	"github.com/iahome/access-gateway/internal/modules"
	"github.com/iahome/access-gateway/internal/pricing"
	"github.com/iahome/access-gateway/internal/proxy"
	"github.com/iahome/access-gateway/internal/proxysession"
	"github.com/iahome/access-gateway/internal/ratelimit"
	"github.com/iahome/access-gateway/internal/version"
)

func main() {
	// .env is optional; real deployments set IAHOME_* in the environment.
	_ = godotenv.Load()

	cfg, err := config.LoadGatewayConfig(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	const maxLogBytes = int64(300 * 1024 * 1024) // 300MB
	if logTarget := strings.TrimSpace(cfg.LogFile); logTarget != "" {
		rot, err := logging.NewRotatingWriter(logTarget, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		// Mirror to stdout as well for foreground runs
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		defer rot.Close()
	}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("[gatewayd] ")
	log.Printf("%s starting env=%s", version.Info(), cfg.Environment)

	var (
		ledgerStore ledger.Store
		grantStore  entitlement.Store
		ledgerDB    *sql.DB
		grantsDB    *sql.DB
	)
	if cfg.PostgresDSN != "" {
		pgLedger, err := ledgerpostgres.New(cfg.PostgresDSN, cfg.PGMaxOpen, cfg.PGMaxIdle, cfg.PGLifetimeMinutes, cfg.PGIdleTimeMinutes)
		if err != nil {
			log.Fatalf("open ledger (postgres): %v", err)
		}
		pgGrants, err := entpostgres.New(cfg.PostgresDSN, cfg.PGMaxOpen, cfg.PGMaxIdle, cfg.PGLifetimeMinutes, cfg.PGIdleTimeMinutes)
		if err != nil {
			log.Fatalf("open grants (postgres): %v", err)
		}
		ledgerStore, ledgerDB = pgLedger, pgLedger.DB()
		grantStore, grantsDB = pgGrants, pgGrants.DB()
		log.Printf("token ledger and grants on postgres")
	} else {
		sqlLedger, err := ledgersqlite.New(cfg.LedgerPath)
		if err != nil {
			log.Fatalf("open ledger: %v", err)
		}
		sqlGrants, err := entsqlite.New(cfg.GrantsPath)
		if err != nil {
			log.Fatalf("open grants: %v", err)
		}
		ledgerStore, ledgerDB = sqlLedger, sqlLedger.DB()
		grantStore, grantsDB = sqlGrants, sqlGrants.DB()
		log.Printf("token ledger at %s, grants at %s", cfg.LedgerPath, cfg.GrantsPath)
	}
	defer ledgerStore.Close()
	defer grantStore.Close()

	var registry *modules.Registry
	if cfg.ModulesFile != "" {
		registry, err = modules.LoadRegistryFile(cfg.ModulesFile)
		if err != nil {
			log.Fatalf("load module registry %s: %v", cfg.ModulesFile, err)
		}
	} else {
		registry, err = modules.NewRegistry(cfg.ModuleBaseURLs)
		if err != nil {
			log.Fatalf("module registry: %v", err)
		}
	}
	log.Printf("modules registered: %v", registry.Names())

	prices := pricing.NewTable()
	if cfg.PricingFile != "" {
		prices, err = pricing.LoadFile(cfg.PricingFile)
		if err != nil {
			log.Fatalf("load pricing %s: %v", cfg.PricingFile, err)
		}
	}

	tokens := ledger.NewService(ledgerStore, prices)
	grants := entitlement.NewChecker(grantStore)

	dispatcher := &hooks.Dispatcher{}
	if cfg.Hooks.Enabled {
		if err := cfg.Hooks.Validate(); err != nil {
			log.Fatalf("hooks config: %v", err)
		}
		dispatcher.Register(cfg.Hooks.BuildScriptHandler())
		log.Printf("hooks dispatcher enabled script=%s", cfg.Hooks.ScriptPath)
	}

	exec := executor.New(tokens, grants, dispatcher)

	collector := metrics.NewCollector()

	sessions := proxysession.NewManager(cfg.ProxySecret, cfg.FrameTokenTTL)
	gateway := proxy.NewGateway(registry, sessions)
	gateway.SetLogger(log.New(log.Writer(), "[gatewayd/proxy] ", log.LstdFlags|log.Lmicroseconds))
	gateway.SetDebug(strings.EqualFold(cfg.LogLevel, "debug"))
	gateway.OnUpstreamError = func(module modules.ID) {
		collector.RecordProxyUpstreamError(string(module))
	}

	var frameLimit *ratelimit.Middleware
	if cfg.RateLimitEnabled {
		limitCfg := ratelimit.Config{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		}
		if cfg.RedisAddr != "" {
			store, err := ratelimit.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
			if err != nil {
				log.Fatalf("redis rate limit store: %v", err)
			}
			limitCfg.Store = store
			log.Printf("rate limiting backed by redis at %s", cfg.RedisAddr)
		}
		limiter := ratelimit.NewLimiter(limitCfg)
		defer limiter.Close()
		frameLimit = ratelimit.NewMiddleware(limiter, httpserver.FrameKey, true,
			log.New(log.Writer(), "[gatewayd/ratelimit] ", log.LstdFlags|log.Lmicroseconds))
		frameLimit.OnLimited = collector.RecordRateLimitHit
	} else {
		log.Printf("frame rate limiting disabled by configuration")
	}

	checker := health.New(health.Config{
		LedgerDB:        ledgerDB,
		GrantsDB:        grantsDB,
		ModuleEndpoints: registry.Endpoints(),
	})

	httpSrv := httpserver.NewServer(httpserver.Options{
		Tokens:     tokens,
		Grants:     grants,
		Executor:   exec,
		Gateway:    gateway,
		Registry:   registry,
		Collector:  collector,
		Checker:    checker,
		Dispatcher: dispatcher,
		FrameLimit: frameLimit,
		Logger:     log.New(log.Writer(), "[gatewayd/http] ", log.LstdFlags|log.Lmicroseconds),
		LogLevel:   cfg.LogLevel,
	})

	addr := fmt.Sprintf("%s:%d", cfg.ListenAddr, cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpSrv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("portal gateway listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
