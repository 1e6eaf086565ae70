package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/auth"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/authz"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/config"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/httpapi"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/module"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/obs"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/policy"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/ratelimit"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/session"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/store/pg"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/tenant"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/token"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("HRMS_CONFIG"), "Path to YAML config")
		envFile    = flag.String("env-file", ".env", "Optional dotenv file")
	)
	flag.Parse()
	_ = godotenv.Load(*envFile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config:\n%v\n", err)
		os.Exit(1)
	}

	log := obs.Init(obs.LogConfig{
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
		Service: "hrms-authz",
		Version: version,
	})
	defer func() { _ = obs.Sync() }()
	obs.RegisterMetrics()
	obs.InitBuildInfo(version, commit)

	if err := run(cfg, log); err != nil {
		log.Error("exit", obs.Err(err))
		_ = obs.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = obs.ToContext(ctx, log)

	store, err := pg.Open(cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	resolver, err := tenant.NewResolver(store.Tenants(), cfg.Server.BaseDomains...)
	if err != nil {
		return err
	}
	engine, err := policy.NewEngine(policy.DefaultTable(), store.People())
	if err != nil {
		return err
	}
	guard, err := authz.NewGuard(module.NewGate(store.Modules()), engine)
	if err != nil {
		return err
	}

	issuerCfg, err := cfg.IssuerConfig()
	if err != nil {
		return err
	}
	issuer, err := token.NewIssuer(issuerCfg)
	if err != nil {
		return fmt.Errorf("token issuer: %w", err)
	}
	sessions := session.NewService(store.Sessions(), session.WithTTL(cfg.Session.RefreshTTL))
	authSvc, err := auth.NewService(sessions, issuer, store.People())
	if err != nil {
		return err
	}

	limiter, closeLimiter := newLimiter(cfg)
	defer closeLimiter()

	api, err := httpapi.New(httpapi.Options{
		Auth:         authSvc,
		Sessions:     sessions,
		Resolver:     resolver,
		Guard:        guard,
		Limiter:      limiter,
		Ready:        store,
		Version:      version,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	sweeper := &session.Sweeper{
		Repo:      store.Sessions(),
		Interval:  cfg.Session.SweepInterval,
		Retention: cfg.Session.Retention,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting hrms-authz",
			zap.String("version", version),
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.App.Env),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}

func newLimiter(cfg *config.Config) (ratelimit.Limiter, func()) {
	rl := cfg.RateLimit
	switch rl.Kind {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: rl.Redis.Addr, DB: rl.Redis.DB})
		return ratelimit.NewRedis(client, rl.Redis.Prefix, rl.Burst, rl.Window), func() { _ = client.Close() }
	case "off":
		return nil, func() {}
	default:
		return ratelimit.NewLocal(rl.PerSecond, rl.Burst, 10*time.Minute), func() {}
	}
}
