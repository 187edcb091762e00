// Package bootstrap wires all dependencies and starts the application.
// Configuration comes from a YAML file with QUOTAGATE_* environment overrides.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/shrinkix/quotagate/adapters/clock"
	"github.com/shrinkix/quotagate/adapters/engine"
	"github.com/shrinkix/quotagate/adapters/hasher"
	apihttp "github.com/shrinkix/quotagate/adapters/http"
	"github.com/shrinkix/quotagate/adapters/idgen"
	"github.com/shrinkix/quotagate/adapters/memory"
	"github.com/shrinkix/quotagate/adapters/metrics"
	"github.com/shrinkix/quotagate/adapters/postgres"
	"github.com/shrinkix/quotagate/adapters/random"
	"github.com/shrinkix/quotagate/adapters/redis"
	"github.com/shrinkix/quotagate/adapters/sqlite"
	"github.com/shrinkix/quotagate/app"
	"github.com/shrinkix/quotagate/config"
	"github.com/shrinkix/quotagate/domain/quota"
	"github.com/shrinkix/quotagate/ports"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	HTTPServer *http.Server
	Metrics    *metrics.Collector
	Catalogs   *app.CatalogHolder

	// Services
	Accounts *app.AccountService
	Ledger   *app.CreditLedger
	Sweeper  *app.CycleSweeper
	Compress *app.CompressService

	holder  *config.Holder
	clock   ports.Clock
	metrics ports.Metrics
	health  map[string]apihttp.HealthChecker

	// Stores
	accountStore    ports.AccountStore
	creditStore     ports.CreditStore
	credentialStore ports.CredentialStore

	// Adapters (for cleanup), closed in reverse order
	closers []namedCloser
}

// Options tunes application initialization.
type Options struct {
	// Version is reported by /version.
	Version string

	// Holder enables hot reload of plans, add-ons and the log level.
	Holder *config.Holder

	// Registry receives the metrics instead of the default registerer.
	Registry *prometheus.Registry

	// Logger overrides the logger built from the logging section.
	Logger *zerolog.Logger

	// Clock overrides the wall clock.
	Clock ports.Clock

	// WithoutServer skips the guest ledger, rate-limit store, engine and
	// HTTP edge. CLI commands only need storage and account services.
	WithoutServer bool
}

type namedCloser struct {
	name  string
	close func() error
}

// checkFunc adapts a function to apihttp.HealthChecker.
type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// New creates and initializes the application.
func New(cfg *config.Config, opts Options) (*App, error) {
	logger := SetupLogger(cfg.Logging)
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	logger.Info().Msg("initializing quotagate")

	a := &App{
		Logger:   logger,
		Config:   cfg,
		Catalogs: app.NewCatalogHolder(cfg.PlanCatalog(), cfg.AddonCatalog()),
		holder:   opts.Holder,
		clock:    clock.Real{},
		metrics:  ports.NopMetrics{},
		health:   make(map[string]apihttp.HealthChecker),
	}
	if opts.Clock != nil {
		a.clock = opts.Clock
	}

	// Initialize metrics if enabled
	if cfg.Metrics.Enabled {
		if opts.Registry != nil {
			a.Metrics = metrics.NewWithRegistry(opts.Registry)
		} else {
			a.Metrics = metrics.New()
		}
		a.metrics = a.Metrics
		logger.Info().Msg("prometheus metrics enabled")
	}

	ctx := context.Background()

	if err := a.initStorage(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("init storage: %w", err)
	}

	a.initServices()

	if !opts.WithoutServer {
		if err := a.initHTTPServer(ctx, opts); err != nil {
			a.closeAll()
			return nil, fmt.Errorf("init http server: %w", err)
		}
	}

	if a.holder != nil {
		a.watchConfig()
	}

	return a, nil
}

func (a *App) initStorage(ctx context.Context) error {
	cfg := a.Config.Storage

	switch cfg.Driver {
	case "memory":
		accounts := memory.NewAccountStore()
		a.accountStore = accounts
		a.creditStore = accounts
		a.credentialStore = memory.NewCredentialStore()
		a.Logger.Warn().Msg("using in-memory storage, accounts are lost on restart")

	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.DSN)
		if err != nil {
			return err
		}
		a.addCloser("postgres", func() error { pool.Close(); return nil })

		if err := postgres.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		accounts := postgres.NewAccountStore(pool)
		a.accountStore = accounts
		a.creditStore = accounts
		a.credentialStore = postgres.NewCredentialStore(pool)
		a.health["accounts"] = poolCheck(pool)

	default:
		db, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return err
		}
		a.addCloser("sqlite", db.Close)

		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		accounts := sqlite.NewAccountStore(db)
		a.accountStore = accounts
		a.creditStore = accounts
		a.credentialStore = sqlite.NewCredentialStore(db)
		a.health["accounts"] = checkFunc(db.PingContext)
	}

	a.Logger.Info().Str("driver", cfg.Driver).Msg("storage initialized")
	return nil
}

func poolCheck(pool *pgxpool.Pool) checkFunc {
	return func(ctx context.Context) error { return pool.Ping(ctx) }
}

func (a *App) initServices() {
	a.Ledger = app.NewCreditLedger(app.LedgerDeps{
		Accounts: a.accountStore,
		Credits:  a.creditStore,
		Catalogs: a.Catalogs,
		Clock:    a.clock,
		IDGen:    idgen.UUID{Prefix: idgen.PrefixPurchase},
		Metrics:  a.metrics,
		Logger:   a.Logger,
	})

	a.Accounts = app.NewAccountService(app.AccountDeps{
		Accounts:    a.accountStore,
		Credentials: a.credentialStore,
		Ledger:      a.Ledger,
		Catalogs:    a.Catalogs,
		Hasher:      hasher.NewBcrypt(a.Config.Auth.BcryptCost),
		Random:      random.Real{},
		Clock:       a.clock,
		AccountIDs:  idgen.UUID{Prefix: idgen.PrefixAccount},
		KeyIDs:      idgen.UUID{Prefix: idgen.PrefixCredential},
		Logger:      a.Logger,
	}, app.AccountConfig{KeyPrefix: a.Config.Auth.KeyPrefix})

	a.Sweeper = app.NewCycleSweeper(app.SweeperDeps{
		Accounts: a.accountStore,
		Ledger:   a.Ledger,
		Catalogs: a.Catalogs,
		Clock:    a.clock,
		Logger:   a.Logger,
	}, a.Config.Quota.SweepBatch)
}

func (a *App) initHTTPServer(ctx context.Context, opts Options) error {
	cfg := a.Config

	guests, rateLimits, err := a.buildGuestStores(ctx)
	if err != nil {
		return err
	}

	processor, err := a.buildEngine()
	if err != nil {
		return err
	}

	trusted, err := cfg.Server.TrustedPrefixes()
	if err != nil {
		return err
	}

	resolver := app.NewCredentialResolver(app.ResolverDeps{
		Accounts:    a.accountStore,
		Credentials: a.credentialStore,
		Hasher:      hasher.NewBcrypt(cfg.Auth.BcryptCost),
		Clock:       a.clock,
		Metrics:     a.metrics,
		Logger:      a.Logger,
	})

	enforcer := app.NewQuotaEnforcer(app.EnforcerDeps{
		Accounts: a.accountStore,
		Ledger:   a.Ledger,
		Catalogs: a.Catalogs,
		Clock:    a.clock,
		Metrics:  a.metrics,
		Logger:   a.Logger,
	})

	recorder := app.NewUsageRecorder(app.RecorderDeps{
		Accounts: a.accountStore,
		Ledger:   a.Ledger,
		Catalogs: a.Catalogs,
		Clock:    a.clock,
		Metrics:  a.metrics,
		Logger:   a.Logger,
	})

	a.Compress = app.NewCompressService(app.CompressDeps{
		Resolver:  resolver,
		Enforcer:  enforcer,
		Recorder:  recorder,
		Guests:    app.NewGuestQuota(guests, a.clock, a.metrics, cfg.Guest.DailyLimit),
		Annotator: app.NewRateLimitAnnotator(rateLimits, a.clock, a.Logger),
		Catalogs:  a.Catalogs,
		Prober:    engine.HeaderProber{},
		Processor: processor,
		Clock:     a.clock,
		Logger:    a.Logger,
	})

	handler := apihttp.NewHandler(apihttp.HandlerDeps{
		Compress: a.Compress,
		Resolver: resolver,
		Accounts: a.Accounts,
		Ledger:   a.Ledger,
		Catalogs: a.Catalogs,
		Clock:    a.clock,
		Logger:   a.Logger,
	}, apihttp.HandlerConfig{
		APIMode:        quota.ParseMode(cfg.Quota.APIMode),
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		TrustedProxies: trusted,
	})

	routerCfg := apihttp.RouterConfig{
		Metrics:        a.Metrics,
		EnableOpenAPI:  cfg.OpenAPI.Enabled,
		Version:        opts.Version,
		RequestTimeout: cfg.Server.RequestTimeout,
	}
	if a.Metrics != nil && opts.Registry != nil {
		routerCfg.MetricsHandler = promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})
	}

	router := apihttp.NewRouter(handler, apihttp.NewHealthHandler(a.health), a.Logger, routerCfg)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	a.HTTPServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	a.Logger.Info().Str("addr", addr).Msg("http server configured")
	return nil
}

// buildGuestStores selects the guest ledger and rate-limit store. Both
// share one Redis client when either is set to "redis".
func (a *App) buildGuestStores(ctx context.Context) (ports.GuestLedger, ports.RateLimitStore, error) {
	cfg := a.Config

	var client *goredis.Client
	if cfg.Guest.Store == "redis" || cfg.RateLimit.Store == "redis" {
		c, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		client = c
		a.addCloser("redis", c.Close)
		a.health["redis"] = checkFunc(func(ctx context.Context) error { return c.Ping(ctx).Err() })
		a.Logger.Info().Str("addr", cfg.Redis.Addr).Msg("redis connected")
	}
	prefix := redis.WithKeyPrefix(cfg.Redis.KeyPrefix)

	var guests ports.GuestLedger
	if cfg.Guest.Store == "redis" {
		guests = redis.NewGuestLedger(client, prefix)
	} else {
		l := memory.NewGuestLedger(memory.GuestLedgerConfig{
			NumShards:       32,
			CleanupInterval: 10 * time.Minute,
			Clock:           a.clock,
		})
		a.addCloser("guest ledger", l.Close)
		guests = l
	}

	var rateLimits ports.RateLimitStore
	if cfg.RateLimit.Store == "redis" {
		rateLimits = redis.NewRateLimitStore(client, prefix)
	} else {
		s := memory.NewRateLimitStore(memory.RateLimitConfig{
			NumShards:       32,
			CleanupInterval: 5 * time.Minute,
		})
		a.addCloser("rate limit store", s.Close)
		rateLimits = s
	}

	return guests, rateLimits, nil
}

func (a *App) buildEngine() (ports.Processor, error) {
	cfg := a.Config.Engine
	if cfg.Mode != "remote" {
		a.Logger.Info().Msg("using local image engine")
		return engine.NewLocal(a.metrics), nil
	}

	remote, err := engine.NewRemote(engine.RemoteConfig{
		BaseURL:         cfg.URL,
		Timeout:         cfg.Timeout,
		MaxIdleConns:    cfg.MaxIdleConns,
		IdleConnTimeout: cfg.IdleConnTimeout,
	}, a.metrics)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	a.addCloser("engine", remote.Close)
	a.health["engine"] = remote
	a.Logger.Info().Str("url", cfg.URL).Msg("using remote image engine")
	return remote, nil
}

// watchConfig applies reloadable configuration as it changes.
func (a *App) watchConfig() {
	a.holder.OnChange(func(cfg *config.Config) {
		a.Catalogs.Update(cfg.PlanCatalog(), cfg.AddonCatalog())
		if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
			zerolog.SetGlobalLevel(level)
		}
		if a.Metrics != nil {
			a.Metrics.ConfigReloads.Inc()
			a.Metrics.ConfigLastReload.SetToCurrentTime()
		}
		a.Logger.Info().
			Int("plans", len(cfg.Plans)).
			Int("addons", len(cfg.Addons.Bundles)).
			Msg("catalogs reloaded")
	})
	a.holder.OnError(func(error) {
		if a.Metrics != nil {
			a.Metrics.ConfigReloadErrors.Inc()
		}
	})
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	if a.HTTPServer == nil {
		return fmt.Errorf("http server not initialized")
	}

	if interval := a.Config.Quota.SweepInterval; interval > 0 {
		a.Sweeper.Start(interval)
		a.Logger.Info().Dur("interval", interval).Msg("cycle sweeper started")
	}

	if a.holder != nil {
		if err := a.holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch disabled")
		}
		a.holder.WatchSignals()
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		a.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown HTTP server first so in-flight usage records complete
	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}

	if a.holder != nil {
		a.holder.Stop()
		a.holder = nil
	}

	a.closeAll()

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.Logger.Error().Err(err).Str("component", c.name).Msg("close error")
		}
	}
	a.closers = nil
}

// SetupLogger builds the process logger and sets the global level.
func SetupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
