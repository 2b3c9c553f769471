package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rayven122/tumiki-sub015/internal/auth"
	"github.com/rayven122/tumiki-sub015/internal/cache"
	"github.com/rayven122/tumiki-sub015/internal/config"
	"github.com/rayven122/tumiki-sub015/internal/executor"
	"github.com/rayven122/tumiki-sub015/internal/features"
	"github.com/rayven122/tumiki-sub015/internal/logging"
	"github.com/rayven122/tumiki-sub015/internal/metrics"
	"github.com/rayven122/tumiki-sub015/internal/pool"
	"github.com/rayven122/tumiki-sub015/internal/recovery"
	"github.com/rayven122/tumiki-sub015/internal/requestlog"
	"github.com/rayven122/tumiki-sub015/internal/server"
	"github.com/rayven122/tumiki-sub015/internal/session"
	"github.com/rayven122/tumiki-sub015/internal/shutdown"
	"github.com/rayven122/tumiki-sub015/internal/store"
	"github.com/rayven122/tumiki-sub015/internal/tracing"
)

const (
	defaultConfigPath    = "/etc/mcp-gateway/gateway.yaml"
	readHeaderTimeout    = 10 * time.Second
	memoryCacheSweep     = time.Minute
	collectorReportEvery = time.Minute
	startupTimeout       = 30 * time.Second
	tracerName           = "github.com/rayven122/tumiki-sub015/executor"
)

var (
	Version   = "v1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// VersionRequestedError is returned when the version flag is set.
type VersionRequestedError struct{}

func (e VersionRequestedError) Error() string {
	return "version requested"
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-gateway",
		Short: "MCP Gateway - authenticated tool gateway for MCP servers",
		Long: `MCP Gateway authenticates MCP clients by API key or JWT, keeps their
sessions, and forwards tool calls to the upstream MCP servers configured
for each tenant over Streamable HTTP and SSE.`,
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().StringP("config", "c", defaultConfigPath, "Path to configuration file")
	cmd.Flags().BoolP("version", "v", false, "Show version information")
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(adminCmd())

	return cmd
}

// Components are the long-lived parts of a running gateway.
type Components struct {
	Metrics    *metrics.Registry
	Collector  *metrics.Collector
	Postgres   *store.PostgresStore
	Store      *store.CachedStore
	Redis      *redis.Client
	Memory     *cache.MemoryStore
	Auth       *auth.Router
	Sessions   *session.Manager
	Pool       *pool.Manager
	Recovery   *recovery.Manager
	Executor   *executor.Executor
	RequestLog *requestlog.Logger
	Tracing    *tracing.Provider
}

// Servers are the listeners started by the gateway.
type Servers struct {
	Gateway *server.Server
	Metrics *http.Server
}

func run(cmd *cobra.Command, _ []string) error {
	if err := handleVersionFlag(cmd); err != nil {
		var errVersionRequested VersionRequestedError
		if errors.As(err, &errVersionRequested) {
			return nil
		}

		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := setupLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}

	coord := shutdown.CreateCoordinator(cfg.Shutdown.GracePeriod, logger)

	servers, err := startServers(cfg, components, func() bool { return !coord.Draining() }, logger)
	if err != nil {
		closeComponents(context.Background(), components, logger)

		return err
	}

	registerShutdown(coord, servers, components, logger)

	err = coord.Run(ctx)
	cancel()

	return err
}

func handleVersionFlag(cmd *cobra.Command) error {
	showVersion, err := cmd.Flags().GetBool("version")
	if err != nil {
		return fmt.Errorf("failed to get version flag: %w", err)
	}

	if showVersion {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "MCP Gateway\n")
		fmt.Fprintf(out, "Version: %s\n", Version)
		fmt.Fprintf(out, "Build Time: %s\n", BuildTime)
		fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)

		return VersionRequestedError{}
	}

	return nil
}

// setupLogger builds the logger from configuration. An explicit --log-level
// wins over the configured level.
func setupLogger(cmd *cobra.Command, cfg *config.Config) (*zap.Logger, error) {
	level := cfg.Logging.Level
	if cmd.Flags().Changed("log-level") || level == "" {
		flagLevel, err := cmd.Flags().GetString("log-level")
		if err != nil {
			return nil, fmt.Errorf("failed to get log-level flag: %w", err)
		}

		level = flagLevel
	}

	logger, err := logging.NewLogger(level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger, nil
}

func syncLogger(logger *zap.Logger) {
	if syncErr := logger.Sync(); syncErr != nil {
		// zap reports EINVAL when stderr is not a regular file.
		if syncErr.Error() != "sync /dev/stderr: invalid argument" &&
			syncErr.Error() != "sync /dev/stdout: invalid argument" {
			fmt.Fprintf(os.Stderr, "Failed to sync logger: %v\n", syncErr)
		}
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	logger.Info("Initializing gateway components", zap.String("version", Version))

	c := &Components{Metrics: metrics.InitializeMetricsRegistry()}
	c.Collector = metrics.NewCollector(logger, c.Metrics)

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	if err := initializeStorage(startCtx, cfg, c, logger); err != nil {
		closeComponents(context.Background(), c, logger)

		return nil, err
	}

	if err := initializeAuth(ctx, cfg, c, logger); err != nil {
		closeComponents(context.Background(), c, logger)

		return nil, err
	}

	provider, err := tracing.InitTracer(cfg.Tracing, Version, logger)
	if err != nil {
		closeComponents(context.Background(), c, logger)

		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	c.Tracing = provider

	c.Sessions = session.CreateSessionManager(cfg.Sessions, logger, c.Metrics)
	c.Sessions.Start(ctx)

	c.Pool = pool.CreatePoolManager(cfg.Pool, pool.NewMCPConnectionFactory(Version, logger), c.Collector, c.Metrics, logger)
	c.Pool.Start(ctx)

	c.Recovery = recovery.CreateRecoveryManager(cfg.Recovery, c.Sessions, logger, c.Metrics)
	go c.Recovery.Monitor(ctx)

	c.Executor = executor.CreateExecutor(cfg.Executor, c.Store, c.Pool, c.Collector, logger,
		executor.WithRecovery(c.Recovery),
		executor.WithPrivacy(features.NewPrivacy(cfg.Features.Privacy.Enabled)),
		executor.WithTracer(c.Tracing.Tracer(tracerName)),
	)

	var publisher requestlog.Publisher
	if cfg.Analytics.Enabled {
		if c.Redis == nil {
			client, err := cache.InitializeRedisClient(startCtx, cfg.Cache.Redis)
			if err != nil {
				closeComponents(context.Background(), c, logger)

				return nil, fmt.Errorf("failed to connect analytics stream: %w", err)
			}

			c.Redis = client
		}

		publisher = requestlog.NewStreamPublisher(c.Redis, cfg.Analytics, logger)
	}

	c.RequestLog = requestlog.CreateRequestLogger(cfg.Analytics, c.Postgres, publisher, logger, c.Metrics)
	c.RequestLog.Start()

	go c.Collector.Report(ctx, collectorReportEvery)

	logger.Info("Gateway components initialized",
		zap.String("cache_provider", cfg.Cache.Provider),
		zap.Bool("analytics", cfg.Analytics.Enabled),
		zap.Bool("tracing", cfg.Tracing.Enabled),
	)

	return c, nil
}

func initializeStorage(ctx context.Context, cfg *config.Config, c *Components, logger *zap.Logger) error {
	pg, err := store.InitializePostgresStore(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("failed to connect metadata store: %w", err)
	}

	c.Postgres = pg

	var backing cache.Store

	switch cfg.Cache.Provider {
	case config.CacheProviderRedis:
		client, err := cache.InitializeRedisClient(ctx, cfg.Cache.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect cache: %w", err)
		}

		c.Redis = client
		backing = cache.NewRedisStore(client, cfg.Cache.KeyPrefix)
	default:
		c.Memory = cache.CreateMemoryStore(logger, memoryCacheSweep)
		backing = c.Memory
	}

	c.Store = store.NewCachedStore(pg, backing, cfg.Cache, logger, c.Metrics)

	return nil
}

func initializeAuth(ctx context.Context, cfg *config.Config, c *Components, logger *zap.Logger) error {
	var verifier auth.TokenVerifier

	jwtCfg := cfg.Auth.JWT
	if jwtCfg.SecretKey != "" || jwtCfg.PublicKeyPath != "" || jwtCfg.JWKSURL != "" {
		v, err := auth.InitializeJWTVerifier(ctx, jwtCfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize JWT verifier: %w", err)
		}

		verifier = v
	} else {
		logger.Warn("No JWT key source configured, bearer JWTs will be rejected")
	}

	c.Auth = auth.CreateAuthRouter(auth.NewClassifier(cfg.Auth.APIKey), verifier, c.Store, logger, c.Metrics)

	return nil
}

func startServers(cfg *config.Config, c *Components, ready func() bool, logger *zap.Logger) (*Servers, error) {
	gateway := server.CreateServer(cfg.Server, server.Dependencies{
		Auth:       c.Auth,
		Sessions:   c.Sessions,
		Executor:   c.Executor,
		RequestLog: c.RequestLog,
		Metrics:    c.Metrics,
		Tracing:    c.Tracing,
		Ready:      ready,
	}, Version, logger)

	if err := gateway.Start(); err != nil {
		return nil, fmt.Errorf("failed to start gateway server: %w", err)
	}

	servers := &Servers{Gateway: gateway}

	if cfg.Server.MetricsPort > 0 {
		servers.Metrics = &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.MetricsPort)),
			Handler:           c.Metrics.Handler(),
			ReadHeaderTimeout: readHeaderTimeout,
		}

		go func() {
			logger.Info("Starting metrics server", zap.Int("port", cfg.Server.MetricsPort))

			if err := servers.Metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server error", zap.Error(err))
			}
		}()
	}

	return servers, nil
}

// registerShutdown wires the drain sequence. Requests in flight finish and
// their log records flush before the store closes; upstream connections
// close alongside.
func registerShutdown(coord *shutdown.Coordinator, servers *Servers, c *Components, logger *zap.Logger) {
	coord.OnDrain(c.Sessions.StopAdmitting)

	coord.Register("requests", func(ctx context.Context) error {
		err := servers.Gateway.Shutdown(ctx)

		if cerr := c.Sessions.Close(); cerr != nil && err == nil {
			err = cerr
		}

		if cerr := c.RequestLog.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}

		closeStorage(c, logger)

		return err
	})

	coord.Register("upstream-connections", c.Pool.Close)

	if servers.Metrics != nil {
		coord.Register("metrics-server", servers.Metrics.Shutdown)
	}

	coord.Register("tracing", c.Tracing.Shutdown)
}

// closeComponents releases whatever initializeComponents managed to open.
func closeComponents(ctx context.Context, c *Components, logger *zap.Logger) {
	if c.Sessions != nil {
		_ = c.Sessions.Close()
	}

	if c.Pool != nil {
		_ = c.Pool.Close(ctx)
	}

	if c.RequestLog != nil {
		_ = c.RequestLog.Close(ctx)
	}

	if c.Tracing != nil {
		_ = c.Tracing.Shutdown(ctx)
	}

	closeStorage(c, logger)
}

func closeStorage(c *Components, logger *zap.Logger) {
	if c.Memory != nil {
		_ = c.Memory.Close()
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}

	if c.Postgres != nil {
		c.Postgres.Close()
	}
}
