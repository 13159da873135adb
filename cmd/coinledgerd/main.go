package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/coinledger/internal/catalogcache"
	"github.com/MarkoPoloResearchLab/coinledger/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/coinledger/internal/httpapi"
	"github.com/MarkoPoloResearchLab/coinledger/internal/metrics"
	"github.com/MarkoPoloResearchLab/coinledger/internal/oplog"
	"github.com/MarkoPoloResearchLab/coinledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL          = "database-url"
	flagListenAddr           = "listen-addr"
	flagGRPCListenAddr       = "grpc-listen-addr"
	flagRedisAddr            = "redis-addr"
	flagCatalogCacheTTL      = "catalog-cache-ttl"
	flagAllowedOrigins       = "allowed-origins"
	flagJWTSigningKey        = "jwt-signing-key"
	flagJWTIssuer            = "jwt-issuer"
	flagJWTCookieName        = "jwt-cookie-name"
	flagAdminRole            = "admin-role"
	flagCreatorRole          = "creator-role"
	flagCoinsPerCurrencyUnit = "coins-per-currency-unit"
	flagMinimumWithdrawal    = "minimum-withdrawal-units"
	flagPayoutProcessingTime = "payout-processing-time"
	flagRequestTimeout       = "request-timeout"
	flagRecentEntriesLimit   = "recent-entries-limit"
	flagHealthInterval       = "health-interval"
	envPrefix                = "COINLEDGER"
	defaultDatabaseURL       = "sqlite:///tmp/coinledger.db"
	defaultHealthInterval    = 5 * time.Second
	catalogCacheJitter       = 5 * time.Second
)

var serveFlags = []string{
	flagListenAddr,
	flagGRPCListenAddr,
	flagRedisAddr,
	flagCatalogCacheTTL,
	flagAllowedOrigins,
	flagJWTSigningKey,
	flagJWTIssuer,
	flagJWTCookieName,
	flagAdminRole,
	flagCreatorRole,
	flagCoinsPerCurrencyUnit,
	flagMinimumWithdrawal,
	flagPayoutProcessingTime,
	flagRequestTimeout,
	flagRecentEntriesLimit,
	flagHealthInterval,
}

type serveConfig struct {
	api            httpapi.Config
	healthInterval time.Duration
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "coinledgerd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &serveConfig{}
	cmd := &cobra.Command{
		Use:           "coinledgerd",
		Short:         "Coin ledger and purchase engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadServeConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.PersistentFlags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL URL or sqlite path")
	cmd.Flags().String(flagListenAddr, "", "HTTP listen address")
	cmd.Flags().String(flagGRPCListenAddr, "", "gRPC health listen address")
	cmd.Flags().String(flagRedisAddr, "", "redis address for the catalog cache (optional)")
	cmd.Flags().Duration(flagCatalogCacheTTL, 0, "catalog cache TTL")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagJWTSigningKey, "", "TAuth JWT signing key (required)")
	cmd.Flags().String(flagJWTIssuer, "", "expected JWT issuer")
	cmd.Flags().String(flagJWTCookieName, "", "JWT cookie name")
	cmd.Flags().String(flagAdminRole, "", "role allowed to use admin routes")
	cmd.Flags().String(flagCreatorRole, "", "role that sees creator earnings")
	cmd.Flags().Int64(flagCoinsPerCurrencyUnit, 0, "coins per currency unit")
	cmd.Flags().Int64(flagMinimumWithdrawal, 0, "minimum withdrawal in currency units")
	cmd.Flags().String(flagPayoutProcessingTime, "", "estimated payout processing time shown to creators")
	cmd.Flags().Duration(flagRequestTimeout, 0, "per-request ledger timeout")
	cmd.Flags().Int(flagRecentEntriesLimit, 0, "entries included in balance summaries")
	cmd.Flags().Duration(flagHealthInterval, defaultHealthInterval, "store ping interval for gRPC health")

	cmd.AddCommand(newMigrateCommand(), newCatalogCommand(), newAuditCommand())
	return cmd
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func loadDatabaseURL(cmd *cobra.Command, v *viper.Viper) (string, error) {
	if err := v.BindPFlag(flagDatabaseURL, cmd.Root().PersistentFlags().Lookup(flagDatabaseURL)); err != nil {
		return "", err
	}
	databaseURL := strings.TrimSpace(v.GetString(flagDatabaseURL))
	if databaseURL == "" {
		return "", fmt.Errorf("%s is required", flagDatabaseURL)
	}
	return databaseURL, nil
}

func loadServeConfig(cmd *cobra.Command, cfg *serveConfig) error {
	v := newViper()
	databaseURL, err := loadDatabaseURL(cmd, v)
	if err != nil {
		return err
	}
	for _, flagName := range serveFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.api = httpapi.Config{
		ListenAddr:             strings.TrimSpace(v.GetString(flagListenAddr)),
		GRPCListenAddr:         strings.TrimSpace(v.GetString(flagGRPCListenAddr)),
		DatabaseURL:            databaseURL,
		RedisAddr:              strings.TrimSpace(v.GetString(flagRedisAddr)),
		CatalogCacheTTL:        v.GetDuration(flagCatalogCacheTTL),
		AllowedOrigins:         httpapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins)),
		SessionSigningKey:      v.GetString(flagJWTSigningKey),
		SessionIssuer:          strings.TrimSpace(v.GetString(flagJWTIssuer)),
		SessionCookieName:      strings.TrimSpace(v.GetString(flagJWTCookieName)),
		AdminRole:              strings.TrimSpace(v.GetString(flagAdminRole)),
		CreatorRole:            strings.TrimSpace(v.GetString(flagCreatorRole)),
		CoinsPerCurrencyUnit:   v.GetInt64(flagCoinsPerCurrencyUnit),
		MinimumWithdrawalUnits: v.GetInt64(flagMinimumWithdrawal),
		PayoutProcessingTime:   strings.TrimSpace(v.GetString(flagPayoutProcessingTime)),
		RequestTimeout:         v.GetDuration(flagRequestTimeout),
		RecentEntriesLimit:     v.GetInt(flagRecentEntriesLimit),
	}
	cfg.healthInterval = v.GetDuration(flagHealthInterval)
	return cfg.api.Validate()
}

func runServer(ctx context.Context, cfg *serveConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.api.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	if driver == driverSQLite {
		if err := gormstore.Migrate(ctx, gormDB); err != nil {
			return err
		}
	}

	catalog, closeCatalog, err := buildCatalog(gormDB, cfg.api, logger)
	if err != nil {
		return err
	}
	defer closeCatalog()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.NewRecorder(registry)
	if err != nil {
		return fmt.Errorf("metrics init: %w", err)
	}

	store := gormstore.New(gormDB)
	deps, err := buildDependencies(store, catalog, cfg.api, ledger.WithOperationLogger(oplog.New(logger), recorder))
	if err != nil {
		return err
	}
	deps.Metrics = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	deps.Logger = logger
	handler, err := httpapi.NewHandler(cfg.api, deps)
	if err != nil {
		return fmt.Errorf("http handler init: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.api.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	checker := grpcserver.NewHealthChecker(store, cfg.healthInterval, logger)
	grpcServer := grpcserver.NewServer(checker)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		checker.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		logger.Info("gRPC health server starting", zap.String("listen_addr", cfg.api.GRPCListenAddr))
		if serveErr := grpcServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown requested")
		grpcServer.GracefulStop()
		return nil
	})
	group.Go(func() error {
		return httpapi.Run(groupCtx, cfg.api, handler, logger)
	})
	return group.Wait()
}

// buildCatalog returns the database catalog, fronted by redis when an address is configured.
func buildCatalog(db *gorm.DB, cfg httpapi.Config, logger *zap.Logger) (ledger.Catalog, func(), error) {
	backing := gormstore.NewCatalog(db)
	if cfg.RedisAddr == "" {
		return backing, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	cached, err := catalogcache.New(backing, catalogcache.NewRedisCache(client, catalogCacheJitter), cfg.CatalogCacheTTL, logger)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logger.Info("catalog cache enabled", zap.String("redis_addr", cfg.RedisAddr), zap.Duration("ttl", cfg.CatalogCacheTTL))
	return cached, func() { _ = client.Close() }, nil
}

func buildDependencies(store *gormstore.Store, catalog ledger.Catalog, cfg httpapi.Config, options ...ledger.ServiceOption) (httpapi.Dependencies, error) {
	clock := func() time.Time { return time.Now().UTC() }
	service, err := ledger.NewService(store, clock, options...)
	if err != nil {
		return httpapi.Dependencies{}, fmt.Errorf("ledger service init: %w", err)
	}
	purchases, err := ledger.NewPurchaseOrchestrator(service, catalog)
	if err != nil {
		return httpapi.Dependencies{}, fmt.Errorf("purchase orchestrator init: %w", err)
	}
	withdrawals, err := ledger.NewWithdrawalProcessor(service, cfg.WithdrawalPolicy())
	if err != nil {
		return httpapi.Dependencies{}, fmt.Errorf("withdrawal processor init: %w", err)
	}
	access, err := ledger.NewAccessResolver(catalog, store)
	if err != nil {
		return httpapi.Dependencies{}, fmt.Errorf("access resolver init: %w", err)
	}
	pricing, err := ledger.NewPricingAdjuster(catalog, store)
	if err != nil {
		return httpapi.Dependencies{}, fmt.Errorf("pricing adjuster init: %w", err)
	}
	return httpapi.Dependencies{
		Service:     service,
		Purchases:   purchases,
		Withdrawals: withdrawals,
		Access:      access,
		Pricing:     pricing,
	}, nil
}
