package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/accountd/internal/httpserver"
	"github.com/MarkoPoloResearchLab/accountd/internal/oplog"
	"github.com/MarkoPoloResearchLab/accountd/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/accountd/pkg/account"
	"github.com/MarkoPoloResearchLab/accountd/pkg/lock"
	"github.com/glebarez/sqlite"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL    = "database-url"
	flagListenAddr     = "listen-addr"
	flagRedisAddr      = "redis-addr"
	flagAllowedOrigins = "allowed-origins"
	flagLockWait       = "lock-wait-timeout"
	flagLockHold       = "lock-hold-timeout"

	configKeyDatabaseURL    = "database_url"
	configKeyListenAddr     = "listen_addr"
	configKeyRedisAddr      = "redis_addr"
	configKeyAllowedOrigins = "allowed_origins"
	configKeyLockWait       = "lock_wait_timeout"
	configKeyLockHold       = "lock_hold_timeout"

	defaultDatabaseURL = "sqlite:///tmp/accountd.db"
	defaultListenAddr  = ":8080"
)

type runtimeConfig struct {
	DatabaseURL    string
	ListenAddr     string
	RedisAddr      string
	AllowedOrigins string
	LockWait       time.Duration
	LockHold       time.Duration
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "accountd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "accountd",
		Short:         "Account balance REST server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagRedisAddr, "", "Redis address for distributed account locks (empty uses in-process locks)")
	cmd.Flags().String(flagAllowedOrigins, "", "Comma separated CORS origins")
	cmd.Flags().Duration(flagLockWait, lock.DefaultWaitTimeout, "How long a request waits for an account lock")
	cmd.Flags().Duration(flagLockHold, lock.DefaultHoldTimeout, "How long an account lock is held before auto release")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	envBindings := map[string]string{
		configKeyDatabaseURL:    "DATABASE_URL",
		configKeyListenAddr:     "LISTEN_ADDR",
		configKeyRedisAddr:      "REDIS_ADDR",
		configKeyAllowedOrigins: "ALLOWED_ORIGINS",
		configKeyLockWait:       "LOCK_WAIT_TIMEOUT",
		configKeyLockHold:       "LOCK_HOLD_TIMEOUT",
	}
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}

	flagBindings := map[string]string{
		configKeyDatabaseURL:    flagDatabaseURL,
		configKeyListenAddr:     flagListenAddr,
		configKeyRedisAddr:      flagRedisAddr,
		configKeyAllowedOrigins: flagAllowedOrigins,
		configKeyLockWait:       flagLockWait,
		configKeyLockHold:       flagLockHold,
	}
	for key, flag := range flagBindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.RedisAddr = viper.GetString(configKeyRedisAddr)
	cfg.AllowedOrigins = viper.GetString(configKeyAllowedOrigins)
	cfg.LockWait = viper.GetDuration(configKeyLockWait)
	if cfg.LockWait <= 0 {
		cfg.LockWait = lock.DefaultWaitTimeout
	}
	cfg.LockHold = viper.GetDuration(configKeyLockHold)
	if cfg.LockHold <= 0 {
		cfg.LockHold = lock.DefaultHoldTimeout
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	store := gormstore.New(gormDB)
	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := account.NewService(store, clock,
		account.WithOperationLogger(oplog.New(logger)))
	if err != nil {
		return fmt.Errorf("account service init: %w", err)
	}

	locker, lockerCleanup, err := newLocker(ctx, cfg.RedisAddr, logger)
	if err != nil {
		return fmt.Errorf("locker init: %w", err)
	}
	defer lockerCleanup()

	guard, err := lock.NewGuard(locker,
		lock.WithWaitTimeout(cfg.LockWait),
		lock.WithHoldTimeout(cfg.LockHold),
		lock.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("lock guard init: %w", err)
	}

	serverConfig := httpserver.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: httpserver.ParseAllowedOrigins(cfg.AllowedOrigins),
	}
	return httpserver.Run(ctx, serverConfig, service, guard, logger)
}

func newLocker(ctx context.Context, redisAddr string, logger *zap.Logger) (lock.Locker, func() error, error) {
	if strings.TrimSpace(redisAddr) == "" {
		logger.Info("no redis address configured, using in-process account locks")
		return lock.NewLocalLocker(), func() error { return nil }, nil
	}
	client := goredislib.NewClient(&goredislib.Options{Addr: redisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", redisAddr, err)
	}
	locker, err := lock.NewRedisLocker(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logger.Info("redis account locks enabled", zap.String("redis_addr", redisAddr))
	return locker, client.Close, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "accountd.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := gormstore.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
