package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stafflinehq/staffline/internal/cache"
	"github.com/stafflinehq/staffline/internal/config"
	"github.com/stafflinehq/staffline/internal/device"
	"github.com/stafflinehq/staffline/internal/engine"
	"github.com/stafflinehq/staffline/internal/logging"
	"github.com/stafflinehq/staffline/internal/queue"
	"github.com/stafflinehq/staffline/internal/record"
	"github.com/stafflinehq/staffline/internal/remote"
	"github.com/stafflinehq/staffline/internal/server"
	"github.com/stafflinehq/staffline/internal/session"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "staffline-sync",
		Short: "Staffline offline-first sync daemon",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "Status HTTP listen address")
	cmd.PersistentFlags().String("cache-path", defaults.GetString("cache.path"), "SQLite cache database path")
	cmd.PersistentFlags().String("cache-redis-url", defaults.GetString("cache.redis_url"), "Redis cache URL (overrides SQLite cache)")
	cmd.PersistentFlags().String("remote-endpoint", defaults.GetString("remote.endpoint"), "Remote document store endpoint")
	cmd.PersistentFlags().String("remote-project-id", defaults.GetString("remote.project_id"), "Remote project identifier")
	cmd.PersistentFlags().String("remote-database-id", defaults.GetString("remote.database_id"), "Remote database identifier")
	cmd.PersistentFlags().Int("sync-interval-seconds", defaults.GetInt("sync.interval_seconds"), "Background sync interval in seconds")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("session-token", "", "Session token (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "cache.path", "cache-path")
	bindFlag(cmd, "cache.redis_url", "cache-redis-url")
	bindFlag(cmd, "remote.endpoint", "remote-endpoint")
	bindFlag(cmd, "remote.project_id", "remote-project-id")
	bindFlag(cmd, "remote.database_id", "remote-database-id")
	bindFlag(cmd, "sync.interval_seconds", "sync-interval-seconds")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.token", "session-token")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runDaemon(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, closeStore, err := openCache(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	identity, err := device.NewIdentity(device.IdentityConfig{Store: store, Logger: logger})
	if err != nil {
		return err
	}

	sessions := session.NewTokenSource(session.TokenSourceConfig{})
	sessions.SetToken(appConfig.SessionToken)

	adapter, err := remote.NewHTTPAdapter(remote.HTTPAdapterConfig{
		Endpoint:      appConfig.RemoteEndpoint,
		ProjectID:     appConfig.ProjectID,
		DatabaseID:    appConfig.DatabaseID,
		CollectionIDs: appConfig.CollectionIDs,
		Sessions:      sessions,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	pendingQueue, err := queue.New(queue.Config{Store: store, IDs: record.NewUUIDProvider()})
	if err != nil {
		return err
	}

	syncEngine, err := engine.New(engine.Config{
		Cache:  store,
		Remote: adapter,
		Queue:  pendingQueue,
		Device: identity,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	scheduler, err := engine.NewScheduler(engine.SchedulerConfig{
		Engine:   syncEngine,
		Interval: appConfig.SyncInterval,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Engine:    syncEngine,
		Scheduler: scheduler,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := syncEngine.Reconcile(signalCtx); err != nil {
		logger.Warn("initial reconciliation incomplete", zap.Error(err))
	}
	scheduler.Start(signalCtx)
	defer scheduler.Stop()

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("status server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func openCache(appConfig config.AppConfig, logger *zap.Logger) (cache.Store, func(), error) {
	if appConfig.CacheRedisURL != "" {
		store, err := cache.NewRedisStore(appConfig.CacheRedisURL)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil //nolint:errcheck
	}

	db, err := cache.OpenSQLite(appConfig.CachePath, logger)
	if err != nil {
		return nil, nil, err
	}
	store, err := cache.NewSQLiteStore(db)
	if err != nil {
		return nil, nil, err
	}
	closeFunc := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	return store, closeFunc, nil
}
