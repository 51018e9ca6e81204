package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErinHernandez/TopDog-sub011/internal/auth"
	"github.com/ErinHernandez/TopDog-sub011/internal/config"
	"github.com/ErinHernandez/TopDog-sub011/internal/database"
	"github.com/ErinHernandez/TopDog-sub011/internal/delivery"
	"github.com/ErinHernandez/TopDog-sub011/internal/dispatch"
	"github.com/ErinHernandez/TopDog-sub011/internal/ledger"
	"github.com/ErinHernandez/TopDog-sub011/internal/logging"
	"github.com/ErinHernandez/TopDog-sub011/internal/preferences"
	"github.com/ErinHernandez/TopDog-sub011/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "draft-alerts",
		Short: "Draft room alert dispatch service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newSweepCommand(), newWatchCommand(), newIssueTokenCommand())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().String("ledger-backend", defaults.GetString("ledger.backend"), "Ledger backend (sql, redis, badger, memory)")
	cmd.PersistentFlags().String("push-gateway-url", "", "Remote push gateway endpoint")
	cmd.PersistentFlags().StringSlice("kafka-brokers", nil, "Kafka brokers for the draft change feed")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "ledger.backend", "ledger-backend")
	bindFlag(cmd, "push.gateway_url", "push-gateway-url")
	bindFlag(cmd, "kafka.brokers", "kafka-brokers")
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

func loadRuntime() (config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return appConfig, logger, nil
}

func openLedger(appConfig config.AppConfig, db *gorm.DB, logger *zap.Logger) (ledger.Ledger, error) {
	backend, err := ledger.ParseBackend(appConfig.LedgerBackend)
	if err != nil {
		return nil, err
	}
	return ledger.Open(ledger.Config{
		Backend:    backend,
		Retention:  appConfig.LedgerRetention,
		Database:   db,
		RedisURL:   appConfig.LedgerRedisURL,
		BadgerPath: appConfig.LedgerBadgerPath,
		Logger:     logger,
	})
}

func runServer(ctx context.Context) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	if err := appConfig.RequireSigningSecret(); err != nil {
		return err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	alertLedger, err := openLedger(appConfig, db, logger)
	if err != nil {
		return err
	}
	defer alertLedger.Close()

	preferenceStore, err := preferences.NewStore(preferences.StoreConfig{Database: db})
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	liveHub := delivery.NewLiveHub()
	adapterConfig := delivery.AdapterConfig{
		Preferences:  preferenceStore,
		Live:         liveHub,
		Timeout:      appConfig.DeliveryTimeout,
		DeepLinkBase: appConfig.DeepLinkBase,
	}
	if appConfig.PushGatewayURL != "" {
		pushTransport, err := delivery.NewPushTransport(delivery.PushConfig{
			GatewayURL:    appConfig.PushGatewayURL,
			APIKey:        appConfig.PushAPIKey,
			Timeout:       appConfig.DeliveryTimeout,
			RatePerSecond: appConfig.PushRatePerSecond,
			Burst:         appConfig.PushBurst,
		})
		if err != nil {
			return err
		}
		adapterConfig.Push = pushTransport
	} else {
		logger.Warn("push gateway not configured; only live sessions receive alerts")
	}
	adapter, err := delivery.NewAdapter(adapterConfig)
	if err != nil {
		return err
	}

	dispatcher, err := dispatch.NewDispatcher(dispatch.Config{
		Ledger:         alertLedger,
		Delivery:       adapter,
		Metrics:        dispatch.NewMetrics(registry),
		Logger:         logger,
		MaxConcurrency: appConfig.DeliveryMaxConcurrency,
		RetryAttempts:  appConfig.DeliveryRetryAttempts,
		RetryBackoff:   appConfig.DeliveryRetryBackoff,
	})
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	validator, err := auth.NewValidator(auth.ValidatorConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        appConfig.AuthIssuer,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Dispatcher: dispatcher,
		Validator:  validator,
		LiveHub:    liveHub,
		Gatherer:   registry,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		ledger.RunSweeper(groupCtx, alertLedger, appConfig.LedgerSweepInterval, logger)
		return nil
	})
	if appConfig.KafkaEnabled() {
		trigger, err := dispatch.NewKafkaTrigger(dispatch.KafkaConfig{
			Brokers: appConfig.KafkaBrokers,
			Topic:   appConfig.KafkaTopic,
			GroupID: appConfig.KafkaGroupID,
			Logger:  logger,
		}, dispatcher)
		if err != nil {
			return err
		}
		group.Go(func() error {
			logger.Info("kafka trigger starting", zap.Strings("brokers", appConfig.KafkaBrokers), zap.String("topic", appConfig.KafkaTopic))
			return trigger.Run(groupCtx)
		})
		group.Go(func() error {
			<-groupCtx.Done()
			return trigger.Close()
		})
	}
	group.Go(func() error {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
