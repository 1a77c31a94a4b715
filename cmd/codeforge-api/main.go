package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/codeforge/internal/ai"
	"github.com/MarcoPoloResearchLab/codeforge/internal/auth"
	"github.com/MarcoPoloResearchLab/codeforge/internal/chats"
	"github.com/MarcoPoloResearchLab/codeforge/internal/config"
	"github.com/MarcoPoloResearchLab/codeforge/internal/courses"
	"github.com/MarcoPoloResearchLab/codeforge/internal/database"
	"github.com/MarcoPoloResearchLab/codeforge/internal/ids"
	"github.com/MarcoPoloResearchLab/codeforge/internal/logging"
	"github.com/MarcoPoloResearchLab/codeforge/internal/metrics"
	"github.com/MarcoPoloResearchLab/codeforge/internal/server"
	"github.com/MarcoPoloResearchLab/codeforge/internal/snippets"
	"github.com/MarcoPoloResearchLab/codeforge/internal/tracing"
	"github.com/MarcoPoloResearchLab/codeforge/internal/users"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "codeforge-api",
		Short: "CodeForge learning platform backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API (default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServer(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "rerank",
			Short: "Recompute every leaderboard rank once and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runRerank(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Insert the starter course catalog when the catalog is empty",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSeed(cmd.Context())
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before configuration")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.StringSlice("allowed-origins", defaults.GetStringSlice("cors.allowed_origins"), "CORS allowed origins")
	flags.String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("database-dsn", "", "Postgres connection string")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-file", defaults.GetString("log.file"), "Optional rotating log file")
	flags.String("signing-secret", "", "TAuth session signing secret (overrides env)")
	flags.String("ai-provider", defaults.GetString("ai.provider"), "AI provider (together, gemini)")
	flags.String("ai-model", defaults.GetString("ai.model"), "AI model override")
	flags.String("rerank-mode", defaults.GetString("leaderboard.rerank_mode"), "Leaderboard rerank mode (sync, async)")
	flags.Bool("seed-catalog", defaults.GetBool("catalog.seed"), "Seed the starter catalog on startup")
	flags.Bool("metrics", defaults.GetBool("metrics.enabled"), "Expose Prometheus metrics on /metrics")
	flags.Bool("tracing", defaults.GetBool("tracing.enabled"), "Export traces to Jaeger")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
	bindFlag(cmd, "tauth.signing_secret", "signing-secret")
	bindFlag(cmd, "ai.provider", "ai-provider")
	bindFlag(cmd, "ai.model", "ai-model")
	bindFlag(cmd, "leaderboard.rerank_mode", "rerank-mode")
	bindFlag(cmd, "catalog.seed", "seed-catalog")
	bindFlag(cmd, "metrics.enabled", "metrics")
	bindFlag(cmd, "tracing.enabled", "tracing")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file: %w", err)
		}
	}

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

type application struct {
	config   config.AppConfig
	logger   *zap.Logger
	db       *gorm.DB
	metrics  *metrics.Collector
	users    *users.Service
	courses  *courses.Service
	chats    *chats.Service
	snippets *snippets.Service
}

func newApplication(appConfig config.AppConfig, logger *zap.Logger) (*application, error) {
	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return nil, err
	}

	var collector *metrics.Collector
	if appConfig.MetricsEnabled {
		collector = metrics.NewCollector()
	}

	idProvider := ids.NewUUIDProvider()
	userService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		Logger:     logger,
		RerankMode: users.RerankMode(appConfig.RerankMode),
		OnRerank:   collector.ObserveRerank,
	})
	if err != nil {
		return nil, err
	}
	courseService, err := courses.NewService(courses.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	chatService, err := chats.NewService(chats.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	snippetService, err := snippets.NewService(snippets.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &application{
		config:   appConfig,
		logger:   logger,
		db:       db,
		metrics:  collector,
		users:    userService,
		courses:  courseService,
		chats:    chatService,
		snippets: snippetService,
	}, nil
}

func (a *application) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func loadApplication() (*application, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFile)
	if err != nil {
		return nil, err
	}
	app, err := newApplication(appConfig, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return app, nil
}

func runServer(ctx context.Context) error {
	app, err := loadApplication()
	if err != nil {
		return err
	}
	defer app.close()
	logger := app.logger
	defer logger.Sync() //nolint:errcheck
	appConfig := app.config

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if appConfig.SeedCatalog {
		if inserted, err := app.courses.SeedCatalog(signalCtx); err != nil {
			logger.Warn("catalog seeding failed", zap.Error(err))
		} else if inserted > 0 {
			logger.Info("catalog seeded", zap.Int("courses", inserted))
		}
	}

	if reranker := app.users.Reranker(); reranker != nil {
		reranker.SetInterval(appConfig.RerankInterval)
		go reranker.Run(signalCtx)
	}

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.TAuthSigningKey),
		Issuer:        appConfig.TAuthIssuer,
		CookieName:    appConfig.TAuthCookieName,
	})
	if err != nil {
		return err
	}

	provider, err := ai.NewProvider(ai.ProviderConfig{
		Name:    appConfig.AI.Provider,
		BaseURL: appConfig.AI.BaseURL,
		Model:   appConfig.AI.Model,
		Timeout: appConfig.AI.Timeout,
	})
	if err != nil {
		return err
	}
	assistant, err := ai.NewAssistant(ai.AssistantConfig{
		Provider:    provider,
		Credentials: ai.NewKeyStore(appConfig.AI.APIKey),
		Timeout:     appConfig.AI.Timeout,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	realtime := server.NewRealtimeDispatcher()
	deps := server.Dependencies{
		SessionValidator: validator,
		Users:            app.users,
		Courses:          app.courses,
		Chats:            app.chats,
		Snippets:         app.snippets,
		Assistant:        assistant,
		Realtime:         realtime,
		Metrics:          app.metrics,
		Rewards: server.XPRewards{
			Enroll:     appConfig.XP.EnrollBonus,
			Snippet:    appConfig.XP.SnippetBonus,
			Completion: appConfig.XP.CompletionBonus,
		},
		AllowedOrigins:      appConfig.AllowedOrigins,
		AIRequestsPerMinute: appConfig.AI.RateLimitPerMinute,
		AllowAIKeyUpdates:   appConfig.AI.KeyUpdatesEnabled,
		Logger:              logger,
	}

	if appConfig.TracingEnabled {
		tracerProvider, err := tracing.InitTracer(appConfig.TracingServiceName, appConfig.TracingEndpoint)
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := tracing.Shutdown(flushCtx, tracerProvider); err != nil {
				logger.Warn("tracer shutdown failed", zap.Error(err))
			}
		}()
		deps.TracerProvider = tracerProvider
	}

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("database_driver", appConfig.DatabaseDriver),
			zap.String("ai_provider", provider.Name()),
			zap.String("rerank_mode", appConfig.RerankMode))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		realtime.Close()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runRerank(ctx context.Context) error {
	app, err := loadApplication()
	if err != nil {
		return err
	}
	defer app.close()
	defer app.logger.Sync() //nolint:errcheck

	rewritten, err := app.users.RecomputeRanks(ctx)
	if err != nil {
		return err
	}
	app.logger.Info("ranks recomputed", zap.Int("rewritten", rewritten))
	return nil
}

func runSeed(ctx context.Context) error {
	app, err := loadApplication()
	if err != nil {
		return err
	}
	defer app.close()
	defer app.logger.Sync() //nolint:errcheck

	inserted, err := app.courses.SeedCatalog(ctx)
	if err != nil {
		return err
	}
	app.logger.Info("catalog seed finished", zap.Int("courses", inserted))
	return nil
}
