package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/iyacare/iyacare/internal/config"
	"github.com/iyacare/iyacare/internal/domain/alert"
	"github.com/iyacare/iyacare/internal/domain/dispatch"
	"github.com/iyacare/iyacare/internal/domain/patient"
	"github.com/iyacare/iyacare/internal/domain/risk"
	"github.com/iyacare/iyacare/internal/domain/sweep"
	"github.com/iyacare/iyacare/internal/domain/template"
	"github.com/iyacare/iyacare/internal/platform/auth"
	"github.com/iyacare/iyacare/internal/platform/db"
	"github.com/iyacare/iyacare/internal/platform/ingest"
	"github.com/iyacare/iyacare/internal/platform/live"
	"github.com/iyacare/iyacare/internal/platform/metrics"
	"github.com/iyacare/iyacare/internal/platform/middleware"
	"github.com/iyacare/iyacare/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "iyacare",
		Short: "IyaCare risk assessment and alert dispatch pipeline",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(templatesCmd())
	rootCmd.AddCommand(metricsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, newLogger(nil), err
	}
	return cfg, newLogger(cfg), nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the operator API, scheduler and device ingest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, logger, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	e := newServer(a)

	var wg conc.WaitGroup
	a.metrics.Start(ctx)
	wg.Go(func() { sweep.NewScheduler(a.runner, cfg.SweepInterval, logger).Start(ctx) })

	if cfg.MQTTBroker != "" {
		sub, err := ingest.Connect(ingest.Config{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Topic:    cfg.MQTTTopic,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		}, ingest.NewHandler(a.vitals, a.metrics, logger), logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to MQTT broker")
		}
		defer sub.Close()
		wg.Go(func() {
			if err := sub.Start(ctx); err != nil {
				logger.Error().Err(err).Msg("device ingest stopped")
			}
		})
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	wg.Wait()
	a.metrics.Stop()
	logger.Info().Msg("server stopped")
	return nil
}

type memoryPinger struct{}

func (memoryPinger) Ping(context.Context) error { return nil }

func newServer(a *app) *echo.Echo {
	cfg, logger := a.cfg, a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if a.pool != nil {
		e.GET("/health/db", db.HealthHandler(a.pool, func() *db.PoolStats { return db.GetPoolStats(a.pool) }))
	} else {
		e.GET("/health/db", db.HealthHandler(memoryPinger{}, nil))
	}

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	patient.NewHandler(a.patients).RegisterRoutes(apiV1)
	risk.NewHandler(a.vitals, a.patientRepo, a.assessor, a.reconciler).RegisterRoutes(apiV1)
	alert.NewHandler(a.dedup).RegisterRoutes(apiV1)
	template.NewHandler(a.templates).RegisterRoutes(apiV1)
	dispatch.NewHandler(a.dispatcher, a.templates, dispatch.CallbackConfig{
		AuthToken: cfg.TwilioAuthToken,
		URL:       cfg.TwilioStatusCallback,
	}).RegisterRoutes(apiV1)
	sweep.NewHandler(a.runner, a.metrics).RegisterRoutes(apiV1)
	live.NewHandler(a.hub, cfg.CORSOrigins).RegisterRoutes(apiV1)
	return e
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweep and print its report as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.runner.Run(ctx)
			if errors.Is(err, sweep.ErrInProgress) {
				logger.Warn().Msg("another sweep is running, nothing to do")
				return nil
			}
			if err != nil {
				return err
			}
			a.metrics.Flush(context.WithoutCancel(ctx))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format(time.RFC3339)
					}
				}
				fmt.Fprintf(w, "%03d\t%s\t%s\t%s\n", s.Version, s.Name, status, appliedAt)
			}
			return w.Flush()
		},
	}
	cmd.AddCommand(statusCmd)
	return cmd
}

func templatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect message templates",
	}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List templates with their languages and usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			category, _ := cmd.Flags().GetString("category")

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.templates.List(cmd.Context(), category)
			if err != nil {
				return err
			}
			return printTemplates(cmd.OutOrStdout(), items)
		},
	}
	listCmd.Flags().String("category", "", "Only list templates in this category")
	cmd.AddCommand(listCmd)
	return cmd
}

func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics [service...]",
		Short: "Show the pipeline counters reported to Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.RedisURL == "" {
				return errors.New("REDIS_URL is not set")
			}
			opts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("parse REDIS_URL: %w", err)
			}
			client := redis.NewClient(opts)
			defer client.Close()

			reader := metrics.NewReader(client)
			services := args
			if len(services) == 0 {
				if services, err = reader.Services(cmd.Context()); err != nil {
					return err
				}
			}
			snaps := make([]*metrics.Snapshot, 0, len(services))
			for _, name := range services {
				snap, err := reader.Get(cmd.Context(), name)
				if err != nil {
					return err
				}
				snaps = append(snaps, snap)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snaps)
		},
	}
}
