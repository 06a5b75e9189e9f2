package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iyacare/iyacare/internal/config"
	"github.com/iyacare/iyacare/internal/domain/alert"
	"github.com/iyacare/iyacare/internal/domain/dispatch"
	"github.com/iyacare/iyacare/internal/domain/patient"
	"github.com/iyacare/iyacare/internal/domain/risk"
	"github.com/iyacare/iyacare/internal/domain/sweep"
	"github.com/iyacare/iyacare/internal/domain/template"
	"github.com/iyacare/iyacare/internal/domain/vitals"
	"github.com/iyacare/iyacare/internal/platform/db"
	"github.com/iyacare/iyacare/internal/platform/email"
	"github.com/iyacare/iyacare/internal/platform/events"
	"github.com/iyacare/iyacare/internal/platform/live"
	"github.com/iyacare/iyacare/internal/platform/lock"
	"github.com/iyacare/iyacare/internal/platform/metrics"
	"github.com/iyacare/iyacare/internal/platform/retry"
)

const serviceName = "iyacare"

// app holds every wired component. Both the server and the one-shot sweep
// command run on it.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	pool      *pgxpool.Pool
	redis     *redis.Client
	publisher events.Publisher
	hub       *live.Hub
	metrics   *metrics.Collector

	patientRepo patient.Repository
	patients    *patient.Service
	vitals      *vitals.Service
	assessor    risk.Assessor
	reconciler  *risk.Reconciler
	dedup       *alert.Deduplicator
	templates   *template.Engine
	dispatcher  *dispatch.Dispatcher
	simulated   *dispatch.SimulatedGateway
	runner      *sweep.Runner
}

type stores struct {
	patients  patient.Repository
	readings  vitals.Repository
	alerts    alert.Repository
	templates template.Repository
	messages  dispatch.Repository
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var s stores
	switch cfg.Store {
	case "memory":
		s = stores{
			patients:  patient.NewRepoMemory(),
			readings:  vitals.NewRepoMemory(),
			alerts:    alert.NewRepoMemory(),
			templates: template.NewRepoMemory(),
			messages:  dispatch.NewRepoMemory(),
		}
		logger.Warn().Msg("using in-memory store, data is lost on exit")
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		s = stores{
			patients:  patient.NewRepoPG(pool),
			readings:  vitals.NewRepoPG(pool),
			alerts:    alert.NewRepoPG(pool),
			templates: template.NewRepoPG(pool),
			messages:  dispatch.NewRepoPG(pool),
		}
		logger.Info().Msg("connected to database")
	default:
		return nil, fmt.Errorf("unknown STORE %q", cfg.Store)
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info().Msg("connected to redis")
	}
	a.metrics = metrics.NewCollector(serviceName, a.redis, logger)
	if cfg.MetricsInterval > 0 {
		a.metrics.SetReportInterval(cfg.MetricsInterval)
	}

	a.hub = live.NewHub(logger)
	a.publisher = a.hub
	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		pub, err := events.NewKafkaPublisher(brokers, cfg.KafkaTopic, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publisher = events.Multi(pub, a.hub)
	}

	a.patientRepo = s.patients
	a.patients = patient.NewService(s.patients)
	a.vitals = vitals.NewService(s.readings, s.patients)

	local := risk.NewRuleBasedAssessor()
	a.assessor = local
	a.reconciler = risk.NewReconciler(s.patients, s.readings, local, a.publisher, a.metrics, logger)
	if cfg.OracleURL != "" {
		a.reconciler.SetExternal(risk.NewModelAssessor(risk.NewHTTPOracle(cfg.OracleURL, cfg.OracleTimeout)), cfg.OracleMinConfidence)
		logger.Info().Str("url", cfg.OracleURL).Msg("external risk oracle enabled")
	}

	a.dedup = alert.NewDeduplicator(s.alerts, s.patients, a.publisher, a.metrics, logger)

	a.templates = template.NewEngine(s.templates)
	seeded, err := a.templates.Seed(ctx, template.DefaultCatalog())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("seed templates: %w", err)
	}
	if seeded > 0 {
		logger.Info().Int("count", seeded).Msg("seeded message templates")
	}

	a.dispatcher = dispatch.NewDispatcher(s.messages, dispatch.Config{
		BatchSize:   cfg.DispatchBatchSize,
		BatchDelay:  cfg.DispatchBatchDelay,
		SendTimeout: cfg.DispatchSendTimeout,
		Retry:       retry.DefaultConfig(),
	}, a.publisher, a.metrics, logger)
	if err := a.wireGateways(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if a.redis != nil {
		locker = lock.NewRedisLocker(a.redis)
	}
	a.runner = sweep.NewRunner(sweep.Deps{
		Patients:   s.patients,
		Reconciler: a.reconciler,
		Alerter:    a.dedup,
		Renderer:   a.templates,
		Sender:     a.dispatcher,
		Locker:     locker,
		Metrics:    a.metrics,
	}, sweep.Config{
		Workers:         cfg.SweepWorkers,
		PreviewLimit:    cfg.SweepPreviewLimit,
		BatchSize:       cfg.DispatchBatchSize,
		LockTTL:         cfg.SweepLockTTL,
		DefaultLanguage: cfg.DefaultLanguage,
	}, logger)
	return a, nil
}

func (a *app) wireGateways(ctx context.Context) error {
	switch a.cfg.GatewayMode {
	case "simulated":
		sim := dispatch.DefaultSimulatedConfig()
		sim.FailureRate = a.cfg.SimFailureRate
		sim.ReadRate = a.cfg.SimReadRate
		a.simulated = dispatch.NewSimulatedGateway(sim, nil)
		a.simulated.OnStatus(a.dispatcher.StatusReceiver())
		a.dispatcher.RegisterGateway(dispatch.ChannelSMS, a.simulated)
	case "twilio":
		a.dispatcher.RegisterGateway(dispatch.ChannelSMS, dispatch.NewTwilioGateway(dispatch.TwilioConfig{
			AccountSID:     a.cfg.TwilioAccountSID,
			AuthToken:      a.cfg.TwilioAuthToken,
			From:           a.cfg.TwilioFrom,
			BaseURL:        a.cfg.TwilioBaseURL,
			StatusCallback: a.cfg.TwilioStatusCallback,
			Timeout:        a.cfg.DispatchSendTimeout,
		}))
	default:
		return fmt.Errorf("unknown GATEWAY_MODE %q", a.cfg.GatewayMode)
	}

	registry := email.NewRegistry(a.logger)
	registry.Register(email.NewSESProvider(ctx, a.cfg.AWSRegion, a.logger))
	registry.Register(email.NewResendProvider(a.cfg.ResendAPIKey))
	if err := registry.SetPrimary(a.cfg.EmailProvider); err != nil {
		return err
	}
	var fallbacks []string
	for _, name := range registry.List() {
		if name != a.cfg.EmailProvider {
			fallbacks = append(fallbacks, name)
		}
	}
	if err := registry.SetFallback(fallbacks...); err != nil {
		return err
	}
	a.dispatcher.RegisterGateway(dispatch.ChannelEmail, dispatch.NewEmailGateway(registry, a.cfg.EmailFrom))
	return nil
}

func (a *app) Close() {
	if a.simulated != nil {
		a.simulated.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close event publisher")
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
