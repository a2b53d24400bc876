package main

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ridesched/internal/api"
	"ridesched/internal/config"
	"ridesched/internal/database"
	"ridesched/internal/domain"
	"ridesched/internal/events"
	"ridesched/internal/google"
	"ridesched/internal/logging"
	"ridesched/internal/metrics"
	"ridesched/internal/notify"
	"ridesched/internal/repository"
	"ridesched/internal/scheduler"
	"ridesched/internal/trigger"
	"ridesched/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	redisClient, locker, deadLetters := initLocking(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	executor, err := google.NewCalendarExecutor(ctx, cfg.Google.CredentialsFile, cfg.Google.CalendarID, cfg.Google.RequestsPerSecond, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize Google Calendar")
		return err
	}

	bus := events.NewEventBus(&logger)
	bus.Subscribe(events.AllEvents, events.LogHandler(logging.Component(&logger, "events")))
	initNotifier(cfg, bus, &logger)

	host := scheduler.NewHost(db, scheduler.Options{
		OwnerEmail: cfg.Triggers.OwnerEmail,
		Location:   cfg.Triggers.Location(),
		Backstops: map[trigger.Type]string{
			trigger.DailyRetryCheck:        cfg.Triggers.DailyRetryCheck,
			trigger.DailyAnnouncementCheck: cfg.Triggers.DailyAnnouncementCheck,
		},
	}, &logger)

	processor, err := worker.NewProcessor(worker.Deps{
		Store:       db,
		Locker:      locker,
		Executor:    executor,
		Host:        host,
		DeadLetters: deadLetters,
		Events:      bus,
	}, worker.Options{
		Policy:         cfg.Retry.Policy(),
		LockKey:        cfg.Worker.LockKey,
		LockTTL:        cfg.Worker.LockTTL,
		LockWait:       cfg.Worker.LockWait,
		ExecuteTimeout: cfg.Worker.ExecuteTimeout,
		BatchSize:      cfg.Worker.BatchSize,
	}, &logger)
	if err != nil {
		return err
	}

	defer host.Stop()
	if err := startHost(ctx, cfg, db, host, processor, &logger); err != nil {
		return err
	}

	shutdownAPI, err := startAPI(cfg, db, redisClient, processor, host, &logger)
	if err != nil {
		return err
	}

	logger.Info().Msg("scheduler running")
	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	shutdownAPI(shutdownCtx)

	logger.Info().Msg("shutdown complete")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := logging.Component(baseLogger, "scheduler-main")
	return cfg, logger, closer, nil
}

// initLocking prefers redis for the queue lock and the dead-letter list and
// falls back to in-process implementations while redis is unavailable.
func initLocking(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, domain.Locker, domain.DeadLetters) {
	memLocker := repository.NewMemoryLocker(nil)
	memDead := repository.NewMemoryDeadLetters()

	if cfg.Redis.Address == "" {
		logger.Warn().Msg("redis not configured, queue lock is process-local")
		return nil, memLocker, memDead
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable")
	}

	locker := repository.NewFailoverLocker(repository.NewRedisLocker(client), memLocker, cfg.Worker.FailoverRecheck, logger)
	dead := repository.NewFailoverDeadLetters(repository.NewRedisDeadLetters(client, cfg.Worker.DeadLetterKey), memDead, logger)
	return client, locker, dead
}

func initNotifier(cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) {
	if cfg.Telegram.BotToken == "" || len(cfg.Telegram.AlertChatIDs) == 0 {
		logger.Info().Msg("telegram alerts disabled")
		return
	}

	notifier, err := notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.AlertChatIDs, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram alerts unavailable")
		return
	}
	bus.Subscribe(events.EventItemAbandoned, notifier.Handler())
}

func startHost(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	host *scheduler.Host,
	processor *worker.Processor,
	logger *zerolog.Logger,
) error {
	for _, t := range []trigger.Type{trigger.OnOpen, trigger.DailyRetryCheck, trigger.RetryQueueScheduled} {
		c, _ := trigger.Lookup(t)
		host.Register(c.Handler, processor.HandleTrigger)
	}

	if cfg.Backup.Enabled {
		backup := database.NewBackupService(db, cfg.Backup, nil, logger)
		err := host.AddCronJob(cfg.Backup.Schedule, "backup", func(ctx context.Context) error {
			backup.Run(ctx)
			return nil
		})
		if err != nil {
			return err
		}
	}

	host.Start(ctx)

	if err := host.Restore(ctx); err != nil {
		return err
	}

	summary, err := host.Install(ctx, cfg.Triggers.OwnerEmail, trigger.DailyRetryCheck)
	if err != nil {
		return err
	}
	for _, d := range summary.Details {
		logger.Info().Str("detail", d).Msg("trigger installation")
	}

	go host.RunAutomatic()
	return nil
}

func startAPI(
	cfg *config.Config,
	db *database.DB,
	redisClient *redis.Client,
	processor *worker.Processor,
	host *scheduler.Host,
	logger *zerolog.Logger,
) (func(context.Context), error) {
	noop := func(context.Context) {}
	if !cfg.API.Enabled {
		return noop, nil
	}

	var shutdowns []func(context.Context)

	if cfg.API.HTTP.Enabled {
		checks := map[string]api.HealthCheck{"database": db.Ping}
		if redisClient != nil {
			checks["redis"] = func(ctx context.Context) error { return repository.Ping(ctx, redisClient) }
		}

		httpServer := api.NewHTTPServer(cfg.API, processor, host, checks, logger)
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("HTTP server error")
			}
		}()
		shutdowns = append(shutdowns, func(ctx context.Context) { _ = httpServer.Shutdown(ctx) })
	}

	if cfg.API.GRPC.Enabled {
		grpcServer, err := api.NewGRPCServer(cfg.API, logger)
		if err != nil {
			return noop, err
		}
		go func() {
			if err := grpcServer.Serve(); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("gRPC server error")
			}
		}()
		grpcServer.SetServing(true)
		shutdowns = append(shutdowns, grpcServer.Shutdown)
	}

	return func(ctx context.Context) {
		for _, fn := range shutdowns {
			fn(ctx)
		}
	}, nil
}
