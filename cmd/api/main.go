package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/sap-ticketing/internal/api/http"
	"github.com/spec-kit/sap-ticketing/internal/api/http/handlers"
	"github.com/spec-kit/sap-ticketing/internal/auth"
	"github.com/spec-kit/sap-ticketing/internal/classifier"
	"github.com/spec-kit/sap-ticketing/internal/config"
	"github.com/spec-kit/sap-ticketing/internal/events"
	"github.com/spec-kit/sap-ticketing/internal/export"
	"github.com/spec-kit/sap-ticketing/internal/mail"
	"github.com/spec-kit/sap-ticketing/internal/observability"
	"github.com/spec-kit/sap-ticketing/internal/persistence"
	"github.com/spec-kit/sap-ticketing/internal/pipeline"
	"github.com/spec-kit/sap-ticketing/internal/repository"
	"github.com/spec-kit/sap-ticketing/internal/service"
	"github.com/spec-kit/sap-ticketing/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	ticketRepo := repository.NewTicketRepository(pool)
	logRepo := repository.NewTicketLogRepository(pool)
	messageRepo := repository.NewMessageRepository(pool)

	var sequence repository.TicketSequence
	if err := redis.Ping(ctx); err != nil {
		logger.Warn("redis unavailable, ticket numbering falls back to postgres", zap.Error(err))
		sequence = repository.NewPostgresSequence(pool)
	} else {
		sequence = repository.NewRedisSequence(redis.Client)
	}

	dispatcher := events.NewInMemoryDispatcher()
	registerEventLogging(dispatcher, logger)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authService := service.NewAuthService(userRepo, tokens, cfg.Auth, logger)
	ticketService := service.NewTicketService(ticketRepo, logRepo, sequence, dispatcher, logger)

	systemUser, err := authService.EnsureSystemUser(ctx)
	if err != nil {
		logger.Fatal("failed to provision system user", zap.Error(err))
	}

	primary, fallback := classifier.NewFromConfig(cfg.LLM, logger)

	var fetcher mail.Fetcher
	if cfg.Mail.UseMockSource {
		logger.Info("using mock mailbox source")
		fetcher = mail.NewMockFetcher()
	} else {
		fetcher = mail.NewGraphClient(
			cfg.Mail.GraphBaseURL,
			time.Duration(cfg.Mail.TimeoutSeconds)*time.Second,
			mail.StaticToken(cfg.Mail.AccessToken),
			logger,
		)
	}
	source := mail.NewSource(fetcher, messageRepo, cfg.Mail, logger)

	exporter := export.New(ticketRepo, cfg.Export, logger)
	processor := pipeline.NewProcessor(
		source,
		messageRepo,
		primary,
		fallback,
		ticketService,
		exporter,
		dispatcher,
		cfg.Pipeline,
		systemUser.ID,
		logger,
	)

	var scheduler *worker.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler = worker.NewScheduler(processor, cfg.Scheduler, logger)
		scheduler.Start(ctx)
	}

	metrics := observability.NewMetrics()
	authMiddleware := auth.NewAuthMiddleware(tokens, userRepo)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Auth:           handlers.NewAuthHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Emails:         handlers.NewEmailsHandler(messageRepo, processor),
		Pipeline:       handlers.NewPipelineHandler(processor, exporter),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if scheduler != nil {
		scheduler.Stop()
	}
	_ = app.Shutdown()
}

// registerEventLogging subscribes a structured-log sink to domain events.
func registerEventLogging(dispatcher events.Dispatcher, logger *zap.Logger) {
	logEvent := func(_ context.Context, event events.Event) error {
		logger.Info("domain event",
			zap.String("event", string(event.Type)),
			zap.Int64("ticket_id", event.TicketID),
			zap.Any("payload", event.Payload),
		)
		return nil
	}
	dispatcher.Subscribe(events.EventTicketCreated, logEvent)
	dispatcher.Subscribe(events.EventTicketStatusChanged, logEvent)
	dispatcher.Subscribe(events.EventTicketPriorityChanged, logEvent)
	dispatcher.Subscribe(events.EventTicketAssigned, logEvent)
	dispatcher.Subscribe(events.EventPipelineRunCompleted, logEvent)
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
