package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/edassess/naplan-api/internal/config"
	"github.com/edassess/naplan-api/internal/database"
	"github.com/edassess/naplan-api/internal/handler"
	"github.com/edassess/naplan-api/internal/idempotency"
	"github.com/edassess/naplan-api/internal/ingress"
	"github.com/edassess/naplan-api/internal/middleware"
	"github.com/edassess/naplan-api/internal/models"
	"github.com/edassess/naplan-api/internal/normalizer"
	"github.com/edassess/naplan-api/internal/repository"
	"github.com/edassess/naplan-api/internal/router"
	"github.com/edassess/naplan-api/internal/service"
	"github.com/edassess/naplan-api/pkg/engine"
	"github.com/edassess/naplan-api/pkg/quizapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.ScoredSubmission{}, &models.WrittenSubmission{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var gate idempotency.Store
	if cfg.RedisURL != "" {
		redisClient, err := database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		gate = idempotency.NewRedisStore(redisClient, "webhook:seen", cfg.IdempotencyWindow)
	} else {
		memory := idempotency.NewMemoryStore(logger, idempotency.WithWindow(cfg.IdempotencyWindow))
		memory.StartJanitor(ctx, 10*time.Minute)
		gate = memory
	}

	quizClient, err := quizapi.New(quizapi.Config{
		BaseURL: cfg.QuizAPIBaseURL,
		APIKey:  cfg.QuizAPIKey,
		Timeout: cfg.QuizAPITimeout,
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("failed to create quiz api client: %v", err)
	}

	eng, err := buildEngine(cfg, logger)
	if err != nil {
		log.Fatalf("failed to create scoring engine: %v", err)
	}

	scoredRepo := repository.NewScoredSubmissionRepository(db)
	writtenRepo := repository.NewWrittenSubmissionRepository(db)

	norm := normalizer.New(quizClient, logger)
	scoredService := service.NewScoredEnrichmentService(scoredRepo, quizClient, eng, logger)
	writingService := service.NewWritingEnrichmentService(writtenRepo, quizClient, eng, logger)

	dispatcher := service.NewDispatcher(gate, norm, scoredRepo, writtenRepo, scoredService, writingService, logger, cfg.DispatchQueueSize)
	go dispatcher.Start(ctx)

	if cfg.NATSURL != "" {
		natsConn, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()

		consumer := ingress.NewNATSConsumer(natsConn, cfg.NATSSubject, dispatcher, logger)
		if err := consumer.Start(ctx); err != nil {
			log.Fatalf("failed to start nats ingress: %v", err)
		}
	}

	webhookHandler := handler.NewWebhookHandler(dispatcher, logger)
	submissionHandler := handler.NewSubmissionHandler(scoredRepo, writtenRepo, scoredService, writingService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, CORSOrigins: cfg.CORSOrigins})
	router.Register(app, cfg, router.Dependencies{
		WebhookHandler:    webhookHandler,
		SubmissionHandler: submissionHandler,
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, cancel)
}

func buildEngine(cfg config.Config, logger zerolog.Logger) (engine.Engine, error) {
	if cfg.AIProvider == "openai" {
		return engine.NewOpenAIEngine(engine.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
			Logger: logger,
		})
	}

	return engine.NewProcessEngine(engine.ProcessConfig{
		Interpreter:    cfg.EngineInterpreter,
		FeedbackScript: cfg.EngineFeedbackScript,
		WritingScript:  cfg.EngineWritingScript,
		Timeout:        cfg.EngineTimeout,
		Logger:         logger,
	})
}

func waitForShutdown(app *fiber.App, cancel context.CancelFunc) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()
	cancel()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
