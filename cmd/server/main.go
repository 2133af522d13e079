package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlog "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/tunesmith/api/internal/bridge"
	"github.com/tunesmith/api/internal/client"
	"github.com/tunesmith/api/internal/config"
	"github.com/tunesmith/api/internal/export"
	"github.com/tunesmith/api/internal/handler"
	"github.com/tunesmith/api/internal/middleware"
	"github.com/tunesmith/api/internal/model"
	"github.com/tunesmith/api/internal/queue"
	"github.com/tunesmith/api/internal/store"
	"github.com/tunesmith/api/internal/worker"
	ws "github.com/tunesmith/api/internal/websocket"
	"github.com/tunesmith/api/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.Env)
	slog.SetDefault(log)

	// Store: Postgres when configured, in-memory otherwise
	var st store.Store
	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresStore(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, log)
		if err != nil {
			log.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		st = pg
	} else {
		log.Warn("no database configured, using in-memory store")
		st = store.NewMemoryStore()
	}
	defer st.Close()

	// Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("redis not available", "error", err)
	}

	// Work notification via asynq
	notifier := worker.NewAsynqNotifier(&cfg.Redis)
	defer notifier.Close()

	// Validator
	validate := validator.New()

	// WebSocket hub
	hub := ws.NewHub(log)
	go hub.Run()

	// Queue service with live fan-out
	queueService := queue.NewService(st, notifier, log)
	queueService.SetBroadcaster(hub)

	// Remote tier clients
	generatorClient := client.NewGeneratorClient(&cfg.Generator, log)
	audioClient := client.NewAudioClient(&cfg.Audio)

	// Export and orchestration
	exporter := export.NewExporter(st, audioClient, nil, &cfg.Export, log)
	jobBridge := bridge.New(queueService, generatorClient, exporter, &cfg.Bridge, log)

	// Handlers
	jobHandler := handler.NewJobHandler(queueService, validate)
	trackHandler := handler.NewTrackHandler(queueService, validate)
	healthHandler := handler.NewHealthHandler(st, redisPinger{redisClient}, generatorClient, audioClient)

	// Middleware
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    5 * 1024 * 1024, // 5MB
	})

	app.Use(recover.New())
	app.Use(fiberlog.New(fiberlog.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Health check
	app.Get("/health", healthHandler.Health)

	// API routes
	api := app.Group("/api")

	jobs := api.Group("/jobs")
	jobs.Post("/", rateLimiter.JobsLimit(cfg.RateLimit.JobsPerMin), jobHandler.Create)
	jobs.Get("/", jobHandler.List)
	jobs.Get("/stats", jobHandler.Stats)
	jobs.Get("/:id", jobHandler.Get)
	jobs.Get("/:id/events", jobHandler.Events)
	jobs.Post("/:id/progress", jobHandler.Progress)
	jobs.Post("/:id/cancel", jobHandler.Cancel)
	jobs.Delete("/:id", jobHandler.Delete)

	tracks := api.Group("/tracks")
	tracks.Get("/", trackHandler.List)
	tracks.Get("/:id", trackHandler.Get)
	tracks.Patch("/:id/metadata", trackHandler.PatchMetadata)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("jobId"))
	}))

	// Asynq worker server
	asynqServer := worker.NewServer(cfg, log)
	go startWorkerServer(asynqServer, cfg, queueService, jobBridge, exporter, log)

	// TTL reaper for terminal jobs
	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go runCleanup(reaperCtx, queueService, cfg, log)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("shutting down server")
		stopReaper()
		asynqServer.Shutdown()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Info("server starting", "addr", addr, "env", cfg.Server.Env)
	if err := app.Listen(addr); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func startWorkerServer(srv *asynq.Server, cfg *config.Config, q *queue.Service, b *bridge.Bridge, e *export.Exporter, log *slog.Logger) {
	workerID := cfg.Worker.ID
	if workerID == "" {
		hostname, _ := os.Hostname()
		workerID = hostname
	}

	dispatcher := worker.NewDispatcher(q, workerID, log)
	dispatcher.Register(model.JobTypeGeneration, worker.NewGenerationProcessor(b))
	dispatcher.Register(model.JobTypeLoop, worker.NewLoopProcessor(q, e, log))
	dispatcher.Register(model.JobTypeMetadataBatch, worker.NewMetadataBatchProcessor(q, log))

	if err := srv.Run(dispatcher.Mux()); err != nil {
		log.Error("asynq worker error", "error", err)
	}
}

// runCleanup reaps terminal jobs past their TTL on a fixed cadence.
func runCleanup(ctx context.Context, q *queue.Service, cfg *config.Config, log *slog.Logger) {
	ttl := time.Duration(cfg.Cleanup.TTLHours) * time.Hour
	interval := time.Duration(cfg.Cleanup.IntervalMins) * time.Minute

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.CleanupExpired(ctx, ttl); err != nil {
				log.Warn("cleanup sweep failed", "error", err)
			}
		}
	}
}

// redisPinger exposes the notification backend to the health endpoint.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
