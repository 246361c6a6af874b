package main

import (
	"context"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/boardforge/api/internal/config"
	"github.com/boardforge/api/internal/handler"
	"github.com/boardforge/api/internal/middleware"
	"github.com/boardforge/api/internal/progress"
	"github.com/boardforge/api/internal/registry"
	"github.com/boardforge/api/internal/renderer"
	"github.com/boardforge/api/internal/retention"
	"github.com/boardforge/api/internal/service"
	"github.com/boardforge/api/internal/state"
	"github.com/boardforge/api/internal/storage"
	"github.com/boardforge/api/internal/worker"
	ws "github.com/boardforge/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Progress hub and advance gate
	replay := cfg.Packs.ReplayBuffer
	if replay <= 0 {
		replay = progress.DefaultReplayCapacity
	}
	heartbeat := time.Duration(cfg.Packs.HeartbeatSec) * time.Second
	if heartbeat <= 0 {
		heartbeat = progress.DefaultHeartbeat
	}
	hub := progress.NewHubWith(replay, heartbeat)
	go hub.Run(ctx)

	advanceTimeout := time.Duration(cfg.Packs.AdvanceTimeoutSec) * time.Second
	gate := progress.NewGate(hub, advanceTimeout)

	// Job state store
	var jobStore state.Store
	if strings.EqualFold(cfg.Packs.StateBackend, "redis") {
		jobStore = state.NewRedisStore(redisClient, hub)
		log.Println("Info: Job state backend: redis")
	} else {
		jobStore = state.NewMemoryStore(hub)
	}

	// Pack storage on local disk
	packStore := storage.NewPackStore(cfg.Packs.Root, cfg.Packs.BaseURL)

	// Initialize R2 mirror (optional - continues if not configured)
	var mirror storage.Mirror
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := storage.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 mirror not initialized: %v", err)
		} else {
			mirror = r2Client
		}
	} else {
		log.Println("Info: R2 mirror not configured, serving assets from local disk only")
	}

	// Image generation client (optional - procedural fallback covers it)
	imageClient := renderer.NewImageClient(&cfg.ImageGen)
	if !imageClient.IsConfigured() {
		log.Println("Info: Image generation API not configured, using procedural rendering")
	}

	retentionMgr := retention.New(packStore, mirror)

	// Initialize services
	pendingJobs := registry.New()
	packService := service.NewPackService(
		&cfg.Packs,
		jobStore,
		pendingJobs,
		hub,
		gate,
		packStore,
		mirror,
		imageClient,
		retentionMgr,
		asynqClient,
	)

	// Initialize handlers
	packsHandler := handler.NewPacksHandler(packService, validate)

	// Initialize middleware
	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind the edge proxy: auth is handled by ForwardAuth, read X-User-* headers
		log.Println("Info: Gateway mode enabled — using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		apiAuthMiddleware = middleware.NewAuthMiddleware(cfg.JWT.Secret).Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    10 * 1024 * 1024, // 10MB
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"imagegen": imageClient.IsConfigured(),
				"r2":       mirror != nil && mirror.IsConfigured(),
				"redis":    redisClient.Ping(c.Context()).Err() == nil,
				"auth":     cfg.Gateway.Enabled || cfg.JWT.Secret != "",
			},
		})
	})

	// Generated assets are served straight from the pack root
	app.Static("/packs", cfg.Packs.Root)

	// API routes
	api := app.Group("/api", apiAuthMiddleware)

	packs := api.Group("/packs")
	packs.Post("/", rateLimiter.PackCreateLimit(cfg.RateLimit.PacksPerHour), packsHandler.Create)
	packs.Post("/jobs/cancel", packsHandler.Cancel)
	packs.Post("/jobs/advance", packsHandler.Advance)
	packs.Get("/jobs/status/:gameId", packsHandler.Status)
	packs.Get("/state/:gameId", packsHandler.State)
	packs.Delete("/for-game/:gameId", packsHandler.DeleteForGame)
	packs.Delete("/:id", packsHandler.Delete)

	// WebSocket routes
	streamer := ws.NewStreamer(hub, gate)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/packs/:channel", websocket.New(func(c *websocket.Conn) {
		streamer.HandleConnection(c, c.Params("channel"))
	}))
	app.Get("/ws/games/:gameId", websocket.New(func(c *websocket.Conn) {
		streamer.HandleGameConnection(c, c.Params("gameId"))
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, retentionMgr)

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, retentionMgr *retention.Manager) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"maintenance": 1,
			},
			LogLevel: asynqLogLevel,
		},
	)

	cleanupWorker := worker.NewCleanupWorker(retentionMgr)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeCleanup, cleanupWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
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
