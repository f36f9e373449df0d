package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"memoryapi/internal/audio"
	"memoryapi/internal/config"
	"memoryapi/internal/database"
	"memoryapi/internal/embedding"
	"memoryapi/internal/handlers"
	"memoryapi/internal/health"
	"memoryapi/internal/jobs"
	"memoryapi/internal/logging"
	"memoryapi/internal/middleware"
	"memoryapi/internal/preflight"
	"memoryapi/internal/services"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting memory API...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	log.Printf("📋 Configuration loaded (Port: %s, Store: %s, Embeddings: %s)", cfg.Port, cfg.StoreBackend, cfg.EmbeddingProvider)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Event store
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ Failed to open %s event store: %v", cfg.StoreBackend, err)
	}

	// Passive provider health tracking
	healthService := health.NewService(3, 5*time.Minute)

	// Embeddings, with an optional shared Redis tier
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		redisService, err = services.NewRedisService(ctx, cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️  Redis unavailable, embedding cache stays in-process: %v", err)
			redisService = nil
		}
	}
	embedder, embedderName := newEmbedder(cfg, healthService, redisService)

	// Transcription: Groq first, OpenAI as fallback
	audioService := audio.NewService([]audio.Provider{
		audio.GroqProvider(cfg.GroqAPIKey),
		audio.OpenAIProvider(cfg.OpenAIAPIKey),
	}, cfg.ProviderTimeout, healthService)
	var transcriptionNames []string
	for i, p := range audioService.Providers() {
		healthService.RegisterProvider(health.CapabilityTranscription, p.Name, p.Model, 10-i)
		transcriptionNames = append(transcriptionNames, p.Name)
	}

	// Core services
	metrics := services.NewMetrics(prometheus.DefaultRegisterer)
	storageService := services.NewMemoryStorageService(store, embedder, cfg.ProviderTimeout, metrics)
	recallService := services.NewRecallService(store, embedder, cfg.ProviderTimeout, metrics)
	captureService := services.NewCaptureSessionService(audioService, services.CaptureSessionConfig{
		MaxAge:   cfg.SessionMaxAge,
		Timeout:  cfg.ProviderTimeout,
		Language: cfg.TranscribeLanguage,
	}, metrics)
	services.RegisterSessionGauges(prometheus.DefaultRegisterer, captureService)

	// Pre-flight checks
	checker := preflight.NewChecker(preflight.Options{
		Store:                  store,
		APIKey:                 cfg.APIKey,
		EmbeddingProvider:      embedderName,
		TranscriptionProviders: transcriptionNames,
	})
	if results := checker.RunAll(ctx); preflight.HasFailures(results) && cfg.PreflightStrict {
		log.Fatal("❌ Pre-flight checks failed (PREFLIGHT_STRICT=true)")
	}

	// Background jobs
	jobScheduler, err := jobs.NewJobScheduler()
	if err != nil {
		log.Fatalf("❌ Failed to create job scheduler: %v", err)
	}
	if err := jobScheduler.Register("session-sweep", jobs.NewSessionSweepJob(captureService, cfg.SessionSweepInterval)); err != nil {
		log.Fatalf("❌ %v", err)
	}
	if err := jobScheduler.Register("store-ping", jobs.NewStorePingJob(store, 5*time.Minute)); err != nil {
		log.Fatalf("❌ %v", err)
	}
	jobScheduler.Start()

	// Shared secret, rotated by the config file watcher
	apiKey := config.NewSecretHolder(cfg.APIKey)
	if cfg.ConfigFile != "" {
		go func() {
			err := config.WatchFile(ctx, cfg.ConfigFile, func(o *config.Overlay) {
				if o.APIKey != "" && o.APIKey != apiKey.Get() {
					apiKey.Set(o.APIKey)
					log.Println("🔑 [CONFIG] API key rotated")
				}
			})
			if err != nil {
				log.Printf("⚠️  Config watcher stopped: %v", err)
			}
		}()
	}

	app := newApp(cfg, apiKey, appDeps{
		store:    store,
		storage:  storageService,
		recall:   recallService,
		sessions: captureService,
		health:   healthService,
	})

	log.Printf("✅ Server ready on :%s", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/healthz", cfg.Port)
	log.Printf("🎙️ Capture socket: ws://localhost:%s/v1/asr/stream/ws", cfg.Port)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("🛑 Shutting down server...")

		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Printf("❌ Server stopped: %v", err)
	}

	// Cleanup after the listener has returned
	jobScheduler.Stop()
	captureService.Shutdown()
	stop()

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Close(closeCtx); err != nil {
		log.Printf("⚠️ Error closing event store: %v", err)
	}
	if redisService != nil {
		_ = redisService.Close()
	}
	log.Println("✅ Shutdown complete")
}

// openStore connects the configured event store backend
func openStore(ctx context.Context, cfg *config.Config) (services.EventStore, error) {
	switch cfg.StoreBackend {
	case config.BackendMongo:
		mongoDB, err := database.NewMongoDB(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := mongoDB.Initialize(initCtx, cfg.MongoCollection); err != nil {
			_ = mongoDB.Close(context.Background())
			return nil, err
		}
		log.Printf("✅ MongoDB event store ready (db: %s, collection: %s, index: %s)", mongoDB.Name(), cfg.MongoCollection, cfg.AtlasVectorIndex)
		return services.NewMongoEventStore(mongoDB, cfg.MongoCollection, cfg.AtlasVectorIndex), nil

	case config.BackendSQLite:
		db, err := database.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := db.Initialize(); err != nil {
			db.Close()
			return nil, err
		}
		log.Printf("✅ SQLite event store ready (%s)", cfg.SQLitePath)
		return services.NewSQLiteEventStore(db), nil

	case config.BackendMemory:
		log.Println("⚠️  Using in-process event store; events are lost on restart")
		return services.NewMemoryEventStore(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// newEmbedder builds the configured embedding provider wrapped in the cache.
// It returns nil and an empty name when no key is set.
func newEmbedder(cfg *config.Config, healthService *health.Service, redisService *services.RedisService) (embedding.Provider, string) {
	opts := embedding.ClientOptions{
		Timeout: cfg.ProviderTimeout,
		RPS:     cfg.EmbeddingRPS,
		Health:  healthService,
	}

	var inner embedding.Provider
	var model string
	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, ""
		}
		inner = embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIEmbeddingModel, cfg.EmbeddingDim, opts)
		model = cfg.OpenAIEmbeddingModel
	default:
		if cfg.GeminiAPIKey == "" {
			return nil, ""
		}
		gemini := embedding.NewGeminiProvider(cfg.GeminiAPIKey, cfg.GeminiEmbeddingModel, cfg.EmbeddingDim, opts)
		inner = gemini
		model = gemini.Model()
	}
	healthService.RegisterProvider(health.CapabilityEmbedding, inner.Name(), model, 10)

	// a nil *RedisService must not become a non-nil interface
	var remote embedding.RemoteCache
	if redisService != nil {
		remote = redisService
	}
	log.Printf("✅ Embedding provider: %s (%s, %d dims)", inner.Name(), model, cfg.EmbeddingDim)
	return embedding.NewCachedProvider(inner, cfg.EmbeddingCacheTTL, remote), inner.Name()
}

type appDeps struct {
	store    services.EventStore
	storage  *services.MemoryStorageService
	recall   *services.RecallService
	sessions *services.CaptureSessionService
	health   *health.Service
}

// newApp wires middleware and routes
func newApp(cfg *config.Config, apiKey middleware.KeySource, deps appDeps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "memory-api",
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second, // stop waits on the transcription provider
		IdleTimeout:  120 * time.Second,
		BodyLimit:    services.MaxUploadBytes + 1024*1024,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prom := fiberprometheus.New("memoryapi")
	prom.RegisterAt(app, "/metrics")
	app.Use(prom.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-API-Key",
	}))

	rateLimitConfig := middleware.NewRateLimitConfig(cfg.RateLimitGlobalAPI, cfg.RateLimitTranscribe, !cfg.IsProduction())
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d/min, Transcribe=%d/min, WS=%d/min",
		rateLimitConfig.GlobalAPIMax,
		rateLimitConfig.TranscribeMax,
		rateLimitConfig.WebSocketMax,
	)

	healthHandler := handlers.NewHealthHandler(deps.store, deps.sessions, deps.health)
	memoryHandler := handlers.NewMemoryHandler(deps.storage, deps.recall)
	audioHandler := handlers.NewAudioHandler(deps.sessions)
	captureSocket := handlers.NewCaptureWebSocketHandler(deps.sessions)

	// Public
	app.Get("/healthz", healthHandler.Handle)

	v1 := app.Group("/v1", middleware.GlobalAPIRateLimiter(rateLimitConfig), middleware.APIKeyMiddleware(apiKey))

	memory := v1.Group("/memory")
	memory.Post("/conversations", memoryHandler.StoreConversation)
	memory.Post("/visual-events", memoryHandler.StoreVisualEvent)
	memory.Post("/recall", memoryHandler.Recall)

	asr := v1.Group("/asr")
	transcribeLimiter := middleware.TranscribeRateLimiter(rateLimitConfig)
	asr.Post("/stream/start", audioHandler.StartStream)
	asr.Post("/stream/chunk", audioHandler.AppendChunk)
	asr.Post("/stream/stop", transcribeLimiter, audioHandler.StopStream)
	asr.Post("/stream/abort", audioHandler.AbortStream)
	asr.Post("/transcribe", transcribeLimiter, audioHandler.Transcribe)

	wsConfig := websocket.Config{
		Origins: strings.Split(cfg.AllowedOrigins, ","),
	}
	asr.Get("/stream/ws",
		middleware.WebSocketRateLimiter(rateLimitConfig),
		func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		},
		websocket.New(captureSocket.Handle, wsConfig),
	)

	return app
}
