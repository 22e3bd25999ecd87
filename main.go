package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"rps-arena-system/cache"
	"rps-arena-system/handlers"
	"rps-arena-system/middleware"
	"rps-arena-system/models"
	"rps-arena-system/services"
	"rps-arena-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func envSeconds(key string, fallback int) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
		log.Printf("⚠️  Invalid %s=%q, using default %ds", key, raw, fallback)
	}
	return time.Duration(fallback) * time.Second
}

func envFloat(key string, fallback float64) float64 {
	if raw := os.Getenv(key); raw != "" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil && f >= 0 && f < 1 {
			return f
		}
		log.Printf("⚠️  Invalid %s=%q, using default %v", key, raw, fallback)
	}
	return fallback
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		AppName: "rps-arena-system",
	})

	// 🔐 GLOBAL: only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(allowedOriginsList, ","),
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-User-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Match{},
		&models.Transaction{},
		&models.Chest{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatal("invalid REDIS_URL:", err)
	}
	rdb := redis.NewClient(redisOpts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis:", err)
	}

	matchConfig := services.MatchConfig{
		JoinWindow:     envSeconds("MATCH_JOIN_WINDOW_SECONDS", 60),
		ChoiceWindow:   envSeconds("CHOICE_TIMEOUT_SECONDS", 10),
		MatchTimeout:   envSeconds("MATCH_TIMEOUT_SECONDS", 60),
		CommissionRate: envFloat("COMMISSION_RATE", 0.05),
	}

	matchCache := cache.NewMatchCache(rdb)
	events := services.NewEventBroker()
	userService := services.NewUserService(db)
	txnService := services.NewTransactionService(db)
	matchService := services.NewMatchService(db, matchCache, userService, txnService, events, matchConfig)
	chestService := services.NewChestService(db, txnService, userService, nil)

	if err := userService.EnsureSystemAccount(); err != nil {
		log.Fatal("failed to ensure commission account:", err)
	}
	if err := chestService.EnsureDefaultChests(); err != nil {
		log.Fatal("failed to seed chest catalog:", err)
	}

	reclaimer := workers.NewTimeoutReclaimer(
		db, matchCache, txnService, events,
		matchConfig.MatchTimeout,
		envSeconds("RECLAIM_INTERVAL_SECONDS", 30),
	)
	go func() {
		if err := reclaimer.Start(ctx); err != nil {
			log.Printf("Timeout reclaimer error: %v", err)
		}
	}()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "timestamp": time.Now().UTC()})
	})

	rateLimit := middleware.MatchRateLimiter(30, time.Minute)
	handlers.SetupMatchRoutes(app, matchService, rateLimit)
	handlers.SetupUserRoutes(app, userService)
	handlers.SetupChestRoutes(app, chestService)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Println("✅ Timeout reclaimer running")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.Shutdown(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
