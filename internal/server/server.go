// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"plistings/internal/cache"
	"plistings/internal/config"
	"plistings/internal/database"
	"plistings/internal/middleware"
	"plistings/internal/models"
	"plistings/internal/realtime"
	"plistings/internal/repository"
	"plistings/internal/routes"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	userRepo       repository.UserRepository
	listingRepo    repository.ListingRepository
	chatRepo       repository.ChatRepository
	notifier       *realtime.Notifier
	registry       *realtime.Registry
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	return NewServerWithDeps(cfg, db, cache.GetClient())
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	server := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("plistings-api"),
		userRepo:       repository.NewUserRepository(db),
		listingRepo:    repository.NewListingRepository(db),
		chatRepo:       repository.NewChatRepository(db),
	}

	server.notifier = realtime.NewNotifier(redisClient)
	server.registry = realtime.NewRegistry(server.chatRepo, server.listingRepo, server.notifier)

	return server, nil
}

// SetupMiddleware configures the app-wide middleware stack.
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Context Middleware to propagate Request ID and User ID
	app.Use(middleware.ContextMiddleware())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	if s.config.TracingEnabled {
		app.Use(middleware.TracingMiddleware())
	}

	// CORS middleware should run before middlewares that can short-circuit
	// (e.g. limiter) so browser clients still receive CORS headers on error
	// responses.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes mounts every endpoint through the declarative route registry.
// Per-route middlewares execute in slice order, after the group's.
func (s *Server) SetupRoutes(app *fiber.App) error {
	// Health checks and metrics live outside the API groups.
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	auth := routes.Resource{
		Prefix: "/api/auth",
		Routes: []routes.Route{
			{Method: "POST", Path: "/signup", Middlewares: []fiber.Handler{
				middleware.RateLimit(s.redis, 3, 10*time.Minute, "signup")}, Handler: s.Signup},
			{Method: "POST", Path: "/login", Middlewares: []fiber.Handler{
				middleware.RateLimit(s.redis, 10, 5*time.Minute, "login")}, Handler: s.Login},
		},
	}

	listings := routes.Resource{
		Prefix: "/api/listings",
		Routes: []routes.Route{
			{Method: "GET", Path: "/", Handler: s.GetListings},
			{Method: "POST", Path: "/", Middlewares: []fiber.Handler{s.AuthRequired()}, Handler: s.CreateListing},
			{Method: "GET", Path: "/me", Middlewares: []fiber.Handler{s.AuthRequired()}, Handler: s.GetMyListings},
			{Method: "GET", Path: "/:id", Handler: s.GetListing},
			{Method: "PUT", Path: "/:id", Middlewares: []fiber.Handler{s.AuthRequired()}, Handler: s.UpdateListing},
			{Method: "DELETE", Path: "/:id", Middlewares: []fiber.Handler{s.AuthRequired()}, Handler: s.DeleteListing},
			{Method: "POST", Path: "/:id/sold", Middlewares: []fiber.Handler{s.AuthRequired()}, Handler: s.MarkListingSold},
			{Method: "POST", Path: "/:id/renew", Middlewares: []fiber.Handler{s.AuthRequired()}, Handler: s.RenewListing},
			{Method: "POST", Path: "/:id/favorite", Middlewares: []fiber.Handler{s.AuthRequired()}, Handler: s.FavoriteListing},
			{Method: "DELETE", Path: "/:id/favorite", Middlewares: []fiber.Handler{s.AuthRequired()}, Handler: s.UnfavoriteListing},
		},
	}

	users := routes.Resource{
		Prefix:      "/api/users",
		Middlewares: []fiber.Handler{s.AuthRequired()},
		Routes: []routes.Route{
			{Method: "GET", Path: "/me", Handler: s.GetMyProfile},
			{Method: "PUT", Path: "/me", Handler: s.UpdateMyProfile},
			{Method: "DELETE", Path: "/me", Handler: s.DeleteMyAccount},
			{Method: "GET", Path: "/me/favorites", Handler: s.GetMyFavorites},
			{Method: "GET", Path: "/:id", Handler: s.GetUserProfile},
			{Method: "POST", Path: "/:id/suspend", Middlewares: []fiber.Handler{s.AdminRequired()}, Handler: s.SuspendUser},
		},
	}

	chatrooms := routes.Resource{
		Prefix:      "/api/chatrooms",
		Middlewares: []fiber.Handler{s.AuthRequired()},
		Routes: []routes.Route{
			{Method: "GET", Path: "/", Handler: s.GetChatrooms},
			{Method: "GET", Path: "/:id/messages", Handler: s.GetChatMessages},
			{Method: "DELETE", Path: "/:id", Handler: s.DeleteChatroom},
		},
	}

	ws := routes.Resource{
		Prefix: "/api/ws",
		Routes: []routes.Route{
			{Method: "POST", Path: "/ticket", Middlewares: []fiber.Handler{s.AuthRequired()}, Handler: s.IssueWSTicket},
			{Method: "GET", Path: "/", Middlewares: []fiber.Handler{s.AuthRequired(), upgradeRequired}, Handler: s.WebSocketHandler()},
		},
	}

	return routes.Register(app, auth, listings, users, chatrooms, ws)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		redisStatus = "unavailable"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// AuthRequired returns the authentication middleware. It accepts a
// short-lived single-use WebSocket ticket or a Bearer JWT.
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// WebSocket ticket first (short-lived, single-use)
		ticket := c.Query("ticket")
		if ticket != "" && s.redis != nil {
			key := "ws_ticket:" + ticket
			userIDStr, err := s.redis.Get(c.Context(), key).Result()
			if err == nil {
				userID, parseErr := strconv.ParseUint(userIDStr, 10, 32)
				if parseErr == nil {
					// Delete ticket immediately (single-use)
					s.redis.Del(c.Context(), key)
					return storeUser(c, uint(userID))
				}
			}
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid or expired WebSocket ticket"))
		}

		tokenString := bearerToken(c)
		if tokenString == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}

		userID, err := middleware.ParseUserToken(tokenString)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid or expired token"))
		}

		return storeUser(c, userID)
	}
}

// AdminRequired returns middleware that rejects non-admin users with 403.
// Must be placed after AuthRequired so that userID is available in locals.
func (s *Server) AdminRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("userID").(uint)

		user, err := s.userRepo.GetByID(c.Context(), userID)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		}
		if user.Role != models.RoleAdmin {
			return models.RespondWithError(c, fiber.StatusForbidden,
				models.NewUnauthorizedError("Admin access required"))
		}

		return c.Next()
	}
}

func storeUser(c *fiber.Ctx, userID uint) error {
	c.Locals("userID", userID)
	// Sync to UserContext for logging and downstream services
	ctx := context.WithValue(c.UserContext(), middleware.UserIDKey, userID)
	c.SetUserContext(ctx)
	return c.Next()
}

// Start starts the server
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	app := fiber.New(fiber.Config{
		AppName: "PListings API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.app = app

	s.SetupMiddleware(app)
	if err := s.SetupRoutes(app); err != nil {
		return fmt.Errorf("route registration failed: %w", err)
	}

	if err := s.registry.StartWiring(s.shutdownCtx); err != nil {
		log.Printf("failed to start %s relay wiring: %v", s.registry.Name(), err)
	}

	log.Printf("Server starting on port %s...", s.config.Port)
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
		}
	}

	if err := s.registry.Shutdown(ctx); err != nil {
		log.Printf("error shutting down %s registry: %v", s.registry.Name(), err)
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Printf("error closing sql DB: %v", cerr)
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			log.Printf("error closing redis: %v", rerr)
		}
	}

	log.Println("Server shutdown complete")
	return nil
}
