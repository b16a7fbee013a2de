// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"readaddicts/internal/cache"
	"readaddicts/internal/config"
	"readaddicts/internal/database"
	"readaddicts/internal/featureflags"
	"readaddicts/internal/media"
	"readaddicts/internal/middleware"
	"readaddicts/internal/models"
	"readaddicts/internal/notifications"
	"readaddicts/internal/repository"
	"readaddicts/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
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
	appOnce        sync.Once
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	userRepo       repository.UserRepository
	postRepo       repository.PostRepository
	commentRepo    repository.CommentRepository
	messageRepo    repository.MessageRepository
	featureFlags   *featureflags.Manager
	notifier       *notifications.Notifier
	hub            *notifications.Hub
	dispatcher     *notifications.Dispatcher
	images         *media.Store
	postService    *service.PostService
	commentService *service.CommentService
	messageService *service.MessageService
}

// NewServer connects to the database and Redis and builds a server on top.
// Redis is optional: without it push stays local to this instance and the
// unread-count cache is skipped.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := database.ApplySchema(ctx, db, cfg); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return NewServerWithDeps(cfg, db, cache.InitRedis(cfg.RedisURL))
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis itself.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	if cfg == nil || db == nil {
		return nil, fmt.Errorf("server requires config and database")
	}

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("readaddicts-api"),
		userRepo:       repository.NewUserRepository(db),
		postRepo:       repository.NewPostRepository(db),
		commentRepo:    repository.NewCommentRepository(db),
		messageRepo:    repository.NewMessageRepository(db),
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
		notifier:       notifications.NewNotifier(redisClient),
		images:         media.NewStore(cfg),
	}
	s.shutdownCtx, s.shutdownFn = context.WithCancel(context.Background())

	presence := notifications.NewPresence(redisClient, notifications.PresenceConfig{})
	s.hub = notifications.NewHub(presence)
	s.dispatcher = notifications.NewDispatcher(s.notifier, s.hub, cfg.PushQueueSize)

	s.postService = service.NewPostService(s.postRepo)
	s.commentService = service.NewCommentService(s.commentRepo, s.postRepo, s.userRepo, service.CommentServiceOptions{
		MaxReplyDepth: cfg.MaxReplyDepth,
		MaxPageLimit:  cfg.MaxPageLimit,
	})
	s.messageService = service.NewMessageService(
		s.messageRepo,
		s.userRepo,
		flaggedNotifier{flags: s.featureFlags, next: s.dispatcher},
		s.hub,
		cfg.MaxPageLimit,
	)

	// Coming online and going offline both count as activity.
	presence.SetCallbacks(s.touchUser, s.touchUser)

	return s, nil
}

// flaggedNotifier forwards push events only to users the realtime_push flag
// is on for.
type flaggedNotifier struct {
	flags *featureflags.Manager
	next  service.Notifier
}

func (n flaggedNotifier) NotifyUser(userID, event string, payload any) {
	if !n.flags.Enabled(featureflags.RealtimePush, userID) {
		return
	}
	n.next.NotifyUser(userID, event, payload)
}

func (s *Server) touchUser(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.messageService.UpdateUserLastActivity(ctx, userID); err != nil {
		middleware.Logger.Warn("failed to update last activity",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Context Middleware to propagate Request ID and User ID
	app.Use(middleware.ContextMiddleware())

	if s.config.TracingEnabled {
		app.Use(middleware.TracingMiddleware())
	}

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected requests still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:4200,http://localhost:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: origins != "*",
		MaxAge:           86400, // 24 hours
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || s.config.Env == "test"
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

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	if base := s.config.ImagePublicBaseURL; strings.HasPrefix(base, "/") {
		app.Static(base, s.images.Dir())
	}

	api := app.Group("/api/v1")
	api.Get("/metrics/dashboard", monitor.New(monitor.Config{
		Title: "readaddicts metrics",
	}))

	posts := api.Group("/posts")
	posts.Post("/", middleware.AuthRequired, s.CreatePost)
	posts.Get("/:id/comments", s.GetPostComments)
	posts.Get("/:id", s.GetPost)

	comments := api.Group("/comments")
	comments.Post("/", middleware.AuthRequired, s.CreateComment)
	comments.Get("/:id/replies", s.GetReplies)
	comments.Get("/:id", s.GetComment)
	comments.Patch("/:id", middleware.AuthRequired, s.UpdateComment)
	comments.Delete("/:id", middleware.AuthRequired, s.DeleteComment)

	users := api.Group("/users")
	users.Get("/:username/comments", s.GetUserComments)

	messages := api.Group("/messages", middleware.AuthRequired)
	messages.Get("/", s.GetUserMessages)
	messages.Post("/send/:receiverId", middleware.RateLimit(
		s.redis, s.config.RateLimitMessagesPerMinute, time.Minute, "send_message"), s.SendMessage)
	messages.Get("/conversation/:userId", s.GetConversation)
	messages.Get("/recent-chats", s.GetRecentChats)
	messages.Patch("/read-messages/:senderId", s.ReadMessages)
	messages.Get("/notification-count", s.GetMessageNotificationCount)

	api.Get("/ws", middleware.WebSocketAuthRequired, s.requireFlag(featureflags.RealtimePush), s.WebsocketHandler())

	images := api.Group("/images", middleware.AuthRequired, s.requireFlag(featureflags.ImageUploads))
	images.Post("/", s.UploadImage)
	images.Delete("/", s.DeleteImages)
}

// requireFlag hides a route from callers the flag is off for.
func (s *Server) requireFlag(name string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !s.featureFlags.Enabled(name, callerID(c)) {
			return models.RespondWithError(c, fiber.StatusNotFound,
				models.NewNotFoundError("Route", c.Path()))
		}
		return c.Next()
	}
}

// App builds the Fiber application on first use.
func (s *Server) App() *fiber.App {
	s.appOnce.Do(func() { s.app = s.buildApp() })
	return s.app
}

func (s *Server) buildApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:   "readaddicts API",
		BodyLimit: (s.config.ImageMaxUploadSizeMB + 1) * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// LivenessCheck reports that the process is up
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck reports database and Redis health. Redis is optional, so
// only a failing database makes the instance unready.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if err := database.Ping(ctx, s.db); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus != "healthy" {
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

// StartBackground subscribes the hub to cross-instance pushes and starts the
// push dispatcher. Both stop when ctx is cancelled.
func (s *Server) StartBackground(ctx context.Context) error {
	if s.notifier.Enabled() {
		if err := s.hub.StartWiring(ctx, s.notifier); err != nil {
			return fmt.Errorf("start %s wiring: %w", s.hub.Name(), err)
		}
	}
	go s.dispatcher.Run(ctx)
	return nil
}

// Start wires background work and serves HTTP until the app is shut down.
func (s *Server) Start() error {
	if err := s.StartBackground(s.shutdownCtx); err != nil {
		middleware.Logger.Warn("realtime push stays local", slog.String("error", err.Error()))
	}

	app := s.App()
	middleware.Logger.Info("server starting", slog.String("port", s.config.Port))
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// Stops the wiring goroutines and lets the dispatcher drain.
	s.shutdownFn()

	if err := s.App().ShutdownWithContext(ctx); err != nil {
		middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
	}

	if err := s.hub.Shutdown(ctx); err != nil {
		middleware.Logger.Error("error shutting down hub",
			slog.String("hub", s.hub.Name()),
			slog.String("error", err.Error()),
		)
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	middleware.Logger.Info("server shutdown complete")
	return nil
}
