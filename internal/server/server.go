package server

import (
	"backend-stridetrack/internal/auth"
	"backend-stridetrack/internal/coach"
	"backend-stridetrack/internal/config"
	"backend-stridetrack/internal/location"
	"backend-stridetrack/internal/recovery"
	"backend-stridetrack/internal/session"
	"backend-stridetrack/internal/store"
	"backend-stridetrack/internal/stream"

	"github.com/benbjohnson/clock"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Stream   *stream.Hub
	Sessions *session.Manager
	Janitor  *recovery.Janitor
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	hub := stream.NewHub(redisClient)
	repo := recovery.NewRedisRepository(redisClient, cfg.RecoveryWindow)

	var generator coach.Generator = coach.NopGenerator{}
	if cfg.CoachURL != "" {
		generator = coach.NewHTTPGenerator(cfg.CoachURL)
	}

	sessions := session.NewManager(cfg, clock.New(), session.Deps{
		Store:      store.NewService(db),
		Recovery:   repo,
		Hub:        hub,
		Coach:      generator,
		Sink:       coach.LogSink{},
		Background: location.NewPushService(),
	})

	s := &Server{
		App:      app,
		Cfg:      cfg,
		DB:       db,
		Redis:    redisClient,
		Stream:   hub,
		Sessions: sessions,
		Janitor:  recovery.NewJanitor(repo, cfg.RecoveryWindow),
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	session.RegisterRoutes(s.App.Group("/sessions"), s.Sessions, jwtMiddleware)
	session.RegisterRecoveryRoutes(s.App.Group("/recovery"), s.Sessions, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}
