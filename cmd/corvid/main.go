package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/corvid-chat/corvid-server/internal/api"
	"github.com/corvid-chat/corvid-server/internal/auth"
	"github.com/corvid-chat/corvid-server/internal/bootstrap"
	"github.com/corvid-chat/corvid-server/internal/category"
	"github.com/corvid-chat/corvid-server/internal/channel"
	"github.com/corvid-chat/corvid-server/internal/config"
	"github.com/corvid-chat/corvid-server/internal/folder"
	"github.com/corvid-chat/corvid-server/internal/gateway"
	"github.com/corvid-chat/corvid-server/internal/httputil"
	"github.com/corvid-chat/corvid-server/internal/message"
	"github.com/corvid-chat/corvid-server/internal/moderation"
	"github.com/corvid-chat/corvid-server/internal/postgres"
	"github.com/corvid-chat/corvid-server/internal/readstate"
	"github.com/corvid-chat/corvid-server/internal/rss"
	"github.com/corvid-chat/corvid-server/internal/server"
	"github.com/corvid-chat/corvid-server/internal/sfu"
	"github.com/corvid-chat/corvid-server/internal/storage"
	"github.com/corvid-chat/corvid-server/internal/user"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().Str("env", cfg.ServerEnv).Msg("Starting Corvid Server")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is set to a wildcard \"*\". This allows any origin to make requests to your server. Set an explicit origin (e.g. https://your-client.example.com) for production deployments.")
	}

	ctx := context.Background()

	// Connect PostgreSQL
	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	// Run migrations
	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	// Repositories
	users := user.NewPGRepository(db, log.Logger)
	servers := server.NewPGRepository(db, log.Logger)
	categories := category.NewPGRepository(db)
	channels := channel.NewPGRepository(db)
	messages := message.NewPGRepository(db, log.Logger)
	readstates := readstate.NewPGRepository(db)
	files := folder.NewPGRepository(db)
	rssItems := rss.NewPGRepository(db)

	// Ensure the hub configuration row and the synthetic accounts exist
	seeded, err := bootstrap.Run(ctx, servers, users, log.Logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	// Storage: the local directory always exists, a persisted remote configuration is restored on top of it
	local, err := storage.NewLocalBackend(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open data directory: %w", err)
	}
	store := storage.NewManager(local, servers, files, log.Logger)
	if err := store.Restore(ctx); err != nil {
		return fmt.Errorf("restore storage configuration: %w", err)
	}

	// Voice engine
	engine, err := sfu.NewMediasoupEngine(sfu.MediasoupConfig{
		ListenIP:       cfg.SFUListenIP,
		AnnouncedIP:    cfg.SFUAnnouncedIP,
		RtcMinPort:     uint16(cfg.SFURTCMinPort),
		RtcMaxPort:     uint16(cfg.SFURTCMaxPort),
		InitialBitrate: cfg.SFUInitialBitrate,
	}, log.Logger)
	if err != nil {
		return fmt.Errorf("start voice engine: %w", err)
	}
	defer func() { _ = engine.Close() }()
	rooms := sfu.NewRooms(engine, log.Logger)

	// The admin key is printed once per process; whoever submits it over the gateway claims the admin role.
	adminKey, err := auth.NewAdminKey()
	if err != nil {
		return fmt.Errorf("generate admin key: %w", err)
	}
	log.Info().Str("admin_key", adminKey).Msg("Admin key generated, submit it over the gateway to claim the admin role")

	hub := gateway.NewHub(users, servers, categories, channels, messages, readstates, files,
		store, rooms, adminKey, cfg.MaxUploadBytes(), log.Logger)
	hub.SetModeration(moderation.NewEngine(
		moderation.NewPGActionRepository(db),
		moderation.NewPGBanRepository(db),
		users, messages, hub, log.Logger,
	))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go hub.RunKeepAlive(runCtx)

	poller := rss.NewPoller(channels, rssItems, messages, hub, seeded.RSSBot.ID, cfg.RSSPollInterval, log.Logger)
	go poller.Run(runCtx)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName: "Corvid",
		// ErrorHandler catches errors returned by handlers that are not already mapped to structured API responses
		// (e.g. Fiber's built-in 404/405). errors.AsType is a generic helper added in Go 1.26.
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			msg := "An internal error occurred"
			code := httputil.CodeInternal
			if e, ok := errors.AsType[*fiber.Error](err); ok {
				status = e.Code
				msg = e.Message
				code = httputil.CodeForStatus(e.Code)
			} else {
				log.Error().Err(err).
					Str("method", c.Method()).
					Str("path", c.Path()).
					Msg("Unhandled error")
			}
			return httputil.Fail(c, status, code, msg)
		},
	})

	// Global middleware
	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(log.Logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Split(cfg.CORSAllowOrigins, ","),
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))

	registerRoutes(app, db, servers, store, hub)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		cancel()
		hub.Shutdown()
		_ = app.Shutdown()
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("Server listening")
	if err := app.Listen(cfg.ListenAddr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func registerRoutes(app *fiber.App, db *pgxpool.Pool, servers server.Repository, store *storage.Manager, hub *gateway.Hub) {
	health := api.NewHealthHandler(db)
	app.Get("/api/v1/health", health.Health)

	gw := api.NewGatewayHandler(hub)
	app.Get("/api/v1/gateway", gw.Upgrade)

	// Icon routes are auth-free so the login screen can show the hub identity. The s3 route is registered first so
	// its literal prefix wins over the :serverID parameter.
	icons := api.NewIconHandler(servers, store, log.Logger)
	app.Get("/server-icons/s3/*", icons.ServeRemote)
	app.Get("/server-icons/:serverID/:name", icons.ServeLocal)
}
