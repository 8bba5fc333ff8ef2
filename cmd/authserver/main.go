package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/goliatone/go-print"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	auth "github.com/dbd-fish/templete-web-system"
	"github.com/dbd-fish/templete-web-system/activitymap"
	"github.com/dbd-fish/templete-web-system/config"
	"github.com/dbd-fish/templete-web-system/mailer"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	config   *config.Config
	log      zerolog.Logger
	db       *bun.DB
	redis    *redis.Client
	mailer   auth.Mailer
	service  *auth.Service
	notifier *auth.Notifier
	srv      *fiber.App
}

func (a *App) GetLogger(name string) auth.Logger {
	return auth.NewZerologLogger(a.log.With().Str("logger", name).Logger())
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	app := &App{config: cfg, log: newLogger(cfg.Log)}
	app.log.Debug().Msgf("configuration: %s", print.MaybePrettyJSON(cfg.Redacted()))

	steps := []func(context.Context, *App) error{
		WithPersistence,
		WithRedis,
		WithMailer,
		WithAuth,
		WithHTTPServer,
	}
	for _, step := range steps {
		if err := step(ctx, app); err != nil {
			app.log.Fatal().Err(err).Msg("failed to initialize server")
		}
	}

	go func() {
		app.log.Info().Str("addr", cfg.App.HTTPAddr).Msg("http server listening")
		if err := app.srv.Listen(cfg.App.HTTPAddr); err != nil {
			app.log.Fatal().Err(err).Msg("http server stopped")
		}
	}()

	sig := WaitExitSignal()
	app.log.Info().Str("signal", sig.String()).Msg("shutting down")

	app.Shutdown()
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}

	return logger.Level(level).With().Timestamp().Str("service", "authserver").Logger()
}

func WithPersistence(ctx context.Context, app *App) error {
	cfg := app.config.Database

	var db *bun.DB
	switch cfg.Driver {
	case "postgres":
		sqldb, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return err
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DSN)
		if err != nil {
			return err
		}
		// sqlite allows a single writer
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	}

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}

	if err := auth.CreateSchema(ctx, db); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	app.db = db
	app.log.Info().Str("driver", cfg.Driver).Msg("database ready")
	return nil
}

func WithRedis(ctx context.Context, app *App) error {
	cfg := app.config.Redis
	if cfg.Addr == "" {
		app.log.Info().Msg("REDIS_ADDR not set, logout does not revoke tokens")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping: %w", err)
	}

	app.redis = client
	return nil
}

func WithMailer(_ context.Context, app *App) error {
	cfg := app.config
	if !cfg.MailEnabled() {
		app.log.Warn().Msg("mail sending disabled or SMTP credentials missing, mail is only logged")
		app.mailer = auth.NewLogMailer(app.GetLogger("mailer"))
		return nil
	}

	smtp, err := mailer.NewSMTP(mailer.Options{
		Host:     cfg.SMTP.Server,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
	if err != nil {
		return err
	}

	app.mailer = smtp
	return nil
}

func WithAuth(_ context.Context, app *App) error {
	cfg := app.config

	tokens, err := auth.NewTokenService([]byte(cfg.GetSigningKey()),
		auth.WithSigningMethod(cfg.GetSigningMethod()),
		auth.WithTokenLogger(app.GetLogger("tokens")),
	)
	if err != nil {
		return err
	}

	templates, err := auth.NewMailTemplates(cfg.App.Name)
	if err != nil {
		return err
	}

	mailLogger := app.GetLogger("mail")
	app.notifier = auth.NewNotifier(
		templates,
		auth.NewMailDispatcher(app.mailer, mailLogger, 30*time.Second),
		cfg.GetAppURL(),
		mailLogger,
	)

	var denylist auth.TokenDenylist
	if app.redis != nil {
		denylist = auth.NewRedisDenylist(app.redis, time.Now)
	}

	repo := auth.NewRepositoryManager(app.db)
	repo.MustValidate()

	app.service = auth.NewService(auth.ServiceDeps{
		Repo: repo,
		Hasher: auth.NewBcryptHasher(
			auth.WithHashCost(cfg.Password.HashCost),
			auth.WithHashConcurrency(cfg.Password.HashConcurrency),
		),
		Tokens:       tokens,
		Notifier:     app.notifier,
		Denylist:     denylist,
		ActivitySink: activitymap.NewZerologSink(app.log.With().Str("logger", "activity").Logger()),
		Logger:       app.GetLogger("auth"),
		HashedIDs:    cfg.Users.HashedIDs,
		PhoneRegion:  cfg.Users.PhoneRegion,
	}, cfg)

	return nil
}

func WithHTTPServer(_ context.Context, app *App) error {
	cfg := app.config
	logger := app.GetLogger("http")

	srv := fiber.New(fiber.Config{
		AppName:                 cfg.App.Name,
		ErrorHandler:            auth.FiberErrorHandler(logger),
		ReadTimeout:             10 * time.Second,
		WriteTimeout:            10 * time.Second,
		DisableStartupMessage:   cfg.IsProduction(),
		ProxyHeader:             cfg.HTTP.ProxyHeader,
		EnableTrustedProxyCheck: true,
		TrustedProxies:          cfg.HTTP.TrustedProxies,
	})

	srv.Use(recover.New())

	srv.Use("/api/v1/auth/login", auth.LoginLimiter(cfg.HTTP.LoginRateLimit, cfg.HTTP.LoginWindow))

	auth.RegisterHealthRoutes(srv, app.db, logger)

	httpAuth := auth.NewHTTPAuthenticator(app.service, cfg).WithLogger(logger)
	auth.RegisterAuthRoutes(srv.Group("/api/v1/auth"),
		auth.WithAuthService(app.service),
		auth.WithRouteAuthenticator(httpAuth),
		auth.WithControllerLogger(app.GetLogger("auth:ctrl")),
		auth.WithControllerDebug(!cfg.IsProduction()),
	)

	app.srv = srv
	return nil
}

// Shutdown stops accepting requests, waits for queued mail and closes
// the backing stores.
func (a *App) Shutdown() {
	if err := a.srv.ShutdownWithTimeout(shutdownTimeout); err != nil {
		a.log.Error().Err(err).Msg("http shutdown")
	}

	a.service.Wait()

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error().Err(err).Msg("redis close")
		}
	}

	if err := a.db.Close(); err != nil {
		a.log.Error().Err(err).Msg("database close")
	}

	a.log.Info().Msg("bye")
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
