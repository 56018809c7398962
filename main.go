package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/storage/redis/v3"
	"github.com/sikulab/secauth/internal/audit"
	"github.com/sikulab/secauth/internal/auth"
	"github.com/sikulab/secauth/internal/captcha"
	"github.com/sikulab/secauth/internal/common"
	"github.com/sikulab/secauth/internal/config"
	"github.com/sikulab/secauth/internal/handlers/api"
	"github.com/sikulab/secauth/internal/mail"
	"github.com/sikulab/secauth/internal/middlewares"
	"github.com/sikulab/secauth/internal/store"
	"github.com/sikulab/secauth/internal/users"
	"github.com/sikulab/secauth/model"
	"github.com/sikulab/secauth/params"
	"github.com/urfave/cli/v2"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
	"gorm.io/plugin/dbresolver"
)

var (
	app       *cli.App
	gitCommit string
	gitDate   string
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "YAML config file",
		Value: "config.yaml",
	}
	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Enable debug logging",
	}
)

func init() {
	app = cli.NewApp()
	app.EnableBashCompletion = true
	app.Usage = "secauth - account security and token issuance server"
	app.Flags = []cli.Flag{
		configFileFlag,
		debugFlag,
	}
	app.Commands = []*cli.Command{
		{
			Name: "version",
			Action: func(ctx *cli.Context) error {
				fmt.Println(params.VersionWithCommit(gitCommit, gitDate))
				return nil
			},
		},
	}
	app.Action = run
}

func mustInitLogger(debug bool) {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

func mustInitDatabase(dbConfig config.MySQLConfig) *gorm.DB {
	db, err := gorm.Open(mysql.Open(dbConfig.Dsn), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   dbConfig.TablePrefix,
			SingularTable: true,
		},
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if len(dbConfig.ReplicaDsns) > 0 {
		replicas := make([]gorm.Dialector, 0, len(dbConfig.ReplicaDsns))
		for _, dsn := range dbConfig.ReplicaDsns {
			replicas = append(replicas, mysql.Open(dsn))
		}
		if err := db.Use(dbresolver.Register(dbresolver.Config{Replicas: replicas})); err != nil {
			slog.Error("Failed to register database replicas", "error", err)
			os.Exit(1)
		}
	}

	sqlDB, err := db.DB()
	if err == nil {
		if dbConfig.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConns)
		}
		if dbConfig.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(dbConfig.MaxOpenConns)
		}
		if dbConfig.ConnMaxIdleTime > 0 {
			sqlDB.SetConnMaxIdleTime(time.Duration(dbConfig.ConnMaxIdleTime) * time.Second)
		}
		if dbConfig.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Second)
		}
	}

	if err := db.AutoMigrate(model.Models...); err != nil {
		slog.Error("Database migration failed", "error", err)
		os.Exit(1)
	}

	return db
}

func mustInitRedisStorage(redisCfg config.RedisConfig) *redis.Storage {
	return redis.New(redis.Config{
		URL:           redisCfg.URL,
		PoolSize:      redisCfg.PoolSize,
		IsClusterMode: redisCfg.ClusterMode,
	})
}

func mustInitMailSender(mailCfg config.MailConfig) mail.MailSender {
	switch mailCfg.Backend {
	case "", "none":
		slog.Warn("Mail sender disabled; verification codes will not be delivered")
		return nil
	case "smtp":
		sender, err := mail.NewSMTPMailSender(mail.SMTPConfig{
			Host:     mailCfg.SMTP.Host,
			Port:     mailCfg.SMTP.Port,
			Username: mailCfg.SMTP.Username,
			Password: mailCfg.SMTP.Password,
			TLS:      mailCfg.SMTP.TLS,
			CertFile: mailCfg.SMTP.CertFile,
			KeyFile:  mailCfg.SMTP.KeyFile,
			CAFile:   mailCfg.SMTP.CAFile,
		}, mailCfg.From)
		if err != nil {
			slog.Error("Failed to initialize SMTP mail sender", "error", err)
			os.Exit(1)
		}
		return sender
	}
	slog.Error("Unsupported mail sender backend", "backend", mailCfg.Backend)
	os.Exit(1)
	return nil
}

func setupAPIRoutes(
	router fiber.Router,
	tokenService *auth.TokenService,
	authHandler *api.AuthHandler,
	auditHandler *api.AuditHandler,
	adminHandler *api.AdminHandler,
) {
	v1 := router.Group("/api/v1")
	v1.Post("/auth/login", authHandler.PostLogin)
	v1.Post("/auth/refresh", authHandler.PostRefresh)
	v1.Post("/auth/register", authHandler.PostRegister)
	v1.Post("/auth/email-code", authHandler.PostSendEmailCode)
	v1.Get("/auth/captcha", authHandler.GetCaptcha)

	authed := v1.Group("", middlewares.Authenticate(tokenService))
	authed.Post("/auth/logout", authHandler.PostLogout)
	authed.Post("/auth/password", authHandler.PostChangePassword)
	authed.Get("/auth/profile", authHandler.GetProfile)

	admin := authed.Group("/admin", middlewares.RequireRole(model.RoleAdmin))
	admin.Get("/audit/events", auditHandler.GetEvents)
	admin.Get("/audit/statistics", auditHandler.GetStatistics)
	admin.Get("/users/:id", adminHandler.GetUser)
	admin.Post("/users/:id/status", adminHandler.PostSetStatus)
	admin.Post("/users/:id/unlock", adminHandler.PostUnlock)
	admin.Post("/users/:id/roles", adminHandler.PostSetRoles)
}

func run(ctx *cli.Context) error {
	cfg, err := config.LoadConfig(ctx.String(configFileFlag.Name))
	if err != nil {
		slog.Error("Could not load config file.", "error", err)
		return err
	}

	mustInitLogger(cfg.Debug || ctx.IsSet(debugFlag.Name))

	mailSender := mustInitMailSender(cfg.Mail)
	db := mustInitDatabase(cfg.MySQL)
	redisStorage := mustInitRedisStorage(cfg.Redis)
	cacheStorage := store.NewRedisStorage(redisStorage.Conn())

	// stores
	var (
		sessions      = store.New[auth.SessionRecord](cacheStorage, params.SessionKeyPrefix)
		refreshTokens = store.New[auth.RefreshRecord](cacheStorage, params.RefreshKeyPrefix)
		captchaCodes  = store.New[string](cacheStorage, params.CaptchaKeyPrefix)
		emailCodes    = store.New[string](cacheStorage, params.EmailCodeKeyPrefix)
	)

	// repositories
	var (
		userRepo  = users.NewUserRepository(db)
		eventRepo = audit.NewEventRepository(db)
	)

	recorder := audit.NewRecorder(eventRepo, cfg.Audit.Shards, cfg.Audit.QueueSize)
	defer recorder.Close()

	// services
	userService := users.NewUserService(userRepo, emailCodes, mailSender, cfg.Auth.BcryptCost)
	var captchaService *captcha.Service
	var verifier captcha.Verifier
	if cfg.Captcha.Enabled {
		captchaService = captcha.NewService(captchaCodes)
		verifier = captchaService
	}
	authenticator := auth.NewAuthenticator(auth.AuthenticatorConfig{
		MaxFailCount:   cfg.Auth.MaxLoginFail,
		LockDuration:   cfg.Auth.LockDuration,
		RequireCaptcha: cfg.Auth.RequireCaptcha,
	}, userRepo, verifier, recorder)
	authenticator.OnLockout(userService.NotifyAccountLocked)
	tokenService := auth.NewTokenService(auth.TokenConfig{
		Secret:          []byte(cfg.Auth.JWTSecret),
		Issuer:          cfg.Auth.Issuer,
		Audience:        cfg.Auth.Audience,
		AccessTokenTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
		RememberMeTTL:   cfg.Auth.RememberMeTTL,
	}, sessions, refreshTokens, userRepo, recorder)

	// handlers
	var (
		authHandler  = api.NewAuthHandler(authenticator, tokenService, userService, captchaService, recorder)
		auditHandler = api.NewAuditHandler(eventRepo)
		adminHandler = api.NewAdminHandler(userService)
	)

	router := fiber.New(fiber.Config{
		Prefork:       false,
		CaseSensitive: true,
		BodyLimit:     params.ServerBodyLimit,
		IdleTimeout:   params.ServerIdleTimeout,
		ReadTimeout:   params.ServerReadTimeout,
		WriteTimeout:  params.ServerWriteTimeout,
		ErrorHandler:  middlewares.ErrorHandler,
	})

	router.Use(recover.New())
	router.Use(logger.New())
	router.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowOrigins, ", "),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Trace-Id, X-Device-Id",
	}))
	router.Use(middlewares.WithTraceID())

	setupAPIRoutes(router, tokenService, authHandler, auditHandler, adminHandler)

	healthCheckCtx, term := context.WithCancel(ctx.Context)
	done := make(chan struct{})
	go common.StartHealthCheckServer(healthCheckCtx, done, params.HealthCheckServerAddr, redisStorage.Conn(), db)
	defer func() {
		term()
		<-done
	}()
	return router.Listen(cfg.ListenAddr)
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
