package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/background"
	"github.com/BradenHooton/bastion/internal/config"
	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/handlers"
	middlewareCustom "github.com/BradenHooton/bastion/internal/middleware"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/repositories"
	"github.com/BradenHooton/bastion/internal/routes"
	"github.com/BradenHooton/bastion/internal/services"
	"github.com/BradenHooton/bastion/pkg/breach"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(context.Background(), &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	customerRepo := repositories.NewCustomerRepository(db)
	codeRepo := repositories.NewVerificationCodeRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	historyRepo := repositories.NewPasswordHistoryRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(db)

	breachCache, closeCache, err := newBreachCache(cfg, db, logger)
	if err != nil {
		logger.Error("failed to initialize breach cache", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeCache()

	// Security primitives
	codeService := services.NewVerificationCodeService(codeRepo, services.VerificationCodeConfig{
		TTL:            cfg.Codes.TTL,
		MaxAttempts:    cfg.Codes.MaxAttempts,
		ResendCooldown: cfg.Codes.ResendCooldown,
		Retention:      cfg.Codes.Retention,
	}, logger)

	sessionService := services.NewSessionService(sessionRepo, services.SessionConfig{
		TokenHashCost:    cfg.Sessions.TokenHashCost,
		RevokedRetention: cfg.Sessions.RevokedRetention,
		IdleTimeout:      cfg.Sessions.IdleTimeout,
		MaxAge:           cfg.Sessions.MaxAge,
		TouchTimeout:     cfg.Sessions.TouchTimeout,
	}, logger)

	attemptService := services.NewLoginAttemptService(attemptRepo, services.LoginAttemptConfig{
		Threshold:   cfg.Lockout.Threshold,
		Duration:    cfg.Lockout.Duration,
		TrackBy:     models.TrackingKeyKind(cfg.Lockout.TrackBy),
		Multiplier:  cfg.Lockout.Multiplier,
		MaxDuration: cfg.Lockout.MaxDuration,
		Retention:   cfg.Lockout.AttemptRetention,
	}, logger)

	var breachChecker *services.BreachChecker
	if cfg.Password.BreachEnabled {
		client := breach.NewClient(cfg.Password.BreachAPIURL, cfg.Password.BreachTimeout)
		breachChecker = services.NewBreachChecker(breachCache, client, cfg.Password.BreachCacheTTL, cfg.Password.BreachTimeout, logger)
	} else {
		logger.Warn("breached password check disabled")
	}

	passwordService := services.NewPasswordPolicyService(historyRepo, breachChecker, services.PasswordPolicyConfig{
		MinLength:    cfg.Password.MinLength,
		MaxLength:    cfg.Password.MaxLength,
		MinScore:     cfg.Password.MinScore,
		HistoryDepth: cfg.Password.HistoryDepth,
	}, logger)

	sender, err := newEmailSender(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize email sender", slog.Any("error", err))
		os.Exit(1)
	}

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.SessionTokenExpiry)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:    cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs:  cfg.Auth.TimingDelayRandomMs,
		DelayOnSuccess: true,
	})

	accountService := services.NewAccountService(
		customerRepo,
		codeService,
		sessionService,
		passwordService,
		attemptService,
		services.NewEmailNotifier(sender),
		tokenManager,
		timingDelay,
		services.AccountConfig{RequireVerifiedEmail: cfg.Auth.RequireVerifiedEmail},
		logger,
	)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(accountService, ipConfig, logger)
	sessionHandler := handlers.NewSessionHandler(accountService, logger)
	passwordHandler := handlers.NewPasswordHandler(accountService, ipConfig, logger)

	// Retention sweeps
	cleanupManager := background.NewCleanupManager(logger, cfg.Auth.CleanupInterval,
		background.CleanupTask{Name: "verification_codes", Run: codeService.Cleanup},
		background.CleanupTask{Name: "sessions", Run: sessionService.Cleanup},
		background.CleanupTask{Name: "login_attempts", Run: attemptService.Cleanup},
		background.CleanupTask{Name: "breach_cache", Run: passwordService.CleanupBreachCache},
		background.CleanupTask{Name: "password_history", Run: passwordService.PruneHistory},
	)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	publicLimit := middlewareCustom.DefaultPublicRateLimit(ipConfig)
	publicLimit.RequestsPerMinute = cfg.Server.PublicRateLimit

	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:     authHandler,
		SessionHandler:  sessionHandler,
		PasswordHandler: passwordHandler,
		TokenManager:    tokenManager,
		Sessions:        sessionService,
		PublicLimit:     publicLimit,
		CustomerLimit:   middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.CustomerRateLimit, IPConfig: ipConfig},
		Logger:          logger,
	})

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "up"})
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	// Outstanding emails and activity updates run detached from requests
	accountService.WaitForNotifications()
	sessionService.WaitForTouches()

	logger.Info("server stopped gracefully")
}

// newBreachCache prefers Redis when REDIS_URL is set and falls back to the
// breach_check_cache table
func newBreachCache(cfg *config.Config, db *database.DB, logger *slog.Logger) (services.BreachCache, func(), error) {
	if cfg.Redis.URL == "" {
		return repositories.NewBreachCheckRepository(db), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	logger.Info("breach cache using redis", slog.String("addr", opts.Addr))
	return repositories.NewRedisBreachCache(client), func() { _ = client.Close() }, nil
}

func newEmailSender(cfg *config.Config, logger *slog.Logger) (services.EmailSender, error) {
	switch cfg.Email.Provider {
	case "ses":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return services.NewSESEmailSender(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
	case "smtp":
		return services.NewSMTPEmailSender(
			cfg.Email.SMTPHost,
			cfg.Email.SMTPPort,
			cfg.Email.SMTPUsername,
			cfg.Email.SMTPPassword,
			cfg.Email.FromAddress,
			logger,
		), nil
	default:
		logger.Warn("email delivery disabled, messages are written to the log")
		return services.NewLogEmailSender(logger), nil
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
