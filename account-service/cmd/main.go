package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	accountcmd "github.com/patternvault/backend/account-service/internal/command"
	"github.com/patternvault/backend/account-service/internal/handler"
	accountqry "github.com/patternvault/backend/account-service/internal/query"
	"github.com/patternvault/backend/account-service/internal/repository"
	"github.com/patternvault/backend/shared/config"
	"github.com/patternvault/backend/shared/database"
	"github.com/patternvault/backend/shared/events"
	"github.com/patternvault/backend/shared/logging"
	"github.com/patternvault/backend/shared/middleware"
	"github.com/patternvault/backend/shared/models"
	redisClient "github.com/patternvault/backend/shared/redis"
	"github.com/patternvault/backend/shared/tokens"
)

const userViewTTL = 10 * time.Minute

func main() {
	cfg := config.Load()
	log := logging.New("account-service", cfg.IsProduction())
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database connection (write store)
	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal(log, "failed to connect to database", err)
	}
	defer db.Close()

	if cfg.RunMigrations {
		if err := database.Migrate(ctx, db); err != nil {
			fatal(log, "failed to migrate database", err)
		}
	}

	issuer, err := tokens.NewJWTIssuer(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	if err != nil {
		fatal(log, "invalid token configuration", err)
	}

	// Redis (read model, throttling, event streaming). Optional outside
	// production-like setups.
	var (
		publisher       accountcmd.EventPublisher = events.NopPublisher{}
		viewCache       *redisClient.ViewCache[models.UserView]
		registerLimiter middleware.Limiter = middleware.NewMemoryLimiter(cfg.RegisterRateLimit, cfg.RateLimitWindow)
		loginLimiter    middleware.Limiter = middleware.NewMemoryLimiter(cfg.LoginRateLimit, cfg.RateLimitWindow)
	)
	if cfg.RedisEnabled() {
		redis, err := redisClient.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			fatal(log, "failed to connect to redis", err)
		}
		defer redis.Close()

		publisher = events.NewPublisher(redis.Client, 10000)
		viewCache = redisClient.NewViewCache[models.UserView](redis.Client, userViewTTL, log)
		registerLimiter = middleware.NewRedisLimiter(redis.Client, cfg.RegisterRateLimit, cfg.RateLimitWindow)
		loginLimiter = middleware.NewRedisLimiter(redis.Client, cfg.LoginRateLimit, cfg.RateLimitWindow)
	} else {
		log.Warn(ctx, "redis disabled; using in-process throttling and no view cache")
	}

	// --- CQRS wiring ---
	userRepo := repository.NewUserWriteRepository(db)
	readRepo := repository.NewUserReadRepository(db, viewCache)
	refreshRepo := repository.NewRefreshTokenRepository(db)

	commandSvc := accountcmd.NewAccountCommandService(userRepo, refreshRepo, readRepo, issuer, publisher, log)
	querySvc := accountqry.NewAccountQueryService(readRepo, refreshRepo, issuer)

	accountHandler := handler.NewAccountHandler(commandSvc, querySvc, log)

	// Setup router
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		fatal(log, "invalid trusted proxies", err)
	}
	router.Use(gin.Recovery(), middleware.LoggingMiddleware(log), middleware.CORS(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/register", middleware.Throttle(registerLimiter, "register", log), accountHandler.Register)
	router.POST("/login", middleware.Throttle(loginLimiter, "login", log), accountHandler.Login)
	router.POST("/refresh-token", accountHandler.RefreshToken)
	router.POST("/logout", accountHandler.Logout)
	router.GET("/profile", middleware.AuthMiddleware(issuer), accountHandler.Profile)

	go pruneRefreshTokens(ctx, refreshRepo, log)

	srv := &http.Server{
		Addr:              cfg.Addr("8081"),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info(context.Background(), "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(shutdownCtx, "graceful shutdown failed", "error", err)
		}
	}()

	log.Info(ctx, "account service starting", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal(log, "failed to start server", err)
	}
}

// pruneRefreshTokens deletes expired refresh tokens once an hour.
func pruneRefreshTokens(ctx context.Context, repo *repository.RefreshTokenRepository, log logging.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.DeleteExpired(ctx)
			if err != nil {
				log.Warn(ctx, "failed to prune refresh tokens", "error", err)
				continue
			}
			if n > 0 {
				log.Info(ctx, "pruned expired refresh tokens", "count", n)
			}
		}
	}
}

func fatal(log logging.Logger, msg string, err error) {
	log.Error(context.Background(), msg, "error", err)
	os.Exit(1)
}
