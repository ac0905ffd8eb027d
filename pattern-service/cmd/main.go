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

	patterncmd "github.com/patternvault/backend/pattern-service/internal/command"
	"github.com/patternvault/backend/pattern-service/internal/handler"
	patternqry "github.com/patternvault/backend/pattern-service/internal/query"
	"github.com/patternvault/backend/pattern-service/internal/repository"
	"github.com/patternvault/backend/shared/config"
	"github.com/patternvault/backend/shared/database"
	"github.com/patternvault/backend/shared/events"
	"github.com/patternvault/backend/shared/logging"
	"github.com/patternvault/backend/shared/middleware"
	redisClient "github.com/patternvault/backend/shared/redis"
	"github.com/patternvault/backend/shared/storage"
	"github.com/patternvault/backend/shared/tokens"
)

const reaperGroup = "blob-reaper"

func main() {
	cfg := config.Load()
	log := logging.New("pattern-service", cfg.IsProduction())
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	blobs, err := storage.NewFromConfig(ctx, cfg)
	if err != nil {
		fatal(log, "failed to initialise blob storage", err)
	}

	// --- CQRS wiring ---
	var publisher patterncmd.EventPublisher = events.NopPublisher{}
	var redis *redisClient.Client
	if cfg.RedisEnabled() {
		redis, err = redisClient.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			fatal(log, "failed to connect to redis", err)
		}
		defer redis.Close()
		// Untrimmed: the reaper deletes entries once acked, and trimming
		// could drop deletions that are still pending.
		publisher = events.NewPublisher(redis.Client, 0)
	} else {
		log.Warn(ctx, "redis disabled; blobs of deleted patterns are released inline")
	}

	writeRepo := repository.NewPatternWriteRepository(db)
	readRepo := repository.NewPatternReadRepository(db)
	gate := repository.NewUserGate(db)

	commandSvc := patterncmd.NewPatternCommandService(writeRepo, blobs, publisher, log, cfg.MaxImageBytes)
	querySvc := patternqry.NewPatternQueryService(readRepo)

	patternHandler := handler.NewPatternHandler(commandSvc, querySvc, blobs, log, cfg.MaxImageBytes)

	if redis != nil {
		reaper := events.NewSubscriber(redis.Client, log, events.SubscriberConfig{
			Group:         reaperGroup,
			Consumer:      consumerName(cfg.ReaperConsumer),
			Stream:        events.PatternEventsStream,
			RetryInterval: cfg.ReaperRetryInterval,
			DeleteAcked:   true,
			Handler:       commandSvc.HandlePatternEvent,
		})
		go func() {
			if err := reaper.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error(ctx, "blob reaper stopped", "error", err)
			}
		}()
	}

	// Setup router
	router := gin.New()
	router.MaxMultipartMemory = cfg.MaxImageBytes + (1 << 20)
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		fatal(log, "invalid trusted proxies", err)
	}
	router.Use(gin.Recovery(), middleware.LoggingMiddleware(log), middleware.CORS(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if local, ok := blobs.(*storage.LocalStore); ok {
		handler.MountMedia(router, local)
	}

	patterns := router.Group("/patterns",
		middleware.AuthMiddleware(issuer),
		middleware.RequireActiveUser(gate, log),
	)
	{
		patterns.POST("/", patternHandler.CreatePattern)
		patterns.GET("/list/", patternHandler.ListPatterns)
		patterns.GET("/favorites/", patternHandler.ListFavorites)
		patterns.PATCH("/:id/", patternHandler.UpdatePattern)
		patterns.DELETE("/:id/delete/", patternHandler.DeletePattern)
	}

	srv := &http.Server{
		Addr:              cfg.Addr("8082"),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
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

	log.Info(ctx, "pattern service starting", "addr", srv.Addr, "storage", cfg.StorageDriver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal(log, "failed to start server", err)
	}
}

// consumerName identifies this replica within the reaper group. It must
// survive restarts so the replica picks up its own pending entries.
func consumerName(configured string) string {
	if configured != "" {
		return configured
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "pattern-service"
}

func fatal(log logging.Logger, msg string, err error) {
	log.Error(context.Background(), msg, "error", err)
	os.Exit(1)
}
