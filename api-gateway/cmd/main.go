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

	"github.com/patternvault/backend/api-gateway/internal/proxy"
	"github.com/patternvault/backend/shared/config"
	"github.com/patternvault/backend/shared/logging"
	"github.com/patternvault/backend/shared/middleware"
	"github.com/patternvault/backend/shared/tokens"
)

func main() {
	cfg := config.Load()
	log := logging.New("api-gateway", cfg.IsProduction())
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	issuer, err := tokens.NewJWTIssuer(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	if err != nil {
		fatal(log, "invalid token configuration", err)
	}

	p, err := proxy.New(60*time.Second, cfg.FrontProxies, log)
	if err != nil {
		fatal(log, "invalid front proxies", err)
	}
	toAccounts := p.To(cfg.AccountServiceURL)
	toPatterns := p.To(cfg.PatternServiceURL)

	// The gateway is the edge: client IPs come from the connection unless a
	// front proxy is configured.
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.FrontProxies); err != nil {
		fatal(log, "invalid trusted proxies", err)
	}
	router.Use(gin.Recovery(), middleware.LoggingMiddleware(log), middleware.CORS(cfg.AllowedOrigins))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "api-gateway"})
	})

	// Account routes (no authentication required)
	router.POST("/register", toAccounts)
	router.POST("/login", toAccounts)
	router.POST("/refresh-token", toAccounts)
	router.POST("/logout", toAccounts)
	router.GET("/profile", middleware.AuthMiddleware(issuer), toAccounts)

	// Pattern routes
	router.Any("/patterns/*path", middleware.AuthMiddleware(issuer), toPatterns)
	router.GET("/media/*path", toPatterns)

	srv := &http.Server{
		Addr:              cfg.Addr("8080"),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      90 * time.Second,
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

	log.Info(ctx, "api gateway starting", "addr", srv.Addr,
		"account_service", cfg.AccountServiceURL, "pattern_service", cfg.PatternServiceURL)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal(log, "failed to start server", err)
	}
}

func fatal(log logging.Logger, msg string, err error) {
	log.Error(context.Background(), msg, "error", err)
	os.Exit(1)
}
