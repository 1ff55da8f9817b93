package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"labeling-service/internal/assignment"
	"labeling-service/internal/config"
	"labeling-service/internal/handler"
	"labeling-service/internal/middleware"
	"labeling-service/internal/models"
	"labeling-service/internal/repository"
	"labeling-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yml"
	}

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	var logger *zap.Logger
	if *cfg.Log.Development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("Starting Labeling Service...", zap.String("config", configPath))

	if cfg.UsesDevSecret() {
		logger.Warn("auth.jwt_secret is not set, tokens are signed with the development secret")
	}

	// Initialize repository
	store, err := repository.Open(repository.Config{
		Type: cfg.Database.Type,
		Path: cfg.Database.Path,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize repository", zap.Error(err))
	}
	defer store.Close()

	// Initialize services
	distributor := assignment.NewDistributor(assignment.Config{
		Shuffle: *cfg.Assignment.Shuffle,
		Seed:    cfg.Assignment.Seed,
	}, logger)

	annotator := service.NewAnnotator(store, distributor, service.AnnotatorConfig{
		Reasons: cfg.Labels.Reasons,
	}, logger)

	authService := service.NewAuthService(store, service.AuthConfig{
		JWTSecret: []byte(cfg.Auth.JWTSecret),
		TokenTTL:  cfg.TokenTTL(),
		AdminCode: cfg.Auth.AdminCode,
	}, logger)

	defaults := make([]service.DefaultUser, 0, len(cfg.Auth.DefaultUsers))
	for _, u := range cfg.Auth.DefaultUsers {
		role, _ := models.ParseRole(u.Role)
		defaults = append(defaults, service.DefaultUser{
			Username: u.Username,
			Password: u.Password,
			Role:     role,
		})
	}
	seedCtx, seedCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = authService.SeedDefaults(seedCtx, defaults)
	seedCancel()
	if err != nil {
		logger.Fatal("Failed to seed default users", zap.Error(err))
	}

	// Initialize HTTP handler
	apiHandler := handler.NewHandler(annotator, authService, logger)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	router.Use(middleware.CORS())

	var loginLimiter *middleware.KeyedLimiter
	if cfg.Auth.LoginRPS > 0 {
		loginLimiter = middleware.NewKeyedLimiter(cfg.Auth.LoginRPS, cfg.Auth.LoginBurst)
	}

	// Register routes
	apiHandler.RegisterRoutes(router, loginLimiter)

	// Start server
	serverAddr := fmt.Sprintf(":%s", cfg.Server.Port)
	logger.Info("Server starting", zap.String("address", serverAddr))

	// Graceful shutdown
	srv := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Labeling Service is running",
		zap.String("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Type))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
