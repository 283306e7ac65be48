package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/openshelf/libms-api/api/swagger"
	"github.com/openshelf/libms-api/internal/handler"
	"github.com/openshelf/libms-api/internal/middleware"
	"github.com/openshelf/libms-api/internal/models"
	"github.com/openshelf/libms-api/internal/repository"
	"github.com/openshelf/libms-api/internal/service"
	"github.com/openshelf/libms-api/pkg/cache"
	"github.com/openshelf/libms-api/pkg/config"
	"github.com/openshelf/libms-api/pkg/database"
	"github.com/openshelf/libms-api/pkg/logger"
	corsmiddleware "github.com/openshelf/libms-api/pkg/middleware/cors"
	reqidmiddleware "github.com/openshelf/libms-api/pkg/middleware/requestid"
	"github.com/openshelf/libms-api/pkg/storage"
)

// @title OpenShelf Library API
// @version 1.0.0
// @description Library management service: authentication, circulation and audit trail
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	validate := validator.New()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	attemptRepo := repository.NewLoginAttemptRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	sessionRepo := repository.NewSessionRepository(redisClient, cfg.Session.MaxLifetime)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	bookRepo := repository.NewBookRepository(db)
	borrowingRepo := repository.NewBorrowingRepository(db)
	reservationRepo := repository.NewReservationRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	reportRepo := repository.NewReportRepository(db)

	// Services.
	metricsSvc := service.NewMetricsService()
	guard := service.NewSessionGuard(sessionRepo, logr, service.SessionGuardConfig{
		IdleTimeout: cfg.Session.IdleTimeout,
	})
	activitySvc := service.NewActivityService(activityRepo, metricsSvc, logr, cfg.Activity.Retention)
	authSvc := service.NewAuthService(userRepo, attemptRepo, activitySvc, guard, metricsSvc, validate, logr, service.AuthConfig{
		LockoutWindow:      cfg.Lockout.Window,
		LockoutMaxFailures: cfg.Lockout.MaxFailures,
		LockoutRetention:   cfg.Lockout.Retention,
		SessionIdleTimeout: cfg.Session.IdleTimeout,
		ResetTokenSecret:   cfg.PasswordReset.Secret,
		ResetTokenTTL:      cfg.PasswordReset.TokenTTL,
	})
	userSvc := service.NewUserService(userRepo, activitySvc, validate, logr)
	bookSvc := service.NewBookService(bookRepo, activitySvc, validate, logr)
	notificationSvc := service.NewNotificationService(notificationRepo, logr)
	settingsSvc := service.NewSettingsService(settingsRepo, activitySvc, logr, cfg.Borrowing)
	borrowingSvc := service.NewBorrowingService(borrowingRepo, reservationRepo, notificationSvc, settingsSvc, activitySvc, validate, logr)
	reservationSvc := service.NewReservationService(reservationRepo, bookRepo, activitySvc, validate, logr)
	dashboardSvc := service.NewDashboardService(bookRepo, borrowingRepo, userRepo, activityRepo, cacheRepo, metricsSvc, cfg.Dashboard.CacheTTL, logr)

	store, err := storage.NewArchive(cfg.Reports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init report archive", "error", err)
	}
	if removed, err := store.Sweep(cfg.Reports.Retention); err != nil {
		logr.Sugar().Warnw("report archive sweep failed", "error", err)
	} else if removed > 0 {
		logr.Sugar().Infow("swept expired report files", "removed", removed)
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
	reportSvc := service.NewReportService(reportRepo, borrowingRepo, activityRepo, bookRepo, activitySvc, store, signer, cfg.Reports.WorkerConcurrency, cfg.Reports.WorkerRetries, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := settingsSvc.Seed(ctx); err != nil {
		logr.Sugar().Fatalw("failed to seed settings", "error", err)
	}

	reportSvc.Start(ctx)
	defer reportSvc.Stop()

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	bookHandler := handler.NewBookHandler(bookSvc)
	borrowingHandler := handler.NewBorrowingHandler(borrowingSvc)
	reservationHandler := handler.NewReservationHandler(reservationSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	activityHandler := handler.NewActivityHandler(activitySvc)
	settingsHandler := handler.NewSettingsHandler(settingsSvc)
	dashboardHandler := handler.NewDashboardHandler(dashboardSvc)
	reportHandler := handler.NewReportHandler(reportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/forgot-password", authHandler.ForgotPassword)
	auth.POST("/reset-password", authHandler.ResetPassword)

	// Signed token carries its own authorization.
	api.GET("/reports/download", reportHandler.Download)

	protected := api.Group("", middleware.Session(guard, metricsSvc))

	protected.POST("/auth/logout", authHandler.Logout)
	protected.GET("/auth/me", authHandler.Me)
	protected.POST("/auth/change-password", authHandler.ChangePassword)

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleLibrarian)
	adminOnly := middleware.RequireRoles(models.RoleAdmin)

	protected.POST("/auth/purge-attempts", adminOnly, authHandler.PurgeAttempts)

	books := protected.Group("/books")
	books.GET("", bookHandler.List)
	books.GET("/:id", bookHandler.Get)
	books.POST("", staff, bookHandler.Create)
	books.PUT("/:id", staff, bookHandler.Update)
	books.DELETE("/:id", staff, bookHandler.Delete)

	users := protected.Group("/users")
	users.GET("", staff, userHandler.List)
	users.GET("/:id", middleware.RBAC("ADMIN", "LIBRARIAN", "SELF"), userHandler.Get)
	users.POST("", adminOnly, userHandler.Create)
	users.PUT("/:id", adminOnly, userHandler.Update)
	users.DELETE("/:id", adminOnly, userHandler.Delete)

	borrowings := protected.Group("/borrowings")
	borrowings.GET("", borrowingHandler.List)
	borrowings.POST("", staff, borrowingHandler.Borrow)
	borrowings.POST("/:id/return", staff, borrowingHandler.Return)
	borrowings.POST("/mark-overdue", staff, borrowingHandler.MarkOverdue)

	reservations := protected.Group("/reservations")
	reservations.GET("", reservationHandler.List)
	reservations.POST("", reservationHandler.Reserve)
	reservations.DELETE("/:id", reservationHandler.Cancel)
	reservations.POST("/:id/fulfill", staff, reservationHandler.Fulfill)

	notifications := protected.Group("/notifications")
	notifications.GET("", notificationHandler.List)
	notifications.POST("/:id/read", notificationHandler.MarkRead)
	notifications.POST("/read-all", notificationHandler.MarkAllRead)

	activity := protected.Group("/activity", adminOnly)
	activity.GET("", activityHandler.List)
	activity.POST("/purge", activityHandler.Purge)

	settings := protected.Group("/settings")
	settings.GET("", staff, settingsHandler.List)
	settings.PUT("/:key", adminOnly, settingsHandler.Update)

	protected.GET("/dashboard", staff, dashboardHandler.Summary)

	reports := protected.Group("/reports", staff)
	reports.POST("", reportHandler.Create)
	reports.GET("", reportHandler.List)
	reports.GET("/:id", reportHandler.Status)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
