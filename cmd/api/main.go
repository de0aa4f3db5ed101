package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/escolaplus/escola-api/api/swagger"
	"github.com/escolaplus/escola-api/internal/handler"
	"github.com/escolaplus/escola-api/internal/middleware"
	"github.com/escolaplus/escola-api/internal/models"
	"github.com/escolaplus/escola-api/internal/repository"
	"github.com/escolaplus/escola-api/internal/service"
	"github.com/escolaplus/escola-api/pkg/cache"
	"github.com/escolaplus/escola-api/pkg/config"
	"github.com/escolaplus/escola-api/pkg/database"
	"github.com/escolaplus/escola-api/pkg/document"
	"github.com/escolaplus/escola-api/pkg/jobs"
	"github.com/escolaplus/escola-api/pkg/logger"
	corsmiddleware "github.com/escolaplus/escola-api/pkg/middleware/cors"
	reqidmiddleware "github.com/escolaplus/escola-api/pkg/middleware/requestid"
	"github.com/escolaplus/escola-api/pkg/storage"
)

// @title Escola Plus API
// @version 1.0.0
// @description Enrollment billing and delinquency engine
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, report caching disabled", "error", err)
		redisClient = nil
	}

	store, err := storage.NewLocalStorage(cfg.Storage.ContractsDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare contract storage", "error", err)
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	chargeRepo := repository.NewChargeRepository(db)
	contractRepo := repository.NewContractRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})

	calc := service.NewDelinquencyCalculator(cfg.Billing.MonthlyPenaltyRate, cfg.Billing.DailyInterestBlockDays)
	billingSvc := service.NewBillingService(chargeRepo, studentRepo, calc, cacheRepo, metricsSvc, service.BillingConfig{
		InstallmentCount:      cfg.Billing.InstallmentCount,
		RegistrationDueOffset: cfg.Billing.RegistrationDueOffset,
		ReportCacheTTL:        cfg.Reports.CacheTTL,
	}, validate, logr)

	contractSvc := service.NewContractService(contractRepo, userRepo, store, authSvc, logr)
	studentSvc := service.NewStudentService(studentRepo, userRepo, validate, logr)

	renderer := document.NewContractRenderer()
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, chargeRepo, contractSvc,
		billingSvc, renderer, store, nil, cfg.Billing.InstallmentCount, validate, logr)

	cleanupQueue := jobs.NewQueue("enrollment-cleanup", enrollmentSvc.CleanupHandler(), jobs.QueueConfig{
		Workers: 1,
		Logger:  logr,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cleanupQueue.Start(ctx)
	defer cleanupQueue.Stop()
	enrollmentSvc.SetCleanupQueue(cleanupQueue)

	authHandler := handler.NewAuthHandler(authSvc)
	studentHandler := handler.NewStudentHandler(studentSvc, billingSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	chargeHandler := handler.NewChargeHandler(billingSvc)
	contractHandler := handler.NewContractHandler(contractSvc)
	reportHandler := handler.NewReportHandler(billingSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))

	students := authed.Group("/students")
	{
		students.GET("", middleware.RequireStaff(), studentHandler.List)
		students.POST("", middleware.RequireRoles(models.RoleAdmin), studentHandler.Create)
		students.POST("/import", middleware.RequireRoles(models.RoleAdmin), studentHandler.Import)
		students.GET("/:id", middleware.RequireStaff(), studentHandler.Get)
		students.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), studentHandler.Update)
		students.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), studentHandler.Delete)
		students.GET("/:id/charges", studentHandler.Charges)
	}

	enrollments := authed.Group("/enrollments")
	{
		enrollments.POST("", middleware.RequireRoles(models.RoleAdmin), enrollmentHandler.Create)
		enrollments.GET("/:id", middleware.RequireStaff(), enrollmentHandler.Get)
		enrollments.POST("/:id/plan", middleware.RequireRoles(models.RoleAdmin), enrollmentHandler.GeneratePlan)
		enrollments.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), enrollmentHandler.Cancel)
	}

	charges := authed.Group("/charges")
	{
		charges.GET("", middleware.RequireStaff(), chargeHandler.List)
		charges.POST("", middleware.RequireRoles(models.RoleAdmin), chargeHandler.Create)
		charges.GET("/:id", chargeHandler.Get)
		charges.PUT("/:id/pay", middleware.RequireRoles(models.RoleAdmin), chargeHandler.RegisterPayment)
		charges.PATCH("/:id/status", middleware.RequireRoles(models.RoleAdmin), chargeHandler.UpdateStatus)
		charges.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), chargeHandler.Delete)
	}

	contracts := authed.Group("/contracts")
	{
		contracts.GET("/:id", contractHandler.Get)
		contracts.POST("/:id/sign", contractHandler.Sign)
		contracts.PUT("/:id/validate", middleware.RequireRoles(models.RoleAdmin), contractHandler.Validate)
		contracts.GET("/:id/document", contractHandler.Document)
	}

	reports := authed.Group("/reports")
	{
		reports.GET("/delinquency", middleware.RequireStaff(), reportHandler.Delinquency)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
