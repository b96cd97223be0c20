package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/linguaops/lingua-ops-api/api/swagger"
	"github.com/linguaops/lingua-ops-api/internal/handler"
	"github.com/linguaops/lingua-ops-api/internal/middleware"
	"github.com/linguaops/lingua-ops-api/internal/money"
	"github.com/linguaops/lingua-ops-api/internal/repository"
	"github.com/linguaops/lingua-ops-api/internal/service"
	"github.com/linguaops/lingua-ops-api/pkg/cache"
	"github.com/linguaops/lingua-ops-api/pkg/config"
	"github.com/linguaops/lingua-ops-api/pkg/database"
	"github.com/linguaops/lingua-ops-api/pkg/jobs"
	"github.com/linguaops/lingua-ops-api/pkg/logger"
	corsmiddleware "github.com/linguaops/lingua-ops-api/pkg/middleware/cors"
	reqidmiddleware "github.com/linguaops/lingua-ops-api/pkg/middleware/requestid"
)

// @title LinguaOps API
// @version 1.0.0
// @description Student financial ledger and retention engine
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
	defer db.Close() //nolint:errcheck

	rate, err := decimal.NewFromString(cfg.Ledger.InrPerEur)
	if err != nil {
		logr.Sugar().Fatalw("invalid LEDGER_INR_PER_EUR", "value", cfg.Ledger.InrPerEur, "error", err)
	}
	converter, err := money.NewConverter(rate)
	if err != nil {
		logr.Sugar().Fatalw("invalid exchange rate", "error", err)
	}

	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, caching disabled", zap.Error(err))
	} else {
		defer redisClient.Close() //nolint:errcheck
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Dashboard.CacheTTL, logr, true)
	}

	studentRepo := repository.NewStudentRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	refundRepo := repository.NewRefundRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	outreachRepo := repository.NewOutreachRepository(db)
	connectionRepo := repository.NewConnectionRepository(db)

	ledgerSvc := service.NewLedgerService(service.LedgerServiceParams{
		Tx:               db,
		Students:         studentRepo,
		Payments:         paymentRepo,
		Refunds:          refundRepo,
		Converter:        converter,
		Cache:            cacheSvc,
		Metrics:          metricsSvc,
		Logger:           logr,
		OverdueAfterDays: cfg.Ledger.OverdueAfterDays,
	})
	studentSvc := service.NewStudentService(service.StudentServiceParams{
		Tx:        db,
		Students:  studentRepo,
		Payments:  paymentRepo,
		History:   paymentRepo,
		Ledger:    ledgerSvc,
		Converter: converter,
		Cache:     cacheSvc,
		Logger:    logr,
	})
	attendanceSvc := service.NewAttendanceService(service.AttendanceServiceParams{
		Tx:         db,
		Attendance: attendanceRepo,
		Students:   studentRepo,
		Cache:      cacheSvc,
		Logger:     logr,
	})
	outreachSvc := service.NewOutreachService(service.OutreachServiceParams{
		Tx:               db,
		Calls:            outreachRepo,
		Students:         studentRepo,
		Cache:            cacheSvc,
		Metrics:          metricsSvc,
		Logger:           logr,
		StaleContactDays: cfg.Outreach.StaleContactDays,
		CallListTTL:      cfg.Outreach.CallListCacheTTL,
	})
	connectionSvc := service.NewConnectionService(service.ConnectionServiceParams{
		Tx:              db,
		Connections:     connectionRepo,
		Students:        studentRepo,
		Metrics:         metricsSvc,
		Logger:          logr,
		SuggestionLimit: cfg.Connections.SuggestionLimit,
	})
	dashboardSvc := service.NewDashboardService(service.DashboardServiceParams{
		Students:    studentRepo,
		Converter:   converter,
		Cache:       cacheSvc,
		Logger:      logr,
		CacheTTL:    cfg.Dashboard.CacheTTL,
		AtRiskLimit: cfg.Dashboard.AtRiskLimit,
	})

	studentHandler := handler.NewStudentHandler(studentSvc)
	paymentHandler := handler.NewPaymentHandler(ledgerSvc)
	attendanceHandler := handler.NewAttendanceHandler(attendanceSvc)
	outreachHandler := handler.NewOutreachHandler(outreachSvc)
	connectionHandler := handler.NewConnectionHandler(connectionSvc)
	dashboardHandler := handler.NewDashboardHandler(dashboardSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(cfg.JWT.Secret))
	{
		api.GET("/students", studentHandler.List)
		api.POST("/students", studentHandler.Enroll)
		api.GET("/students/:id", studentHandler.Get)
		api.PUT("/students/:id", studentHandler.Update)
		api.DELETE("/students/:id", studentHandler.Delete)
		api.POST("/students/:id/deactivate", studentHandler.Deactivate)

		api.GET("/students/:id/ledger", paymentHandler.Ledger)
		api.POST("/students/:id/recompute", paymentHandler.Recompute)
		api.POST("/payments", paymentHandler.Record)
		api.PUT("/payments/:id", paymentHandler.Update)
		api.DELETE("/payments/:id", paymentHandler.Delete)
		api.POST("/refunds", paymentHandler.Refund)

		api.GET("/attendance", attendanceHandler.List)
		api.POST("/attendance", attendanceHandler.Mark)
		api.POST("/attendance/bulk", attendanceHandler.BulkMark)
		api.DELETE("/attendance/:id", attendanceHandler.Delete)

		api.GET("/outreach/call-list", outreachHandler.CallList)
		api.POST("/outreach/generate", outreachHandler.Generate)
		api.GET("/outreach/calls", outreachHandler.List)
		api.POST("/outreach/calls/:id/snooze", outreachHandler.Snooze)
		api.POST("/outreach/calls/:id/resume", outreachHandler.Resume)
		api.POST("/outreach/calls/:id/complete", outreachHandler.Complete)

		api.GET("/students/:id/connections", connectionHandler.List)
		api.POST("/students/:id/connections", connectionHandler.Create)
		api.GET("/students/:id/connections/suggestions", connectionHandler.Suggest)

		if cfg.Dashboard.Enabled {
			api.GET("/dashboard/retention", dashboardHandler.Overview)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Outreach.Enabled {
		sweep := jobs.NewQueue("outreach-sweep", func(ctx context.Context, job jobs.Job) error {
			result, err := outreachSvc.GenerateCalls(ctx)
			if err != nil {
				return err
			}
			logr.Info("outreach sweep finished",
				zap.Int("created", result.Created),
				zap.Int("skipped", result.Skipped),
			)
			return nil
		}, jobs.QueueConfig{Workers: cfg.Outreach.SweepWorkers, Logger: logr})
		sweep.Start(ctx)
		defer sweep.Stop()

		go func() {
			ticker := time.NewTicker(cfg.Outreach.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case tick := <-ticker.C:
					if err := sweep.Enqueue(jobs.Job{Type: "sweep", Enqueued: tick}); err != nil {
						logr.Warn("sweep enqueue failed", zap.Error(err))
					}
				}
			}
		}()
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("shutdown incomplete", zap.Error(err))
	}
}
