package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/prodetect/aml-engine/configs"
	"github.com/prodetect/aml-engine/internal/audit"
	"github.com/prodetect/aml-engine/internal/auth"
	"github.com/prodetect/aml-engine/internal/cases"
	"github.com/prodetect/aml-engine/internal/customers"
	"github.com/prodetect/aml-engine/internal/forensics"
	"github.com/prodetect/aml-engine/internal/models"
	"github.com/prodetect/aml-engine/internal/monitoring"
	"github.com/prodetect/aml-engine/internal/queue"
	"github.com/prodetect/aml-engine/internal/reporting"
	"github.com/prodetect/aml-engine/internal/repositories"
	"github.com/prodetect/aml-engine/internal/rules"
	"github.com/prodetect/aml-engine/internal/services"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Load configuration
	cfg := configs.Load()

	// Setup logging
	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("Starting AML Engine API Server")

	// Initialize database
	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Initialize Redis
	streamClient, err := queue.NewRedisStreamClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Stream")
	}
	defer streamClient.Close()

	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Cache")
	}
	defer cacheClient.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	customerRepo := repositories.NewCustomerRepository(db)
	txRepo := repositories.NewTransactionRepository(db)
	ruleRepo := repositories.NewRuleRepository(db)
	alertRepo := repositories.NewAlertRepository(db)
	caseRepo := repositories.NewCaseRepository(db)
	reportRepo := repositories.NewReportRepository(db)
	auditRepo := repositories.NewAuditRepository(db)
	monitoringStore := repositories.NewMonitoringStore(db, txRepo, alertRepo, ruleRepo)

	// Initialize services
	recorder := audit.NewRecorder(auditRepo, cfg.Compliance.AuditRetentionYears)
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiration)
	authService := services.NewAuthService(userRepo, jwtManager, recorder)

	backtester := rules.NewBacktester(txRepo, customerRepo)
	registry := rules.NewRegistry(ruleRepo, backtester, alertRepo, recorder)

	snapshot := monitoring.NewSnapshotProvider(ruleRepo, cacheClient)
	engine := monitoring.NewEngine(customerRepo, txRepo, snapshot, monitoringStore, cfg.Compliance)

	customerService := customers.NewService(customerRepo, txRepo, alertRepo, customers.NewStubScreener(), recorder)
	caseService := cases.NewService(caseRepo, alertRepo, recorder, cfg.Compliance.AuditRetentionYears)
	reportService := reporting.NewService(reportRepo, caseRepo, customerRepo, txRepo, recorder,
		cfg.Compliance.InstitutionName, cfg.Compliance.AuditRetentionYears)
	forensicsService := forensics.NewService(auditRepo, recorder)

	// Seed the CBN standard rule set (no-op when already present)
	if err := registry.SeedStandardRules(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Failed to seed standard rules")
	}

	// Setup Gin router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())

	// Rate limiting: 100 requests per minute per IP
	rateLimiter := NewRateLimiter(100, time.Minute)
	router.Use(rateLimitMiddleware(rateLimiter))

	// Setup routes
	deps := &dependencies{
		jwtManager:       jwtManager,
		authService:      authService,
		registry:         registry,
		snapshot:         snapshot,
		engine:           engine,
		customerService:  customerService,
		caseService:      caseService,
		reportService:    reportService,
		forensicsService: forensicsService,
		streamClient:     streamClient,
		cacheClient:      cacheClient,
		txRepo:           txRepo,
		alertRepo:        alertRepo,
	}
	setupRoutes(router, deps)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

type dependencies struct {
	jwtManager       *auth.JWTManager
	authService      *services.AuthService
	registry         *rules.Registry
	snapshot         *monitoring.SnapshotProvider
	engine           *monitoring.Engine
	customerService  *customers.Service
	caseService      *cases.Service
	reportService    *reporting.Service
	forensicsService *forensics.Service
	streamClient     *queue.RedisStreamClient
	cacheClient      *queue.CacheClient
	txRepo           *repositories.TransactionRepository
	alertRepo        *repositories.AlertRepository
}

func setupRoutes(router *gin.Engine, deps *dependencies) {
	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// API v1 routes
	v1 := router.Group("/api/v1")

	// Auth routes (public)
	authRoutes := v1.Group("/auth")
	{
		authRoutes.POST("/register", registerHandler(deps.authService))
		authRoutes.POST("/login", loginHandler(deps.authService))
		authRoutes.POST("/refresh", auth.AuthMiddleware(deps.jwtManager), refreshTokenHandler(deps.authService))
	}

	// Protected routes
	protected := v1.Group("")
	protected.Use(auth.AuthMiddleware(deps.jwtManager))

	// Rule routes
	ruleRoutes := protected.Group("/rules")
	{
		ruleRoutes.GET("", listRulesHandler(deps.registry))
		ruleRoutes.GET("/:id", getRuleHandler(deps.registry))
		ruleRoutes.GET("/:id/performance", rulePerformanceHandler(deps.registry))

		lifecycle := ruleRoutes.Group("")
		lifecycle.Use(auth.RoleMiddleware("admin", "compliance_officer"))
		{
			lifecycle.POST("", createRuleHandler(deps.registry))
			lifecycle.POST("/:id/test", testRuleHandler(deps.registry))
			lifecycle.POST("/:id/activate", activateRuleHandler(deps.registry, deps.snapshot))
			lifecycle.POST("/:id/deactivate", deactivateRuleHandler(deps.registry, deps.snapshot))
			lifecycle.PUT("/:id/thresholds", updateThresholdsHandler(deps.registry, deps.snapshot))
		}
	}

	// Customer routes
	customerRoutes := protected.Group("/customers")
	{
		customerRoutes.POST("", createCustomerHandler(deps.customerService))
		customerRoutes.GET("/high-risk", highRiskCustomersHandler(deps.customerService))
		customerRoutes.GET("/:id", getCustomerHandler(deps.customerService))
		customerRoutes.POST("/:id/reassess", reassessCustomerHandler(deps.customerService))
		customerRoutes.POST("/:id/screen", screenCustomerHandler(deps.customerService))
	}

	// Transaction routes
	txRoutes := protected.Group("/transactions")
	{
		txRoutes.POST("", ingestTransactionHandler(deps.streamClient))
		txRoutes.POST("/batch", ingestBatchHandler(deps.streamClient))
		txRoutes.POST("/process", processTransactionHandler(deps.engine))
		txRoutes.GET("/suspicious", suspiciousTransactionsHandler(deps.txRepo))
		txRoutes.GET("/:id", getTransactionHandler(deps.txRepo))
		txRoutes.GET("/customer/:customer_id", customerTransactionsHandler(deps.txRepo))
	}

	// Alert routes
	alertRoutes := protected.Group("/alerts")
	{
		alertRoutes.GET("", openAlertsHandler(deps.alertRepo))
		alertRoutes.GET("/:id", getAlertHandler(deps.alertRepo))
		alertRoutes.GET("/case/:case_id", caseAlertsHandler(deps.alertRepo))
	}

	// Case routes
	caseRoutes := protected.Group("/cases")
	{
		caseRoutes.POST("", createCaseHandler(deps.caseService))
		caseRoutes.GET("", assignedCasesHandler(deps.caseService))
		caseRoutes.GET("/:id", getCaseHandler(deps.caseService))
		caseRoutes.POST("/:id/assign", assignCaseHandler(deps.caseService))
		caseRoutes.POST("/:id/status", caseStatusHandler(deps.caseService))
		caseRoutes.POST("/:id/evidence", caseEvidenceHandler(deps.caseService))
		caseRoutes.POST("/:id/interviews", caseInterviewHandler(deps.caseService))
		caseRoutes.POST("/:id/close", closeCaseHandler(deps.caseService))
		caseRoutes.POST("/overdue-scan", auth.RoleMiddleware("admin", "compliance_officer"), overdueScanHandler(deps.caseService))
	}

	// Report routes
	reportRoutes := protected.Group("/reports")
	{
		reportRoutes.POST("/str", createSTRHandler(deps.reportService))
		reportRoutes.POST("/ctr", createCTRHandler(deps.reportService))
		reportRoutes.GET("/statistics", reportStatisticsHandler(deps.reportService))
		reportRoutes.GET("/pending", pendingReportsHandler(deps.reportService))
		reportRoutes.GET("/filed", filedReportsHandler(deps.reportService))
		reportRoutes.GET("/:id", getReportHandler(deps.reportService))

		filing := reportRoutes.Group("")
		filing.Use(auth.RoleMiddleware("admin", "compliance_officer"))
		{
			filing.POST("/:id/review", reviewReportHandler(deps.reportService))
			filing.POST("/:id/file", fileReportHandler(deps.reportService))
		}
	}

	// Monitoring dashboard routes (admin and compliance only)
	monitoringRoutes := protected.Group("/monitoring")
	monitoringRoutes.Use(auth.RoleMiddleware("admin", "compliance_officer"))
	{
		monitoringRoutes.GET("/queue", queueStatsHandler(deps.streamClient))
		monitoringRoutes.GET("/recent-alerts", recentAlertsHandler(deps.cacheClient))
		monitoringRoutes.GET("/pipeline-stats", pipelineStatsHandler(deps.cacheClient))
	}

	// Audit / forensics routes (admin and compliance only)
	auditRoutes := protected.Group("/audit")
	auditRoutes.Use(auth.RoleMiddleware("admin", "compliance_officer"))
	{
		auditRoutes.GET("/search", auditSearchHandler(deps.forensicsService))
		auditRoutes.GET("/trail/:resource_type/:resource_id", complianceTrailHandler(deps.forensicsService))
		auditRoutes.GET("/users/:email/activity", userActivityHandler(deps.forensicsService))
		auditRoutes.GET("/system-report", systemReportHandler(deps.forensicsService))
		auditRoutes.GET("/suspicious-patterns", suspiciousPatternsHandler(deps.forensicsService))
		auditRoutes.GET("/export", auditExportHandler(deps.forensicsService))
	}
}

// Middleware

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = fmt.Sprintf("%d", time.Now().UnixNano())
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency).
			Str("request_id", c.GetString("request_id")).
			Str("client_ip", c.ClientIP()).
			Msg("Request completed")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RateLimiter implements a simple in-memory rate limiter using token bucket algorithm
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // requests per window
	window   time.Duration // time window
}

type visitor struct {
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
	}
	// Clean up old visitors periodically
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > rl.window*2 {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	now := time.Now()

	if !exists {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastSeen: now}
		return true
	}

	// Refill tokens based on time elapsed
	elapsed := now.Sub(v.lastSeen)
	refill := int(elapsed / (rl.window / time.Duration(rl.rate)))
	v.tokens += refill
	if v.tokens > rl.rate {
		v.tokens = rl.rate
	}
	v.lastSeen = now

	if v.tokens > 0 {
		v.tokens--
		return true
	}

	return false
}

func rateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.Allow(ip) {
			c.Header("Retry-After", "60")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": 60,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Auth handlers

func registerHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := authService.Register(c.Request.Context(), &req)
		if err != nil {
			status := http.StatusInternalServerError
			if err == services.ErrWeakPassword || errors.Is(err, repositories.ErrUserAlreadyExists) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, resp)
	}
}

func loginHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := authService.Login(c.Request.Context(), &req, requestMeta(c))
		if err != nil {
			status := http.StatusInternalServerError
			if err == services.ErrInvalidCredentials {
				status = http.StatusUnauthorized
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func refreshTokenHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if len(token) > 7 {
			token = token[7:] // Remove "Bearer "
		}

		resp, err := authService.RefreshToken(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

// Rule handlers

func createRuleHandler(registry *rules.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var rule models.Rule
		if err := c.ShouldBindJSON(&rule); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := registry.Create(c.Request.Context(), actorFromContext(c), &rule); err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, rule)
	}
}

func listRulesHandler(registry *rules.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := c.Query("status")
		ruleType := c.Query("type")
		limit := getIntParam(c, "limit", 100)

		result, err := registry.List(c.Request.Context(), status, ruleType, limit)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"rules": result})
	}
}

func getRuleHandler(registry *rules.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUUID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
			return
		}

		rule, err := registry.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, rule)
	}
}

func testRuleHandler(registry *rules.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUUID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
			return
		}

		var req struct {
			PeriodDays int `json:"period_days"`
		}
		if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.PeriodDays <= 0 {
			req.PeriodDays = 30
		}

		result, err := registry.Test(c.Request.Context(), actorFromContext(c), id, req.PeriodDays)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

func activateRuleHandler(registry *rules.Registry, snapshot *monitoring.SnapshotProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUUID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
			return
		}

		rule, err := registry.Activate(c.Request.Context(), actorFromContext(c), id)
		if err != nil {
			respondError(c, err)
			return
		}

		snapshot.Invalidate(c.Request.Context())
		c.JSON(http.StatusOK, rule)
	}
}

func deactivateRuleHandler(registry *rules.Registry, snapshot *monitoring.SnapshotProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUUID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
			return
		}

		var req struct {
			Reason string `json:"reason"`
		}
		if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		rule, err := registry.Deactivate(c.Request.Context(), actorFromContext(c), id, req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}

		snapshot.Invalidate(c.Request.Context())
		c.JSON(http.StatusOK, rule)
	}
}

func updateThresholdsHandler(registry *rules.Registry, snapshot *monitoring.SnapshotProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUUID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
			return
		}

		var req struct {
			Thresholds models.FloatMap `json:"thresholds" binding:"required"`
			Reason     string          `json:"reason"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		rule, err := registry.UpdateThresholds(c.Request.Context(), actorFromContext(c), id, req.Thresholds, req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}

		snapshot.Invalidate(c.Request.Context())
		c.JSON(http.StatusOK, rule)
	}
}

func rulePerformanceHandler(registry *rules.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUUID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
			return
		}

		days := getIntParam(c, "days", 30)
		report, err := registry.Performance(c.Request.Context(), actorFromContext(c), id, days)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, report)
	}
}

// Customer handlers

func createCustomerHandler(svc *customers.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var customer models.Customer
		if err := c.ShouldBindJSON(&customer); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := svc.Create(c.Request.Context(), actorFromContext(c), &customer); err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, customer)
	}
}

func getCustomerHandler(svc *customers.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUUID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer id"})
			return
		}

		customer, err := svc.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, customer)
	}
}

func highRiskCustomersHandler(svc *customers.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := getIntParam(c, "limit", 50)

		result, err := svc.GetHighRisk(c.Request.Context(), limit)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"customers": result})
	}
}

func reassessCustomerHandler(svc *customers.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUUID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer id"})
			return
		}

		customer, err := svc.ReassessRisk(c.Request.Context(), actorFromContext(c), id)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, customer)
	}
}

func screenCustomerHandler(svc *customers.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUUID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer id"})
			return
		}

		result, err := svc.Screen(c.Request.Context(), actorFromContext(c), id)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

// Transaction handlers

func ingestTransactionHandler(streamClient *queue.RedisStreamClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		var event models.TransactionEvent
		if err := c.ShouldBindJSON(&event); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if event.CustomerID == "" || event.Amount <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "customer_id and a positive amount are required"})
			return
		}
		if event.TransactionDate.IsZero() {
			event.TransactionDate = time.Now().UTC()
		}

		msgID, err := streamClient.Publish(c.Request.Context(), &event)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"message_id": msgID,
			"status":     "queued",
		})
	}
}

func ingestBatchHandler(streamClient *queue.RedisStreamClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Events []*models.TransactionEvent `json:"events" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(req.Events) == 0 || len(req.Events) > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "between 1 and 500 events per batch"})
			return
		}

		now := time.Now().UTC()
		for i, event := range req.Events {
			if event.CustomerID == "" || event.Amount <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": fmt.Sprintf("event %d: customer_id and a positive amount are required", i),
				})
				return
			}
			if event.TransactionDate.IsZero() {
				event.TransactionDate = now
			}
		}

		msgIDs, err := streamClient.PublishBatch(c.Request.Context(), req.Events)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"message_ids": msgIDs,
			"queued":      len(msgIDs),
		})
	}
}

func processTransactionHandler(engine *monitoring.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var event models.TransactionEvent
		if err := c.ShouldBindJSON(&event); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if event.TransactionDate.IsZero() {
			event.TransactionDate = time.Now().UTC()
		}

		txn, alerts, err := engine.ProcessTransaction(c.Request.Context(), actorFromContext(c), &event)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"transaction": txn,
			"alerts":      alerts,
		})
	}
}

func getTransactionHandler(txRepo *repositories.TransactionRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Param("id")

		var txn *models.Transaction
		var err error
		if id, parseErr := parseUUID(raw); parseErr == nil {
			txn, err = txRepo.GetByID(c.Request.Context(), id)
		} else {
			txn, err = txRepo.GetByReference(c.Request.Context(), raw)
		}
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, txn)
	}
}

func suspiciousTransactionsHandler(txRepo *repositories.TransactionRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := getIntParam(c, "days", 7)
		limit := getIntParam(c, "limit", 100)
		since := time.Now().UTC().AddDate(0, 0, -days)

		result, err := txRepo.GetSuspicious(c.Request.Context(), since, limit)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"transactions": result})
	}
}

func customerTransactionsHandler(txRepo *repositories.TransactionRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUUID(c.Param("customer_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer id"})
			return
		}

		from := parseDateParam(c, "from")
		to := parseDateParam(c, "to")
		limit := getIntParam(c, "limit", 100)

		result, err := txRepo.GetByCustomer(c.Request.Context(), id, from, to, limit)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"transactions": result})
	}
}

// Alert handlers

func openAlertsHandler(alertRepo *repositories.AlertRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := getIntParam(c, "limit", 100)

		result, err := alertRepo.ListOpen(c.Request.Context(), limit)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"alerts": result})
	}
}

func getAlertHandler(alertRepo *repositories.AlertRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUUID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
			return
		}

		alert, err := alertRepo.GetByID(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, alert)
	}
}

func caseAlertsHandler(alertRepo *repositories.AlertRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		caseID, err := parseUUID(c.Param("case_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid case id"})
			return
		}

		result, err := alertRepo.ListByCase(c.Request.Context(), caseID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"alerts": result})
	}
}

// Case handlers

func createCaseHandler(svc *cases.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			AlertIDs    []string `json:"alert_ids" binding:"required"`
			CaseType    string   `json:"case_type"`
			Title       string   `json:"title" binding:"required"`
			Description string   `json:"description"`
			Priority    int      `json:"priority"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		alertIDs := make([]uuid.UUID, 0, len(req.AlertIDs))
		for _, raw := range req.AlertIDs {
			id, err := parseUUID(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id: " + raw})
				return
			}
			alertIDs = append(alertIDs, id)
		}

		kase, err := svc.CreateFromAlerts(c.Request.Context(), actorFromContext(c),
			alertIDs, req.CaseType, req.Title, req.Description, req.Priority)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, kase)
	}
}

func getCaseHandler(svc *cases.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUUID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid case id"})
			return
		}

		kase, err := svc.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, kase)
	}
}

func assignedCasesHandler(svc *cases.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		assignee := c.Query("assignee")
		if assignee == "" {
			assignee = c.GetString(auth.UserEmailKey)
		}
		status := c.Query("status")
		limit := getIntParam(c, "limit", 50)

		result, err := svc.GetAssigned(c.Request.Context(), assignee, status, limit)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"cases": result})
	}
}

func assignCaseHandler(svc *cases.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUUID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid case id"})
			return
		}

		var req struct {
			Assignee string `json:"assignee" binding:"required"`
			Notes    string `json:"notes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		kase, err := svc.Assign(c.Request.Context(), actorFromContext(c), id, req.Assignee, req.Notes)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, kase)
	}
}

func caseStatusHandler(svc *cases.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUUID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid case id"})
			return
		}

		var req struct {
			Status string `json:"status" binding:"required"`
			Notes  string `json:"notes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		kase, err := svc.UpdateStatus(c.Request.Context(), actorFromContext(c), id, req.Status, req.Notes)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, kase)
	}
}

func caseEvidenceHandler(svc *cases.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUUID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid case id"})
			return
		}

		var req struct {
			Key      string                 `json:"key" binding:"required"`
			Evidence map[string]interface{} `json:"evidence" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		kase, err := svc.AddEvidence(c.Request.Context(), actorFromContext(c), id, req.Key, req.Evidence)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, kase)
	}
}

func caseInterviewHandler(svc *cases.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUUID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid case id"})
			return
		}

		var req struct {
			Interview map[string]interface{} `json:"interview" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		kase, err := svc.ConductInterview(c.Request.Context(), actorFromContext(c), id, req.Interview)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, kase)
	}
}

func closeCaseHandler(svc *cases.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUUID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid case id"})
			return
		}

		var req struct {
			Reason   string   `json:"reason" binding:"required"`
			Notes    string   `json:"notes"`
			Decision string   `json:"decision"`
			Actions  []string `json:"actions"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		kase, err := svc.Close(c.Request.Context(), actorFromContext(c), id, req.Reason, req.Notes, req.Decision, req.Actions)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, kase)
	}
}

func overdueScanHandler(svc *cases.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		breached, err := svc.OverdueScan(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"breached": breached})
	}
}

// Report handlers

func createSTRHandler(svc *reporting.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			CaseID              string                   `json:"case_id" binding:"required"`
			Narrative           string                   `json:"narrative" binding:"required"`
			ActivityType        string                   `json:"activity_type"`
			ActivityDescription string                   `json:"activity_description"`
			Timeline            []map[string]interface{} `json:"timeline"`
			PeriodFrom          *time.Time               `json:"period_from"`
			PeriodTo            *time.Time               `json:"period_to"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		caseID, err := parseUUID(req.CaseID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid case id"})
			return
		}

		report, err := svc.CreateSTR(c.Request.Context(), actorFromContext(c), caseID,
			req.Narrative, req.ActivityType, req.ActivityDescription, req.Timeline, req.PeriodFrom, req.PeriodTo)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, report)
	}
}

func createCTRHandler(svc *reporting.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			CustomerID     string     `json:"customer_id" binding:"required"`
			TransactionIDs []string   `json:"transaction_ids"`
			PeriodFrom     *time.Time `json:"period_from"`
			PeriodTo       *time.Time `json:"period_to"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		customerID, err := parseUUID(req.CustomerID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer id"})
			return
		}

		txIDs := make([]uuid.UUID, 0, len(req.TransactionIDs))
		for _, raw := range req.TransactionIDs {
			id, err := parseUUID(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction id: " + raw})
				return
			}
			txIDs = append(txIDs, id)
		}

		report, err := svc.CreateCTR(c.Request.Context(), actorFromContext(c), customerID, txIDs, req.PeriodFrom, req.PeriodTo)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, report)
	}
}

func getReportHandler(svc *reporting.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUUID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report id"})
			return
		}

		report, err := svc.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, report)
	}
}

func reviewReportHandler(svc *reporting.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUUID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report id"})
			return
		}

		var req struct {
			Notes    string `json:"notes"`
			Approved bool   `json:"approved"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		report, err := svc.Review(c.Request.Context(), actorFromContext(c), id, req.Notes, req.Approved)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, report)
	}
}

func fileReportHandler(svc *reporting.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUUID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report id"})
			return
		}

		var req struct {
			Method string `json:"method"`
		}
		if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Method == "" {
			req.Method = "electronic"
		}

		report, err := svc.File(c.Request.Context(), actorFromContext(c), id, req.Method)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, report)
	}
}

func reportStatisticsHandler(svc *reporting.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := getIntParam(c, "days", 30)
		to := time.Now().UTC()
		from := to.AddDate(0, 0, -days)

		stats, err := svc.Statistics(c.Request.Context(), from, to)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, stats)
	}
}

func pendingReportsHandler(svc *reporting.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		reportType := c.Query("type")
		limit := getIntParam(c, "limit", 100)

		result, err := svc.Pending(c.Request.Context(), reportType, limit)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"reports": result})
	}
}

func filedReportsHandler(svc *reporting.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := getIntParam(c, "days", 30)
		limit := getIntParam(c, "limit", 100)
		since := time.Now().UTC().AddDate(0, 0, -days)

		result, err := svc.Filed(c.Request.Context(), since, limit)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"reports": result})
	}
}

// Monitoring dashboard handlers

func queueStatsHandler(streamClient *queue.RedisStreamClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := streamClient.GetStreamInfo(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		pending, err := streamClient.GetPendingCount(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"stream_length":   info.Length,
			"pending":         pending,
			"consumer_groups": info.Groups,
		})
	}
}

func recentAlertsHandler(cacheClient *queue.CacheClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := getIntParam(c, "limit", 50)

		raw, err := cacheClient.LRange(c.Request.Context(), queue.RecentAlertsKey, 0, int64(limit)-1)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		alerts := make([]*models.Alert, 0, len(raw))
		for _, item := range raw {
			var alert models.Alert
			if err := json.Unmarshal([]byte(item), &alert); err != nil {
				continue
			}
			alerts = append(alerts, &alert)
		}

		c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
	}
}

func pipelineStatsHandler(cacheClient *queue.CacheClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		day := c.Query("date")
		if day == "" {
			day = time.Now().UTC().Format("20060102")
		}

		counters, err := cacheClient.HGetAll(c.Request.Context(), queue.PipelineStatsKey(day))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"date": day, "counters": counters})
	}
}

// Audit / forensics handlers

func auditSearchHandler(svc *forensics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := repositories.AuditSearchFilter{
			EventCategory:  c.Query("category"),
			EventType:      c.Query("event_type"),
			Action:         c.Query("action"),
			UserEmail:      c.Query("user_email"),
			ResourceType:   c.Query("resource_type"),
			ResourceID:     c.Query("resource_id"),
			SuspiciousOnly: c.Query("suspicious") == "true",
			Limit:          getIntParam(c, "limit", 100),
		}
		filter.From = parseDateParam(c, "from")
		filter.To = parseDateParam(c, "to")

		result, err := svc.Search(c.Request.Context(), actorFromContext(c), filter)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"entries": result, "count": len(result)})
	}
}

func complianceTrailHandler(svc *forensics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		resourceType := c.Param("resource_type")
		resourceID := c.Param("resource_id")

		trail, err := svc.ComplianceTrail(c.Request.Context(), actorFromContext(c), resourceType, resourceID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"trail": trail})
	}
}

func userActivityHandler(svc *forensics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		email := c.Param("email")
		days := getIntParam(c, "days", 30)

		stats, err := svc.UserActivity(c.Request.Context(), actorFromContext(c), email, days)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, stats)
	}
}

func systemReportHandler(svc *forensics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := getIntParam(c, "days", 7)

		report, err := svc.SystemReport(c.Request.Context(), actorFromContext(c), days)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, report)
	}
}

func suspiciousPatternsHandler(svc *forensics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := getIntParam(c, "days", 7)

		report, err := svc.SuspiciousPatterns(c.Request.Context(), actorFromContext(c), days)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, report)
	}
}

func auditExportHandler(svc *forensics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		from := parseDateParam(c, "from")
		to := parseDateParam(c, "to")
		if from == nil || to == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from and to dates are required (YYYY-MM-DD)"})
			return
		}
		category := c.Query("category")

		entries, err := svc.Export(c.Request.Context(), actorFromContext(c), *from, *to, category)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
	}
}

// Helper functions

func actorFromContext(c *gin.Context) audit.Actor {
	actor := audit.Actor{Email: c.GetString(auth.UserEmailKey)}
	if id, ok := auth.GetUserIDFromContext(c); ok {
		actor.ID = id.String()
	}
	if role, ok := auth.GetUserRoleFromContext(c); ok {
		actor.Role = role
	}
	return actor
}

func requestMeta(c *gin.Context) audit.RequestMeta {
	return audit.RequestMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		RequestID: c.GetString("request_id"),
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, repositories.ErrRuleNotFound),
		errors.Is(err, repositories.ErrCustomerNotFound),
		errors.Is(err, repositories.ErrTransactionNotFound),
		errors.Is(err, repositories.ErrAlertNotFound),
		errors.Is(err, repositories.ErrCaseNotFound),
		errors.Is(err, repositories.ErrReportNotFound):
		return http.StatusNotFound
	case errors.Is(err, repositories.ErrStaleWrite),
		errors.Is(err, repositories.ErrDuplicateRuleCode),
		errors.Is(err, repositories.ErrDuplicateCustomer),
		errors.Is(err, repositories.ErrDuplicateTransaction),
		errors.Is(err, reporting.ErrNotApproved):
		return http.StatusConflict
	case errors.Is(err, rules.ErrRuleNotTested),
		errors.Is(err, rules.ErrRuleAlreadyActive),
		errors.Is(err, rules.ErrRuleNotActive),
		errors.Is(err, cases.ErrNoAlerts),
		errors.Is(err, cases.ErrAlertsMissing),
		errors.Is(err, reporting.ErrNoEligibleTransactions):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func getIntParam(c *gin.Context, key string, defaultValue int) int {
	if val := c.Query(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil && result > 0 {
			return result
		}
	}
	return defaultValue
}

func parseDateParam(c *gin.Context, key string) *time.Time {
	val := c.Query(key)
	if val == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", val)
	if err != nil {
		return nil
	}
	return &t
}

func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
