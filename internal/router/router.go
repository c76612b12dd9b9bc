package router

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"credit-backend/internal/handlers"
	"credit-backend/internal/metrics"
	"credit-backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Dependencies everything the HTTP surface needs
type Dependencies struct {
	Ledger          handlers.LedgerService
	Withdrawals     handlers.WithdrawalService
	Gateways        map[uint64]handlers.CacheStatsProvider
	Syncer          handlers.ChainSyncer
	HealthChecks    map[string]handlers.HealthCheck
	Auth            *middleware.AuthMiddleware
	AllowedOrigins  []string
	AdminAllowedIPs []string
	Logger          *logrus.Logger
}

// corsMiddleware CORS middleware. An empty list or a single "*" allows every origin.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.TrimSpace(origin)] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if _, ok := allowed[origin]; ok && origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, Accept")
		c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Type")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// metricsMiddleware records request counts and latency per route template
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.APIRequestsTotal.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// SetupRouter builds the gin engine
func SetupRouter(deps Dependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	r := gin.New()
	r.Use(gin.Recovery(), corsMiddleware(deps.AllowedOrigins), metricsMiddleware())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	// ============ Health Check ============
	r.GET("/health", handlers.HealthCheckHandler(deps.HealthChecks))

	// ============ Prometheus Metrics ============
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ledgerHandler := handlers.NewLedgerHandler(deps.Ledger, logger)
	withdrawalHandler := handlers.NewWithdrawalHandler(deps.Withdrawals, logger)

	// ============ API Routes ============
	api := r.Group("/api/v1")
	api.Use(deps.Auth.RequireAuth())
	{
		wallets := api.Group("/wallets/:address")
		wallets.GET("/balance", ledgerHandler.GetBalanceHandler)
		wallets.GET("/deposits", ledgerHandler.ListDepositsHandler)
		wallets.POST("/deductions", ledgerHandler.DeductPointsHandler)
		wallets.POST("/credits", ledgerHandler.AddCreditsHandler)

		api.GET("/deductions/:id", ledgerHandler.GetDeductionHandler)

		api.POST("/withdrawals", withdrawalHandler.InitiateWithdrawalHandler)
		api.GET("/withdrawals", withdrawalHandler.ListWithdrawalsHandler)
		api.GET("/withdrawals/:txHash", withdrawalHandler.GetWithdrawalHandler)
		api.POST("/withdrawals/:txHash/status", deps.Auth.RequireScope("executor"), withdrawalHandler.CompleteWithdrawalHandler)

		api.GET("/chain/:chainId/abi-cache", handlers.ABICacheStatsHandler(deps.Gateways))
	}

	// ============ Admin Routes (whitelisted IPs + admin scope) ============
	localhostOnly := middleware.NewLocalhostOnly(logger, deps.AdminAllowedIPs)
	admin := r.Group("/admin", localhostOnly.Restrict(), deps.Auth.RequireAuth(), deps.Auth.RequireScope("admin"))
	admin.POST("/chain/sync", handlers.ManualSyncHandler(deps.Syncer, logger))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"code":    "NOT_FOUND",
			"message": "API endpoint not found",
			"path":    c.Request.URL.Path,
		})
	})

	return r
}
